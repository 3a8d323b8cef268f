package template

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/dsl"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Importer validates and persists template files.
type Importer struct {
	store    store.Store
	registry *dsl.Registry
	log      *slog.Logger
	clock    func() time.Time
}

// NewImporter wires an importer; logger nil means slog.Default(), registry
// nil means the builtin function set.
func NewImporter(st store.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:    st,
		registry: dsl.NewRegistry(),
		log:      logger.With("component", "template"),
		clock:    time.Now,
	}
}

// WithClock swaps the time source; used by tests.
func (imp *Importer) WithClock(clock func() time.Time) *Importer {
	imp.clock = clock
	return imp
}

// WithRegistry sets the function registry conditions are validated against.
func (imp *Importer) WithRegistry(r *dsl.Registry) *Importer {
	imp.registry = r
	return imp
}

// ImportFile imports a template from a YAML file on disk.
func (imp *Importer) ImportFile(ctx context.Context, path string) (*contracts.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return imp.Import(ctx, f)
}

// Import decodes, validates, and persists one template. All rows land in a
// single transaction: a failed article check persists nothing.
func (imp *Importer) Import(ctx context.Context, r io.Reader) (*contracts.Template, error) {
	def, err := Parse(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(def, imp.registry); err != nil {
		return nil, err
	}

	w := &def.Workflow
	now := imp.clock().UTC()
	tpl := &contracts.Template{
		ID:          uuid.NewString(),
		Name:        w.Name,
		Version:     w.Version,
		Description: w.Description,
		AIContext:   w.AIContext,
		CreatedAt:   now,
	}

	tx, err := imp.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.InsertTemplate(ctx, tpl); err != nil {
		return nil, err
	}

	roleIDs := make(map[string]string, len(w.Roles))
	for _, r := range w.Roles {
		id := uuid.NewString()
		roleIDs[r.Name] = id
		if err := tx.InsertRole(ctx, &contracts.Role{
			ID:           id,
			TemplateID:   tpl.ID,
			Name:         r.Name,
			Kind:         contracts.RoleKind(r.Kind),
			Strategy:     contracts.DecompositionStrategy(r.Strategy),
			ActorClasses: r.ActorClasses,
		}); err != nil {
			return nil, err
		}
	}

	interactionIDs := make(map[string]string, len(w.Interactions))
	for _, it := range w.Interactions {
		id := uuid.NewString()
		interactionIDs[it.Name] = id
		if err := tx.InsertInteraction(ctx, &contracts.Interaction{
			ID:          id,
			TemplateID:  tpl.ID,
			Name:        it.Name,
			Description: it.Description,
		}); err != nil {
			return nil, err
		}
	}

	for _, c := range w.Components {
		comp := &contracts.Component{
			ID:            uuid.NewString(),
			TemplateID:    tpl.ID,
			Name:          c.Name,
			RoleID:        roleIDs[c.Role],
			InteractionID: interactionIDs[c.Interaction],
			Direction:     contracts.Direction(c.Direction),
		}
		if c.Guardian != nil {
			policy, err := guardianPolicy(c.Name, c.Guardian)
			if err != nil {
				return nil, err
			}
			g := &contracts.Guard{
				ID:          uuid.NewString(),
				TemplateID:  tpl.ID,
				ComponentID: comp.ID,
				Type:        contracts.GuardType(c.Guardian.Type),
				Policy:      policy,
			}
			comp.GuardID = g.ID
			if err := tx.InsertComponent(ctx, comp); err != nil {
				return nil, err
			}
			if err := tx.InsertGuard(ctx, g); err != nil {
				return nil, err
			}
			continue
		}
		if err := tx.InsertComponent(ctx, comp); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("template import commit: %w", err)
	}
	imp.log.InfoContext(ctx, "template imported",
		"template_id", tpl.ID, "name", tpl.Name, "version", tpl.Version)
	return tpl, nil
}
