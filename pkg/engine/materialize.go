package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Instantiate clones a template into a fresh instance — roles,
// interactions, components and guards get new instance-scoped ids — and
// seeds the initial ALPHA UOW with the caller's context attributes, all
// global, placed on the ALPHA role's OUTBOUND interaction.
func (e *Engine) Instantiate(ctx context.Context, templateID, name string, initialContext map[string]any) (string, error) {
	ctx, done := e.track(ctx, "engine.instantiate")
	var instanceID string
	err := e.inTx(ctx, func(tx store.Tx) error {
		id, err := e.materialize(ctx, tx, templateID, name, initialContext)
		instanceID = id
		return err
	})
	done(err)
	return instanceID, err
}

func (e *Engine) materialize(ctx context.Context, tx store.Tx, templateID, name string, initialContext map[string]any) (string, error) {
	now := e.clock().UTC()

	tpl, err := tx.GetTemplate(ctx, templateID)
	if err != nil {
		return "", err
	}
	inst := &contracts.Instance{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		Name:       name,
		CreatedAt:  now,
	}
	if err := tx.InsertInstance(ctx, inst); err != nil {
		return "", err
	}

	roles, err := tx.TemplateRoles(ctx, templateID)
	if err != nil {
		return "", err
	}
	interactions, err := tx.TemplateInteractions(ctx, templateID)
	if err != nil {
		return "", err
	}
	components, err := tx.TemplateComponents(ctx, templateID)
	if err != nil {
		return "", err
	}
	guards, err := tx.TemplateGuards(ctx, templateID)
	if err != nil {
		return "", err
	}

	roleIDs := make(map[string]string, len(roles))
	var alpha *contracts.Role
	for _, r := range roles {
		clone := *r
		clone.ID = uuid.NewString()
		clone.TemplateID = ""
		clone.InstanceID = inst.ID
		roleIDs[r.ID] = clone.ID
		if err := tx.InsertRole(ctx, &clone); err != nil {
			return "", err
		}
		if clone.Kind == contracts.RoleAlpha {
			alpha = &clone
		}
	}
	if alpha == nil {
		return "", fmt.Errorf("%w: template %s has no ALPHA role", contracts.ErrValidation, templateID)
	}

	interactionIDs := make(map[string]string, len(interactions))
	for _, i := range interactions {
		clone := *i
		clone.ID = uuid.NewString()
		clone.TemplateID = ""
		clone.InstanceID = inst.ID
		interactionIDs[i.ID] = clone.ID
		if err := tx.InsertInteraction(ctx, &clone); err != nil {
			return "", err
		}
	}

	componentIDs := make(map[string]string, len(components))
	guardIDs := make(map[string]string, len(guards))
	for _, g := range guards {
		guardIDs[g.ID] = uuid.NewString()
	}
	var seedInteractionID string
	for _, c := range components {
		clone := *c
		clone.ID = uuid.NewString()
		clone.TemplateID = ""
		clone.InstanceID = inst.ID
		clone.RoleID = roleIDs[c.RoleID]
		clone.InteractionID = interactionIDs[c.InteractionID]
		if c.GuardID != "" {
			clone.GuardID = guardIDs[c.GuardID]
		}
		componentIDs[c.ID] = clone.ID
		if err := tx.InsertComponent(ctx, &clone); err != nil {
			return "", err
		}
		if clone.RoleID == alpha.ID && clone.Direction == contracts.DirectionOutbound && seedInteractionID == "" {
			seedInteractionID = clone.InteractionID
		}
	}
	if seedInteractionID == "" {
		return "", fmt.Errorf("%w: ALPHA role has no OUTBOUND interaction", contracts.ErrValidation)
	}

	for _, g := range guards {
		clone := *g
		clone.ID = guardIDs[g.ID]
		clone.TemplateID = ""
		clone.InstanceID = inst.ID
		clone.ComponentID = componentIDs[g.ComponentID]
		remapped := make([]string, 0, len(g.Children))
		for _, child := range g.Children {
			if mapped, ok := guardIDs[child]; ok {
				remapped = append(remapped, mapped)
			}
		}
		clone.Children = remapped
		if err := tx.InsertGuard(ctx, &clone); err != nil {
			return "", err
		}
	}

	seed := &contracts.UOW{
		ID:                   uuid.NewString(),
		InstanceID:           inst.ID,
		Status:               contracts.StatusPending,
		MaxInteractions:      e.maxInteractions,
		CurrentInteractionID: seedInteractionID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := tx.InsertUOW(ctx, seed); err != nil {
		return "", err
	}
	for key, value := range initialContext {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", fmt.Errorf("%w: initial context %q: %v", contracts.ErrValidation, key, err)
		}
		if err := tx.InsertAttribute(ctx, &contracts.Attribute{
			UOWID:         seed.ID,
			Key:           key,
			Value:         string(raw),
			AuthorActorID: contracts.SystemActorID,
			CreatedAt:     now,
		}); err != nil {
			return "", err
		}
	}
	if _, err := ledger.Append(ctx, tx, seed, ledger.Entry{
		From:      contracts.StatusPending,
		To:        contracts.StatusPending,
		ActorID:   contracts.SystemActorID,
		EventType: contracts.HistoryEventCreated,
	}, now); err != nil {
		return "", err
	}
	if err := tx.UpdateUOW(ctx, seed); err != nil {
		return "", err
	}

	e.log.InfoContext(ctx, "instance materialized",
		"instance_id", inst.ID, "template_id", templateID, "seed_uow", seed.ID)
	return inst.ID, nil
}

// RegisterActor records an actor principal and its class.
func (e *Engine) RegisterActor(ctx context.Context, actorID, class string) error {
	return e.inTx(ctx, func(tx store.Tx) error {
		return tx.InsertActor(ctx, &contracts.Actor{
			ID:        actorID,
			Class:     class,
			CreatedAt: e.clock().UTC(),
		})
	})
}
