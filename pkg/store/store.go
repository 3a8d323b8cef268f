// Package store is the persistence layer: a driver-agnostic transaction
// contract over the relational schema, with a pure-Go sqlite driver as the
// default backend and postgres recognized by DSN.
//
// All engine mutations run inside a single Tx. uow_history is append-only
// at the driver level: triggers abort any UPDATE or DELETE.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // sqlite driver

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// Store opens transactions against the schema.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one storage transaction. Every public engine operation maps to
// exactly one Tx; partial state is never observable.
type Tx interface {
	Commit() error
	Rollback() error

	// Blueprint entities (template- or instance-scoped).
	InsertTemplate(ctx context.Context, t *contracts.Template) error
	GetTemplate(ctx context.Context, id string) (*contracts.Template, error)
	InsertRole(ctx context.Context, r *contracts.Role) error
	InsertInteraction(ctx context.Context, i *contracts.Interaction) error
	InsertComponent(ctx context.Context, c *contracts.Component) error
	InsertGuard(ctx context.Context, g *contracts.Guard) error

	TemplateRoles(ctx context.Context, templateID string) ([]*contracts.Role, error)
	TemplateInteractions(ctx context.Context, templateID string) ([]*contracts.Interaction, error)
	TemplateComponents(ctx context.Context, templateID string) ([]*contracts.Component, error)
	TemplateGuards(ctx context.Context, templateID string) ([]*contracts.Guard, error)

	InsertInstance(ctx context.Context, inst *contracts.Instance) error
	GetInstance(ctx context.Context, id string) (*contracts.Instance, error)
	GetRole(ctx context.Context, id string) (*contracts.Role, error)
	InstanceRoles(ctx context.Context, instanceID string) ([]*contracts.Role, error)
	InstanceInteractions(ctx context.Context, instanceID string) ([]*contracts.Interaction, error)
	InteractionByName(ctx context.Context, instanceID, name string) (*contracts.Interaction, error)
	GetInteraction(ctx context.Context, id string) (*contracts.Interaction, error)
	InstanceComponents(ctx context.Context, instanceID string) ([]*contracts.Component, error)
	RoleComponents(ctx context.Context, roleID string, dir contracts.Direction) ([]*contracts.Component, error)
	InteractionComponents(ctx context.Context, interactionID string, dir contracts.Direction) ([]*contracts.Component, error)
	GetGuard(ctx context.Context, id string) (*contracts.Guard, error)

	InsertActor(ctx context.Context, a *contracts.Actor) error
	GetActor(ctx context.Context, id string) (*contracts.Actor, error)

	// UOW rows. GetUOWForUpdate acquires the row exclusively for the
	// duration of the transaction (SELECT ... FOR UPDATE semantics).
	InsertUOW(ctx context.Context, u *contracts.UOW) error
	GetUOW(ctx context.Context, id string) (*contracts.UOW, error)
	GetUOWForUpdate(ctx context.Context, id string) (*contracts.UOW, error)
	UpdateUOW(ctx context.Context, u *contracts.UOW) error
	// PendingUOWs returns PENDING rows sitting in any of the interactions,
	// ordered by (priority DESC, created_at ASC, uow_id ASC).
	PendingUOWs(ctx context.Context, interactionIDs []string) ([]*contracts.UOW, error)
	ActiveUOWs(ctx context.Context, instanceID string) ([]*contracts.UOW, error)
	ActiveHeartbeatBefore(ctx context.Context, cutoff time.Time) ([]*contracts.UOW, error)
	// SoftZombiesBefore returns ZOMBIED_SOFT rows whose updated_at is older
	// than the cutoff; zombied rows carry no heartbeat.
	SoftZombiesBefore(ctx context.Context, cutoff time.Time) ([]*contracts.UOW, error)
	Children(ctx context.Context, parentID string) ([]*contracts.UOW, error)

	// Attributes are insert-only; InsertAttribute allocates version
	// max(existing)+1 and fills it in on the passed row.
	InsertAttribute(ctx context.Context, a *contracts.Attribute) error
	Attributes(ctx context.Context, uowID string) ([]*contracts.Attribute, error)
	// DeleteSupersededAttributesBefore removes attribute versions that are
	// shadowed by a newer version of the same (uow, key, owner) and older
	// than the cutoff. History rows are never touched.
	DeleteSupersededAttributesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// History is append-only; the driver refuses UPDATE and DELETE.
	InsertHistory(ctx context.Context, row *contracts.HistoryRow) error
	LastHistory(ctx context.Context, uowID string) (*contracts.HistoryRow, error)
	History(ctx context.Context, uowID string) ([]*contracts.HistoryRow, error)
}

// Open connects to the backend selected by the DSN: "postgres://..." uses
// lib/pq, anything else is treated as a sqlite path (":memory:" works).
func Open(dsn string) (Store, error) {
	driver := "sqlite"
	dialect := dialectSQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
		dialect = dialectPostgres
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if dialect == dialectSQLite {
		// The engine serializes writers; a single connection keeps sqlite's
		// transaction semantics equivalent to a row lock.
		db.SetMaxOpenConns(1)
	}
	s := &sqlStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an existing *sql.DB (used by tests and by deployments that
// manage their own pool). The sqlite dialect is assumed unless told
// otherwise.
func OpenDB(db *sql.DB, postgres bool) (Store, error) {
	dialect := dialectSQLite
	if postgres {
		dialect = dialectPostgres
	}
	s := &sqlStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}
