// Package engine is the coordination core: materialization, transactional
// checkout/submit, failure reporting, heartbeats, BETA decomposition, and
// the admin surface. Every public operation runs in exactly one storage
// transaction; the engine is the only writer of ACTIVE.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/events"
	"github.com/Mindburn-Labs/windlass/pkg/guard"
	"github.com/Mindburn-Labs/windlass/pkg/observability"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Engine coordinates all UOW mutations.
type Engine struct {
	store   store.Store
	guards  *guard.Engine
	emitter *events.Emitter
	obs     *observability.Provider
	log     *slog.Logger
	clock   func() time.Time

	highRisk        map[contracts.UOWStatus]bool
	deadFails       bool
	maxInteractions int
}

// New wires an engine. logger nil means slog.Default(). High-risk statuses
// default to {COMPLETED, FAILED}.
func New(st store.Store, guards *guard.Engine, emitter *events.Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		guards:  guards,
		emitter: emitter,
		log:     logger.With("component", "engine"),
		clock:   time.Now,
		highRisk: map[contracts.UOWStatus]bool{
			contracts.StatusCompleted: true,
			contracts.StatusFailed:    true,
		},
		maxInteractions: 100,
	}
}

// WithClock swaps the time source; used by tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithObservability attaches a telemetry provider.
func (e *Engine) WithObservability(p *observability.Provider) *Engine {
	e.obs = p
	return e
}

// WithHighRisk replaces the park-and-notify interception set.
func (e *Engine) WithHighRisk(statuses ...contracts.UOWStatus) *Engine {
	e.highRisk = make(map[contracts.UOWStatus]bool, len(statuses))
	for _, s := range statuses {
		e.highRisk[s] = true
	}
	return e
}

// WithDeadFails sends hard-zombied UOWs to FAILED instead of PENDING.
func (e *Engine) WithDeadFails(v bool) *Engine {
	e.deadFails = v
	return e
}

// WithMaxInteractions sets the default routing budget for new UOWs.
func (e *Engine) WithMaxInteractions(n int) *Engine {
	if n > 0 {
		e.maxInteractions = n
	}
	return e
}

// Store exposes the backing store for callers that need read access
// (CLI verify, pilot surface construction).
func (e *Engine) Store() store.Store { return e.store }

// DeadFails reports the hard-zombie disposition policy.
func (e *Engine) DeadFails() bool { return e.deadFails }

// inTx runs fn in one transaction, committing on nil error.
func (e *Engine) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// track opens a span around one public operation when telemetry is on.
func (e *Engine) track(ctx context.Context, name string) (context.Context, func(error)) {
	if e.obs == nil {
		return ctx, func(error) {}
	}
	return e.obs.TrackOperation(ctx, name)
}

// emit publishes an event when an emitter is configured.
func (e *Engine) emit(ctx context.Context, eventType, uowID, instanceID string, payload map[string]any) {
	if e.emitter != nil {
		e.emitter.Emit(ctx, eventType, uowID, instanceID, payload)
	}
}

// metaJSON encodes history metadata, falling back to {} on bad input.
func metaJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// metaField reads one string field out of a history row's metadata.
func metaField(row *contracts.HistoryRow, key string) string {
	if row == nil || row.Metadata == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(row.Metadata), &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// roleAllows reports whether an actor's class may hold leases of the role.
func roleAllows(r *contracts.Role, actorClass string) bool {
	if len(r.ActorClasses) == 0 {
		return true
	}
	for _, c := range r.ActorClasses {
		if c == actorClass {
			return true
		}
	}
	return false
}
