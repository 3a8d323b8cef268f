// Package pilot is the human intervention surface: kill-switch,
// clarification, constitutional waiver, resume, cancel. Pilot actions are
// fully audited, gated by the state machine, and never move the routing
// counter.
package pilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/events"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/lifecycle"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Surface executes pilot interventions against the store.
type Surface struct {
	store   store.Store
	emitter *events.Emitter
	log     *slog.Logger
	clock   func() time.Time
}

// New wires a pilot surface; logger nil means slog.Default().
func New(st store.Store, emitter *events.Emitter, logger *slog.Logger) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		store:   st,
		emitter: emitter,
		log:     logger.With("component", "pilot"),
		clock:   time.Now,
	}
}

// WithClock swaps the time source; used by tests.
func (s *Surface) WithClock(clock func() time.Time) *Surface {
	s.clock = clock
	return s
}

func (s *Surface) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Surface) emit(ctx context.Context, eventType, uowID, instanceID string, payload map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(ctx, eventType, uowID, instanceID, payload)
	}
}

func metaJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil || len(m) == 0 {
		return "{}"
	}
	return string(b)
}

// lastEvent finds the most recent history row with the given event type.
func lastEvent(rows []*contracts.HistoryRow, eventType string) *contracts.HistoryRow {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].EventType == eventType {
			return rows[i]
		}
	}
	return nil
}

func metaField(row *contracts.HistoryRow, key string) string {
	if row == nil || row.Metadata == "" {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(row.Metadata), &m); err != nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

// KillSwitch pauses every ACTIVE UOW of an instance and returns how many
// were paused. Each UOW's prior lease holder is preserved in the history
// metadata so a later waiver can restore it.
func (s *Surface) KillSwitch(ctx context.Context, instanceID, pilotID, reason string) (int, error) {
	paused := 0
	err := s.inTx(ctx, func(tx store.Tx) error {
		now := s.clock().UTC()
		active, err := tx.ActiveUOWs(ctx, instanceID)
		if err != nil {
			return err
		}
		for _, candidate := range active {
			u, err := tx.GetUOWForUpdate(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if u.Status != contracts.StatusActive {
				continue
			}
			priorLease := u.LeaseActorID
			if err := lifecycle.Transition(u, contracts.StatusPaused, now); err != nil {
				return err
			}
			if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
				From:      contracts.StatusActive,
				To:        contracts.StatusPaused,
				ActorID:   pilotID,
				EventType: contracts.HistoryEventKillSwitch,
				Reason:    reason,
				Metadata:  metaJSON(map[string]any{"lease_actor_id": priorLease}),
			}, now); err != nil {
				return err
			}
			if err := tx.UpdateUOW(ctx, u); err != nil {
				return err
			}
			s.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
				"from": string(contracts.StatusActive), "to": string(contracts.StatusPaused), "reason": reason,
			})
			paused++
		}
		s.log.WarnContext(ctx, "kill switch engaged",
			"instance_id", instanceID, "pilot_id", pilotID, "paused", paused)
		return nil
	})
	return paused, err
}

// Clarify unwedges a ZOMBIED_SOFT UOW: the clarification text becomes a
// global attribute authored by the pilot and the UOW returns to ACTIVE
// under the pilot's lease. The routing counter does not move.
func (s *Surface) Clarify(ctx context.Context, uowID, pilotID, text string) error {
	if text == "" {
		return fmt.Errorf("%w: clarification text required", contracts.ErrValidation)
	}
	return s.inTx(ctx, func(tx store.Tx) error {
		now := s.clock().UTC()
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusZombiedSoft {
			return fmt.Errorf("%w: clarify requires ZOMBIED_SOFT, uow %s is %s", contracts.ErrIllegalTransition, u.ID, u.Status)
		}
		raw, err := json.Marshal(text)
		if err != nil {
			return err
		}
		if err := tx.InsertAttribute(ctx, &contracts.Attribute{
			UOWID:         u.ID,
			Key:           "clarification",
			Value:         string(raw),
			AuthorActorID: pilotID,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if err := lifecycle.GrantLease(u, pilotID, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusZombiedSoft,
			To:        contracts.StatusActive,
			ActorID:   pilotID,
			EventType: contracts.HistoryEventClarified,
		}, now); err != nil {
			return err
		}
		return tx.UpdateUOW(ctx, u)
	})
}

// Waive lifts a kill-switch pause under a named constitutional rule. The
// reason is mandatory and persisted verbatim; the lease returns to the
// actor who held it when the pause hit, or to the pilot if unknown.
func (s *Surface) Waive(ctx context.Context, uowID, pilotID, ruleID, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: waiver reason must be non-empty", contracts.ErrValidation)
	}
	return s.inTx(ctx, func(tx store.Tx) error {
		now := s.clock().UTC()
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusPaused {
			return fmt.Errorf("%w: waive requires PAUSED, uow %s is %s", contracts.ErrIllegalTransition, u.ID, u.Status)
		}
		rows, err := tx.History(ctx, u.ID)
		if err != nil {
			return err
		}
		leaseTo := metaField(lastEvent(rows, contracts.HistoryEventKillSwitch), "lease_actor_id")
		if leaseTo == "" {
			leaseTo = pilotID
		}
		if err := lifecycle.GrantLease(u, leaseTo, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusPaused,
			To:        contracts.StatusActive,
			ActorID:   pilotID,
			EventType: contracts.HistoryEventWaived,
			Reason:    reason,
			Metadata:  metaJSON(map[string]any{"rule_id": ruleID}),
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		s.emit(ctx, contracts.EventConstitutionalWaiver, u.ID, u.InstanceID, map[string]any{
			"rule_id": ruleID, "reason": reason, "pilot_id": pilotID,
		})
		return nil
	})
}

// Resume approves a parked high-risk transition: the UOW returns to ACTIVE
// with the lease restored to the actor whose submit was intercepted. That
// actor's next submit is pre-approved and will not re-park.
func (s *Surface) Resume(ctx context.Context, uowID, pilotID string) error {
	return s.inTx(ctx, func(tx store.Tx) error {
		now := s.clock().UTC()
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusPendingPilotApproval {
			return fmt.Errorf("%w: resume requires PENDING_PILOT_APPROVAL, uow %s is %s", contracts.ErrIllegalTransition, u.ID, u.Status)
		}
		rows, err := tx.History(ctx, u.ID)
		if err != nil {
			return err
		}
		parked := lastEvent(rows, contracts.HistoryEventParked)
		leaseTo := metaField(parked, "original_actor")
		if leaseTo == "" {
			leaseTo = pilotID
		}
		if err := lifecycle.GrantLease(u, leaseTo, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusPendingPilotApproval,
			To:        contracts.StatusActive,
			ActorID:   pilotID,
			EventType: contracts.HistoryEventResumed,
			Metadata: metaJSON(map[string]any{
				"original_target": metaField(parked, "original_target"),
				"lease_actor_id":  leaseTo,
			}),
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		s.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
			"from": string(contracts.StatusPendingPilotApproval), "to": string(contracts.StatusActive),
		})
		return nil
	})
}

// Cancel rejects a parked transition: the UOW fails with the pilot's
// reason on record.
func (s *Surface) Cancel(ctx context.Context, uowID, pilotID, reason string) error {
	return s.inTx(ctx, func(tx store.Tx) error {
		now := s.clock().UTC()
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusPendingPilotApproval {
			return fmt.Errorf("%w: cancel requires PENDING_PILOT_APPROVAL, uow %s is %s", contracts.ErrIllegalTransition, u.ID, u.Status)
		}
		if err := lifecycle.Transition(u, contracts.StatusFailed, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusPendingPilotApproval,
			To:        contracts.StatusFailed,
			ActorID:   pilotID,
			EventType: contracts.HistoryEventCancelled,
			Reason:    reason,
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		if u.ParentID != "" {
			parent, err := tx.GetUOWForUpdate(ctx, u.ParentID)
			if err != nil {
				return err
			}
			parent.FinishedChildCount++
			parent.UpdatedAt = now
			if err := tx.UpdateUOW(ctx, parent); err != nil {
				return err
			}
		}
		s.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
			"from": string(contracts.StatusPendingPilotApproval), "to": string(contracts.StatusFailed), "reason": reason,
		})
		return nil
	})
}
