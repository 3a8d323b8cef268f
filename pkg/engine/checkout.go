package engine

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/windlass/pkg/attrs"
	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/lifecycle"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Work is a leased UOW plus the attribute view visible to the lease holder.
type Work struct {
	UOW        *contracts.UOW
	Attributes map[string]any
}

// Checkout leases the next eligible PENDING UOW sitting in any interaction
// the role consumes. No eligible work returns (nil, nil). A candidate whose
// interaction budget is exhausted is zombied (ambiguity lock) and the call
// still returns no work — exhausted tokens are surfaced, never skipped.
func (e *Engine) Checkout(ctx context.Context, actorID, roleID string) (*Work, error) {
	ctx, done := e.track(ctx, "engine.checkout")
	var work *Work
	err := e.inTx(ctx, func(tx store.Tx) error {
		w, err := e.checkout(ctx, tx, actorID, roleID)
		work = w
		return err
	})
	done(err)
	return work, err
}

func (e *Engine) checkout(ctx context.Context, tx store.Tx, actorID, roleID string) (*Work, error) {
	now := e.clock().UTC()

	actor, err := tx.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !roleAllows(role, actor.Class) {
		return nil, fmt.Errorf("%w: actor class %q may not hold role %q", contracts.ErrValidation, actor.Class, role.Name)
	}

	inbound, err := tx.RoleComponents(ctx, roleID, contracts.DirectionInbound)
	if err != nil {
		return nil, err
	}
	interactionIDs := make([]string, 0, len(inbound))
	for _, c := range inbound {
		interactionIDs = append(interactionIDs, c.InteractionID)
	}
	candidates, err := tx.PendingUOWs(ctx, interactionIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	u, err := tx.GetUOWForUpdate(ctx, candidates[0].ID)
	if err != nil {
		return nil, err
	}
	if u.Status != contracts.StatusPending {
		// Lost the race; the caller retries.
		return nil, nil
	}

	if u.InteractionCount >= u.MaxInteractions {
		if err := lifecycle.Transition(u, contracts.StatusZombiedSoft, now); err != nil {
			return nil, err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      contracts.StatusPending,
			To:        contracts.StatusZombiedSoft,
			ActorID:   contracts.SystemActorID,
			EventType: contracts.HistoryEventAmbiguityLock,
			Reason:    fmt.Sprintf("interaction_count %d >= max %d", u.InteractionCount, u.MaxInteractions),
		}, now); err != nil {
			return nil, err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return nil, err
		}
		e.emit(ctx, contracts.EventAmbiguityLock, u.ID, u.InstanceID, map[string]any{
			"interaction_count": u.InteractionCount,
			"max_interactions":  u.MaxInteractions,
		})
		e.log.WarnContext(ctx, "ambiguity lock", "uow_id", u.ID, "interaction_count", u.InteractionCount)
		return nil, nil
	}

	if err := lifecycle.GrantLease(u, actorID, now); err != nil {
		return nil, err
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      contracts.StatusPending,
		To:        contracts.StatusActive,
		ActorID:   actorID,
		EventType: contracts.HistoryEventLeaseGranted,
	}, now); err != nil {
		return nil, err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return nil, err
	}

	rows, err := tx.Attributes(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	view, err := attrs.View(rows, actorID)
	if err != nil {
		return nil, err
	}

	if e.obs != nil {
		e.obs.RecordCheckout(ctx)
	}
	e.log.InfoContext(ctx, "work checked out", "uow_id", u.ID, "actor_id", actorID, "role_id", roleID)
	return &Work{UOW: u, Attributes: view}, nil
}

// Heartbeat refreshes the lease. It returns false ("stale") when the UOW is
// no longer ACTIVE under this actor; the actor must re-checkout.
func (e *Engine) Heartbeat(ctx context.Context, uowID, actorID string) (bool, error) {
	fresh := false
	err := e.inTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if u.Status != contracts.StatusActive || u.LeaseActorID != actorID {
			return nil
		}
		hb := e.clock().UTC()
		u.LastHeartbeat = &hb
		u.UpdatedAt = hb
		fresh = true
		return tx.UpdateUOW(ctx, u)
	})
	return fresh, err
}
