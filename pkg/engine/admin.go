package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// MarkToxic flags an attribute key on a UOW as poisoned: a reserved
// "toxic.<key>" global attribute records the verdict and routing can
// branch on it from then on. The UOW's status is untouched.
func (e *Engine) MarkToxic(ctx context.Context, uowID, attrKey, reason string) error {
	ctx, done := e.track(ctx, "engine.mark_toxic")
	err := e.inTx(ctx, func(tx store.Tx) error {
		now := e.clock().UTC()
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(reason)
		if err != nil {
			return err
		}
		if err := tx.InsertAttribute(ctx, &contracts.Attribute{
			UOWID:         u.ID,
			Key:           "toxic." + attrKey,
			Value:         string(raw),
			AuthorActorID: contracts.SystemActorID,
			Reasoning:     reason,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      u.Status,
			To:        u.Status,
			ActorID:   contracts.SystemActorID,
			EventType: contracts.HistoryEventToxicMark,
			Reason:    reason,
			Metadata:  metaJSON(map[string]any{"attr_key": attrKey}),
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		e.emit(ctx, contracts.EventToxicMarked, u.ID, u.InstanceID, map[string]any{
			"attr_key": attrKey, "reason": reason,
		})
		return nil
	})
	done(err)
	return err
}

// DecayReport summarizes what a memory-decay run removed.
type DecayReport struct {
	AttributesDeleted int64 `json:"attributes_deleted"`
}

// MemoryDecay deletes superseded attribute versions older than the
// retention window. History rows are never touched; the audit chain stays
// replayable because each history row carries its attribute digest.
func (e *Engine) MemoryDecay(ctx context.Context, retention time.Duration) (DecayReport, error) {
	ctx, done := e.track(ctx, "engine.memory_decay")
	var report DecayReport
	err := e.inTx(ctx, func(tx store.Tx) error {
		cutoff := e.clock().UTC().Add(-retention)
		n, err := tx.DeleteSupersededAttributesBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		report.AttributesDeleted = n
		e.log.InfoContext(ctx, "memory decay", "attributes_deleted", n, "cutoff", cutoff)
		return nil
	})
	done(err)
	return report, err
}

// VerifyChain replays one UOW's history chain from the empty seed.
func (e *Engine) VerifyChain(ctx context.Context, uowID string) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return ledger.VerifyUOW(ctx, tx, uowID)
}
