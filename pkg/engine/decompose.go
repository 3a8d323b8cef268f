package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Decompose fans a parent UOW out into n children. Children are born
// PENDING on the BETA role's outbound interaction and inherit only the
// parent's Global Blueprint attributes; Personal Playbooks never cross the
// generation line. The parent is locked first, then children in id order.
func (e *Engine) Decompose(ctx context.Context, parentUOWID, roleID string, n int) ([]string, error) {
	ctx, done := e.track(ctx, "engine.decompose")
	var childIDs []string
	err := e.inTx(ctx, func(tx store.Tx) error {
		ids, err := e.decompose(ctx, tx, parentUOWID, roleID, n)
		childIDs = ids
		return err
	})
	done(err)
	return childIDs, err
}

func (e *Engine) decompose(ctx context.Context, tx store.Tx, parentUOWID, roleID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: decompose count must be positive, got %d", contracts.ErrValidation, n)
	}
	now := e.clock().UTC()

	role, err := tx.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Kind != contracts.RoleBeta {
		return nil, fmt.Errorf("%w: role %q is %s, not BETA", contracts.ErrValidation, role.Name, role.Kind)
	}
	if role.Strategy == "" {
		return nil, fmt.Errorf("%w: BETA role %q has no decomposition strategy", contracts.ErrValidation, role.Name)
	}

	parent, err := tx.GetUOWForUpdate(ctx, parentUOWID)
	if err != nil {
		return nil, err
	}
	if parent.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot decompose terminal uow %s", contracts.ErrIllegalTransition, parent.ID)
	}

	outs, err := tx.RoleComponents(ctx, roleID, contracts.DirectionOutbound)
	if err != nil {
		return nil, err
	}
	childInteraction := parent.CurrentInteractionID
	if len(outs) > 0 {
		childInteraction = outs[0].InteractionID
	}

	parentRows, err := tx.Attributes(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	inherited := make([]*contracts.Attribute, 0, len(parentRows))
	for _, a := range parentRows {
		if a.Global() {
			inherited = append(inherited, a)
		}
	}

	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	sort.Strings(ids) // lock/insert children in id order

	for _, id := range ids {
		child := &contracts.UOW{
			ID:                   id,
			InstanceID:           parent.InstanceID,
			ParentID:             parent.ID,
			Status:               contracts.StatusPending,
			MaxInteractions:      parent.MaxInteractions,
			Priority:             parent.Priority,
			CurrentInteractionID: childInteraction,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := tx.InsertUOW(ctx, child); err != nil {
			return nil, err
		}
		// Re-author the latest global value of each key onto the child.
		seen := map[string]*contracts.Attribute{}
		for _, a := range inherited {
			if cur, ok := seen[a.Key]; !ok || a.Version > cur.Version {
				seen[a.Key] = a
			}
		}
		for _, a := range seen {
			if err := tx.InsertAttribute(ctx, &contracts.Attribute{
				UOWID:         child.ID,
				Key:           a.Key,
				Value:         a.Value,
				AuthorActorID: contracts.SystemActorID,
				Reasoning:     "inherited from parent " + parent.ID,
				CreatedAt:     now,
			}); err != nil {
				return nil, err
			}
		}
		if _, err := ledger.Append(ctx, tx, child, ledger.Entry{
			From:      contracts.StatusPending,
			To:        contracts.StatusPending,
			ActorID:   contracts.SystemActorID,
			EventType: contracts.HistoryEventCreated,
			Metadata:  metaJSON(map[string]any{"parent_id": parent.ID, "strategy": string(role.Strategy)}),
		}, now); err != nil {
			return nil, err
		}
		if err := tx.UpdateUOW(ctx, child); err != nil {
			return nil, err
		}
	}

	parent.ChildCount += n
	if _, err := ledger.Append(ctx, tx, parent, ledger.Entry{
		From:      parent.Status,
		To:        parent.Status,
		ActorID:   contracts.SystemActorID,
		EventType: contracts.HistoryEventDecomposed,
		Metadata:  metaJSON(map[string]any{"children": n, "strategy": string(role.Strategy)}),
	}, now); err != nil {
		return nil, err
	}
	parent.UpdatedAt = now
	if err := tx.UpdateUOW(ctx, parent); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "decomposed",
		"parent_uow", parent.ID, "children", n, "strategy", string(role.Strategy))
	return ids, nil
}
