package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/attrs"
	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/guard"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/lifecycle"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

// Submit accepts an actor's results, writes them as global attributes, and
// advances the UOW through its role's outbound guard. The interaction
// counter moves only on an actual routing advance; INJECT and park-and-
// notify leave it untouched.
func (e *Engine) Submit(ctx context.Context, uowID, actorID string, resultAttrs map[string]any, reasoning string) error {
	ctx, done := e.track(ctx, "engine.submit")
	err := e.inTx(ctx, func(tx store.Tx) error {
		return e.submit(ctx, tx, uowID, actorID, resultAttrs, reasoning)
	})
	done(err)
	return err
}

func (e *Engine) submit(ctx context.Context, tx store.Tx, uowID, actorID string, resultAttrs map[string]any, reasoning string) error {
	now := e.clock().UTC()

	u, err := tx.GetUOWForUpdate(ctx, uowID)
	if err != nil {
		return err
	}
	if err := lifecycle.CheckLease(u, actorID); err != nil {
		return err
	}

	// A submit directly after a pilot resume is pre-approved: the pilot has
	// already seen the high-risk target, so park-and-notify stands down for
	// this one transition.
	last, err := tx.LastHistory(ctx, u.ID)
	if err != nil {
		return err
	}
	preApproved := last != nil && last.EventType == contracts.HistoryEventResumed

	for key, value := range resultAttrs {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%w: result attribute %q: %v", contracts.ErrValidation, key, err)
		}
		if err := tx.InsertAttribute(ctx, &contracts.Attribute{
			UOWID:         u.ID,
			Key:           key,
			Value:         string(raw),
			AuthorActorID: actorID,
			Reasoning:     reasoning,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}

	role, err := e.submittingRole(ctx, tx, u, actorID)
	if err != nil {
		return err
	}
	outs, err := tx.RoleComponents(ctx, role.ID, contracts.DirectionOutbound)
	if err != nil {
		return err
	}

	rows, err := tx.Attributes(ctx, u.ID)
	if err != nil {
		return err
	}
	view, err := attrs.View(rows, actorID)
	if err != nil {
		return err
	}
	vars := guard.Namespace(u, view)

	decision, targetID, err := e.routeDecision(ctx, tx, u, outs, vars)
	if err != nil {
		return err
	}
	if e.obs != nil {
		e.obs.RecordGuardDecision(ctx, string(decision.Action))
	}
	e.emit(ctx, contracts.EventGuardDecision, u.ID, u.InstanceID, map[string]any{
		"action":         string(decision.Action),
		"target":         decision.Target,
		"matched_branch": decision.MatchedBranch,
		"reason":         decision.Reason,
	})

	switch decision.Action {
	case contracts.ActionInject:
		return e.applyInjection(ctx, tx, u, actorID, decision, now)
	case contracts.ActionHalt:
		return e.failToEpsilon(ctx, tx, u, actorID, decision.Reason, preApproved, now)
	case contracts.ActionRoute:
		// resolved below
	default:
		return fmt.Errorf("%w: unknown decision action %q", contracts.ErrValidation, decision.Action)
	}

	if targetID == "" {
		target, err := tx.InteractionByName(ctx, u.InstanceID, decision.Target)
		if err != nil {
			return fmt.Errorf("route target %q: %w", decision.Target, err)
		}
		targetID = target.ID
	}

	omegaOnly, cerberusGuard, err := e.omegaGate(ctx, tx, u.InstanceID, targetID)
	if err != nil {
		return err
	}
	if omegaOnly {
		return e.throughCerberus(ctx, tx, u, actorID, targetID, cerberusGuard, vars, preApproved, now)
	}
	return e.advance(ctx, tx, u, actorID, targetID, now)
}

// submittingRole finds the role through which the actor consumed the UOW's
// current interaction.
func (e *Engine) submittingRole(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID string) (*contracts.Role, error) {
	actor, err := tx.GetActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	inbound, err := tx.InteractionComponents(ctx, u.CurrentInteractionID, contracts.DirectionInbound)
	if err != nil {
		return nil, err
	}
	for _, c := range inbound {
		role, err := tx.GetRole(ctx, c.RoleID)
		if err != nil {
			return nil, err
		}
		if roleAllows(role, actor.Class) {
			return role, nil
		}
	}
	return nil, fmt.Errorf("%w: no role of interaction %s admits actor %s", contracts.ErrValidation, u.CurrentInteractionID, actorID)
}

// routeDecision evaluates the role's outbound guard. A single unguarded
// outbound edge routes directly (returned as an interaction id); multiple
// unguarded edges are a policy hole and halt.
func (e *Engine) routeDecision(ctx context.Context, tx store.Tx, u *contracts.UOW, outs []*contracts.Component, vars map[string]any) (contracts.Decision, string, error) {
	var guarded *contracts.Component
	for _, c := range outs {
		if c.GuardID != "" {
			guarded = c
			break
		}
	}

	if guarded == nil {
		if len(outs) == 1 {
			return contracts.Decision{Action: contracts.ActionRoute, MatchedBranch: -1, Reason: "pass_thru"}, outs[0].InteractionID, nil
		}
		reason := contracts.NoMatchReason
		if len(outs) > 1 {
			reason = "ambiguous outbound edges without policy"
		}
		return contracts.Decision{Action: contracts.ActionHalt, MatchedBranch: -1, Reason: reason}, "", nil
	}

	g, err := tx.GetGuard(ctx, guarded.GuardID)
	if err != nil {
		return contracts.Decision{}, "", err
	}
	in := guard.Input{UOW: u, Vars: vars}
	if g.Type == contracts.GuardComposite {
		if in.ChildGuards, err = e.loadChildGuards(ctx, tx, g); err != nil {
			return contracts.Decision{}, "", err
		}
	}
	if g.Type == contracts.GuardCerberus || g.Type == contracts.GuardComposite {
		if in.NonTerminalChildren, err = e.nonTerminalChildren(ctx, tx, u.ID); err != nil {
			return contracts.Decision{}, "", err
		}
	}
	return e.guards.Evaluate(g, in), "", nil
}

func (e *Engine) loadChildGuards(ctx context.Context, tx store.Tx, g *contracts.Guard) ([]*contracts.Guard, error) {
	out := make([]*contracts.Guard, 0, len(g.Children))
	for _, id := range g.Children {
		child, err := tx.GetGuard(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func (e *Engine) nonTerminalChildren(ctx context.Context, tx store.Tx, uowID string) (int, error) {
	children, err := tx.Children(ctx, uowID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range children {
		if !c.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// omegaGate reports whether the target interaction feeds only OMEGA roles,
// and returns its CERBERUS guard when it does.
func (e *Engine) omegaGate(ctx context.Context, tx store.Tx, instanceID, targetID string) (bool, *contracts.Guard, error) {
	inbound, err := tx.InteractionComponents(ctx, targetID, contracts.DirectionInbound)
	if err != nil {
		return false, nil, err
	}
	if len(inbound) == 0 {
		return false, nil, nil
	}
	var g *contracts.Guard
	for _, c := range inbound {
		role, err := tx.GetRole(ctx, c.RoleID)
		if err != nil {
			return false, nil, err
		}
		if role.Kind != contracts.RoleOmega {
			return false, nil, nil
		}
		if c.GuardID != "" && g == nil {
			loaded, err := tx.GetGuard(ctx, c.GuardID)
			if err != nil {
				return false, nil, err
			}
			g = loaded
		}
	}
	return true, g, nil
}

// throughCerberus attempts the terminal hop. An admitting CERBERUS yields
// COMPLETED (subject to park-and-notify); a halting one parks the token as
// PENDING in the OMEGA interaction to wait for its children.
func (e *Engine) throughCerberus(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID, targetID string, g *contracts.Guard, vars map[string]any, preApproved bool, now time.Time) error {
	if g == nil {
		return fmt.Errorf("%w: OMEGA interaction %s has no CERBERUS guard", contracts.ErrValidation, targetID)
	}
	nonTerminal, err := e.nonTerminalChildren(ctx, tx, u.ID)
	if err != nil {
		return err
	}
	d := e.guards.Evaluate(g, guard.Input{UOW: u, Vars: vars, NonTerminalChildren: nonTerminal})
	if d.Action == contracts.ActionHalt {
		e.log.InfoContext(ctx, "cerberus holding parent", "uow_id", u.ID, "reason", d.Reason)
		return e.advance(ctx, tx, u, actorID, targetID, now)
	}

	if e.highRisk[contracts.StatusCompleted] && !preApproved {
		return e.park(ctx, tx, u, actorID, contracts.StatusCompleted, targetID, d.Reason, now)
	}

	from := u.Status
	u.CurrentInteractionID = targetID
	u.InteractionCount++
	if err := lifecycle.Transition(u, contracts.StatusCompleted, now); err != nil {
		return err
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      from,
		To:        contracts.StatusCompleted,
		ActorID:   actorID,
		EventType: contracts.HistoryEventCerberusPassed,
		Reason:    d.Reason,
	}, now); err != nil {
		return err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return err
	}
	if err := e.bumpFinishedChildren(ctx, tx, u, now); err != nil {
		return err
	}
	if e.obs != nil {
		e.obs.RecordSubmit(ctx)
	}
	e.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
		"from": string(from), "to": string(contracts.StatusCompleted),
	})
	return nil
}

// advance is the ordinary routing hop: the token returns to PENDING in the
// target interaction and the routing counter moves.
func (e *Engine) advance(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID, targetID string, now time.Time) error {
	from := u.Status
	u.CurrentInteractionID = targetID
	u.InteractionCount++
	if err := lifecycle.Transition(u, contracts.StatusPending, now); err != nil {
		return err
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      from,
		To:        contracts.StatusPending,
		ActorID:   actorID,
		EventType: contracts.HistoryEventRouted,
		Metadata:  metaJSON(map[string]any{"target_interaction": targetID}),
	}, now); err != nil {
		return err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return err
	}
	if e.obs != nil {
		e.obs.RecordSubmit(ctx)
	}
	e.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
		"from": string(from), "to": string(contracts.StatusPending), "target_interaction": targetID,
	})
	return nil
}

// applyInjection attaches the mutation payload to the outbound record and
// returns the token to PENDING in place. No counter movement.
func (e *Engine) applyInjection(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID string, d contracts.Decision, now time.Time) error {
	from := u.Status
	if err := lifecycle.Transition(u, contracts.StatusPending, now); err != nil {
		return err
	}
	meta := map[string]any{"matched_branch": d.MatchedBranch}
	payload := map[string]any{"matched_branch": d.MatchedBranch}
	if d.Injection != nil {
		meta["model_id"] = d.Injection.ModelID
		meta["matched_index"] = d.Injection.MatchedIndex
		payload["model_id"] = d.Injection.ModelID
		payload["injected_instructions"] = d.Injection.InjectedInstructions
		payload["knowledge_fragment_refs"] = d.Injection.KnowledgeFragmentRefs
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      from,
		To:        contracts.StatusPending,
		ActorID:   actorID,
		EventType: contracts.EventInjectionApplied,
		Metadata:  metaJSON(meta),
	}, now); err != nil {
		return err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return err
	}
	e.emit(ctx, contracts.EventInjectionApplied, u.ID, u.InstanceID, payload)
	return nil
}

// failToEpsilon is the policy-hole path: the token fails (subject to
// park-and-notify) and lands on the interaction the EPSILON role consumes.
func (e *Engine) failToEpsilon(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID, reason string, preApproved bool, now time.Time) error {
	epsilonID, err := e.epsilonInteraction(ctx, tx, u.InstanceID)
	if err != nil {
		return err
	}
	if e.highRisk[contracts.StatusFailed] && !preApproved {
		return e.park(ctx, tx, u, actorID, contracts.StatusFailed, epsilonID, reason, now)
	}

	from := u.Status
	if epsilonID != "" {
		u.CurrentInteractionID = epsilonID
	}
	if err := lifecycle.Transition(u, contracts.StatusFailed, now); err != nil {
		return err
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      from,
		To:        contracts.StatusFailed,
		ActorID:   actorID,
		EventType: contracts.HistoryEventFailed,
		Reason:    reason,
	}, now); err != nil {
		return err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return err
	}
	if err := e.bumpFinishedChildren(ctx, tx, u, now); err != nil {
		return err
	}
	e.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
		"from": string(from), "to": string(contracts.StatusFailed), "reason": reason,
	})
	return nil
}

func (e *Engine) epsilonInteraction(ctx context.Context, tx store.Tx, instanceID string) (string, error) {
	roles, err := tx.InstanceRoles(ctx, instanceID)
	if err != nil {
		return "", err
	}
	for _, r := range roles {
		if r.Kind != contracts.RoleEpsilon {
			continue
		}
		inbound, err := tx.RoleComponents(ctx, r.ID, contracts.DirectionInbound)
		if err != nil {
			return "", err
		}
		if len(inbound) > 0 {
			return inbound[0].InteractionID, nil
		}
	}
	return "", nil
}

// park persists the high-risk transition for a pilot decision instead of
// applying it. The original target travels in the history metadata so a
// resume can honor it; no thread waits.
func (e *Engine) park(ctx context.Context, tx store.Tx, u *contracts.UOW, actorID string, target contracts.UOWStatus, targetInteractionID, reason string, now time.Time) error {
	from := u.Status
	if err := lifecycle.Transition(u, contracts.StatusPendingPilotApproval, now); err != nil {
		return err
	}
	if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
		From:      from,
		To:        contracts.StatusPendingPilotApproval,
		ActorID:   actorID,
		EventType: contracts.HistoryEventParked,
		Reason:    reason,
		Metadata: metaJSON(map[string]any{
			"original_target":      string(target),
			"original_interaction": targetInteractionID,
			"original_actor":       actorID,
		}),
	}, now); err != nil {
		return err
	}
	if err := tx.UpdateUOW(ctx, u); err != nil {
		return err
	}
	e.emit(ctx, contracts.EventInterventionRequest, u.ID, u.InstanceID, map[string]any{
		"uow_id":          u.ID,
		"original_target": string(target),
		"reason":          reason,
		"pilot_options":   []string{"resume", "cancel"},
	})
	e.log.InfoContext(ctx, "parked for pilot approval",
		"uow_id", u.ID, "original_target", string(target), "reason", reason)
	return nil
}

// bumpFinishedChildren increments the parent's finished counter when a
// child reaches a terminal status.
func (e *Engine) bumpFinishedChildren(ctx context.Context, tx store.Tx, child *contracts.UOW, now time.Time) error {
	if child.ParentID == "" || !child.Status.Terminal() {
		return nil
	}
	parent, err := tx.GetUOWForUpdate(ctx, child.ParentID)
	if err != nil {
		return err
	}
	parent.FinishedChildCount++
	parent.UpdatedAt = now.UTC()
	return tx.UpdateUOW(ctx, parent)
}

// ReportFailure verifies the lease and fails the UOW onto the EPSILON
// path. Unlike a policy HALT this is an explicit actor verdict, so it is
// applied directly rather than parked.
func (e *Engine) ReportFailure(ctx context.Context, uowID, actorID, code, details string) error {
	ctx, done := e.track(ctx, "engine.report_failure")
	err := e.inTx(ctx, func(tx store.Tx) error {
		u, err := tx.GetUOWForUpdate(ctx, uowID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckLease(u, actorID); err != nil {
			return err
		}
		now := e.clock().UTC()
		epsilonID, err := e.epsilonInteraction(ctx, tx, u.InstanceID)
		if err != nil {
			return err
		}
		from := u.Status
		if epsilonID != "" {
			u.CurrentInteractionID = epsilonID
		}
		if err := lifecycle.Transition(u, contracts.StatusFailed, now); err != nil {
			return err
		}
		if _, err := ledger.Append(ctx, tx, u, ledger.Entry{
			From:      from,
			To:        contracts.StatusFailed,
			ActorID:   actorID,
			EventType: contracts.HistoryEventFailed,
			Reason:    code,
			Metadata:  metaJSON(map[string]any{"details": details}),
		}, now); err != nil {
			return err
		}
		if err := tx.UpdateUOW(ctx, u); err != nil {
			return err
		}
		if err := e.bumpFinishedChildren(ctx, tx, u, now); err != nil {
			return err
		}
		e.emit(ctx, contracts.EventStateTransition, u.ID, u.InstanceID, map[string]any{
			"from": string(from), "to": string(contracts.StatusFailed), "code": code,
		})
		return nil
	})
	done(err)
	return err
}
