// Package guard implements the policy engine: it walks the ordered branch
// list of an interaction policy, captures every expression failure in a
// shadow log, honors on_error and default branches, and returns a routing
// decision. Evaluation errors never propagate to the caller; the caller
// sees a valid decision or a HALT with NO_MATCH.
package guard

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/dsl"
)

// Clock provides time for shadow-log stamps. The routing decision itself
// never reads it.
type Clock func() time.Time

// Engine evaluates interaction policies and typed guards.
type Engine struct {
	registry *dsl.Registry
	shadow   *ShadowLog
	log      *slog.Logger
	clock    Clock
}

// NewEngine creates a policy engine around a function registry.
func NewEngine(registry *dsl.Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = dsl.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		shadow:   NewShadowLog(256),
		log:      logger,
		clock:    time.Now,
	}
}

// WithClock overrides the shadow-log clock for testing.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

// Shadow exposes the shadow log for inspection.
func (e *Engine) Shadow() *ShadowLog {
	return e.shadow
}

// Namespace builds the permitted variable set for a policy evaluation: the
// UOW's visible attributes plus the reserved metadata. "actor_id" is never
// bound, so no condition can depend on lease identity.
func Namespace(uow *contracts.UOW, attrs map[string]any) map[string]any {
	vars := make(map[string]any, len(attrs)+6)
	for k, v := range attrs {
		vars[k] = v
	}
	vars["uow_id"] = uow.ID
	vars["parent_id"] = uow.ParentID
	vars["status"] = string(uow.Status)
	vars["child_count"] = uow.ChildCount
	vars["finished_child_count"] = uow.FinishedChildCount
	vars["interaction_count"] = uow.InteractionCount
	return vars
}

// EvaluatePolicy walks the branch list in declared order and returns the
// first matching branch's decision. Branch errors are captured, logged to
// the shadow log, and may arm a later on_error branch. With no match:
// first the armed on_error branch, then the default, then HALT/NO_MATCH.
func (e *Engine) EvaluatePolicy(uow *contracts.UOW, policy *contracts.InteractionPolicy, vars map[string]any) contracts.Decision {
	if policy == nil {
		return contracts.Decision{Action: contracts.ActionHalt, MatchedBranch: -1, Reason: contracts.NoMatchReason}
	}

	errorOccurred := false
	for i, branch := range policy.Branches {
		if branch.OnError && !errorOccurred {
			continue
		}
		matched, err := e.evalCondition(branch.Condition, vars)
		if err != nil {
			errorOccurred = true
			e.capture(uow, i, branch.Condition, vars, err)
			continue
		}
		if matched {
			return contracts.Decision{
				Action:        branch.Action,
				Target:        branch.NextInteraction,
				MatchedBranch: i,
				Reason:        branch.Name,
			}
		}
	}

	if errorOccurred {
		for i, branch := range policy.Branches {
			if !branch.OnError {
				continue
			}
			matched, err := e.evalCondition(branch.Condition, vars)
			if err != nil {
				e.capture(uow, i, branch.Condition, vars, err)
				break
			}
			if matched {
				return contracts.Decision{
					Action:        branch.Action,
					Target:        branch.NextInteraction,
					MatchedBranch: i,
					Reason:        branch.Name,
				}
			}
			break // only the first on_error branch is consulted
		}
	}

	if policy.Default != nil {
		return contracts.Decision{
			Action:        policy.Default.Action,
			Target:        policy.Default.NextInteraction,
			MatchedBranch: -1,
			Reason:        "default",
		}
	}

	return contracts.Decision{Action: contracts.ActionHalt, MatchedBranch: -1, Reason: contracts.NoMatchReason}
}

// EvaluateMutations checks a CONDITIONAL_INJECTOR's mutation list and
// returns the payload of the first matching mutation, or nil. Errors are
// captured like branch errors; a failing mutation never blocks routing.
func (e *Engine) EvaluateMutations(uow *contracts.UOW, policy *contracts.InteractionPolicy, vars map[string]any) *contracts.InjectionPayload {
	if policy == nil {
		return nil
	}
	for i, m := range policy.Mutations {
		matched, err := e.evalCondition(m.Condition, vars)
		if err != nil {
			e.capture(uow, i, m.Condition, vars, err)
			continue
		}
		if matched {
			return &contracts.InjectionPayload{
				ModelID:               m.ModelID,
				InjectedInstructions:  m.InjectedInstructions,
				KnowledgeFragmentRefs: m.KnowledgeFragmentRefs,
				MatchedIndex:          i,
			}
		}
	}
	return nil
}

func (e *Engine) evalCondition(condition string, vars map[string]any) (bool, error) {
	expr, err := dsl.Parse(condition)
	if err != nil {
		return false, err
	}
	return dsl.EvalBool(expr, vars, e.registry)
}

func (e *Engine) capture(uow *contracts.UOW, branch int, condition string, vars map[string]any, err error) {
	snapshot := make(map[string]any, len(vars))
	for k, v := range vars {
		snapshot[k] = v
	}
	entry := ShadowEntry{
		UOWID:       uow.ID,
		BranchIndex: branch,
		Condition:   condition,
		Variables:   snapshot,
		Err:         err.Error(),
		Timestamp:   e.clock().UTC(),
	}
	e.shadow.append(entry)
	e.log.Warn("guard condition failed",
		"uow_id", uow.ID,
		"branch", strconv.Itoa(branch),
		"condition", condition,
		"error", err.Error(),
	)
}
