package guard

import (
	"fmt"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// Input carries everything a guard evaluation may consult. Children fields
// matter only to CERBERUS; ChildGuards only to COMPOSITE.
type Input struct {
	UOW  *contracts.UOW
	Vars map[string]any
	// NonTerminalChildren is the number of children not yet COMPLETED or
	// FAILED.
	NonTerminalChildren int
	// ChildGuards resolves the Children ids of a COMPOSITE guard.
	ChildGuards []*contracts.Guard
}

// Evaluate dispatches on the guard type and returns a routing decision.
// It never returns an error: failure modes collapse into HALT decisions.
func (e *Engine) Evaluate(g *contracts.Guard, in Input) contracts.Decision {
	switch g.Type {
	case contracts.GuardPassThru:
		return e.passThru(g, in)
	case contracts.GuardCriteriaGate, contracts.GuardDirectionalFilter, contracts.GuardTTLCheck:
		return e.EvaluatePolicy(in.UOW, g.Policy, in.Vars)
	case contracts.GuardConditionalInjector:
		return e.conditionalInjector(g, in)
	case contracts.GuardCerberus:
		return e.cerberus(g, in)
	case contracts.GuardComposite:
		return e.composite(g, in)
	}
	return contracts.Decision{
		Action:        contracts.ActionHalt,
		MatchedBranch: -1,
		Reason:        fmt.Sprintf("unknown guard type %q", g.Type),
	}
}

// passThru admits everything. With a policy present it still consults the
// branch list (a pass-thru may carry routing hints); without one it routes
// to the default target or simply admits.
func (e *Engine) passThru(g *contracts.Guard, in Input) contracts.Decision {
	if g.Policy != nil {
		return e.EvaluatePolicy(in.UOW, g.Policy, in.Vars)
	}
	return contracts.Decision{Action: contracts.ActionRoute, MatchedBranch: -1, Reason: "pass_thru"}
}

// conditionalInjector routes via the branch list like a criteria gate and
// additionally attaches the first matching mutation payload. Injection
// never changes the routing target.
func (e *Engine) conditionalInjector(g *contracts.Guard, in Input) contracts.Decision {
	decision := e.EvaluatePolicy(in.UOW, g.Policy, in.Vars)
	if payload := e.EvaluateMutations(in.UOW, g.Policy, in.Vars); payload != nil {
		decision.Injection = payload
	}
	return decision
}

// cerberus admits a parent only when every child has been born and has
// finished: child_count > 0, finished_child_count == child_count, and no
// child sits in a non-terminal state.
func (e *Engine) cerberus(_ *contracts.Guard, in Input) contracts.Decision {
	uow := in.UOW
	switch {
	case uow.ChildCount == 0:
		return contracts.Decision{
			Action: contracts.ActionHalt, MatchedBranch: -1,
			Reason: "cerberus: no children decomposed",
		}
	case uow.FinishedChildCount != uow.ChildCount:
		return contracts.Decision{
			Action: contracts.ActionHalt, MatchedBranch: -1,
			Reason: fmt.Sprintf("cerberus: %d of %d children finished", uow.FinishedChildCount, uow.ChildCount),
		}
	case in.NonTerminalChildren > 0:
		return contracts.Decision{
			Action: contracts.ActionHalt, MatchedBranch: -1,
			Reason: fmt.Sprintf("cerberus: %d children still live", in.NonTerminalChildren),
		}
	}
	return contracts.Decision{Action: contracts.ActionRoute, MatchedBranch: -1, Reason: "cerberus: all children terminal"}
}

// composite reduces its child guards with AND or OR. AND: every child must
// admit; the first child's target wins. OR: the first admitting child wins.
func (e *Engine) composite(g *contracts.Guard, in Input) contracts.Decision {
	if len(in.ChildGuards) == 0 {
		return contracts.Decision{
			Action: contracts.ActionHalt, MatchedBranch: -1,
			Reason: "composite: no child guards",
		}
	}
	reducer := g.Reducer
	if reducer == "" {
		reducer = "AND"
	}

	var first *contracts.Decision
	for _, child := range in.ChildGuards {
		d := e.Evaluate(child, in)
		admitted := d.Action != contracts.ActionHalt
		switch reducer {
		case "AND":
			if !admitted {
				return d
			}
			if first == nil {
				cp := d
				first = &cp
			}
		case "OR":
			if admitted {
				return d
			}
			cp := d
			first = &cp
		default:
			return contracts.Decision{
				Action: contracts.ActionHalt, MatchedBranch: -1,
				Reason: fmt.Sprintf("composite: unknown reducer %q", reducer),
			}
		}
	}
	if reducer == "OR" {
		return contracts.Decision{
			Action: contracts.ActionHalt, MatchedBranch: -1,
			Reason: "composite: no child admitted",
		}
	}
	return *first
}
