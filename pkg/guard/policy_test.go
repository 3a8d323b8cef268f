package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/dsl"
)

func testEngine() *Engine {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewEngine(dsl.NewRegistry(), nil).WithClock(func() time.Time { return fixed })
}

func testUOW() *contracts.UOW {
	return &contracts.UOW{
		ID:         "uow-1",
		InstanceID: "inst-1",
		Status:     contracts.StatusActive,
	}
}

func TestFirstMatchingBranchWins(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "risk > 0.8", Action: contracts.ActionRoute, NextInteraction: "Critical_Queue"},
			{Condition: "risk > 0.5", Action: contracts.ActionRoute, NextInteraction: "Review_Queue"},
			{Condition: "true", Action: contracts.ActionRoute, NextInteraction: "Standard_Queue"},
		},
	}

	d := e.EvaluatePolicy(testUOW(), policy, map[string]any{"risk": 0.95})
	assert.Equal(t, contracts.ActionRoute, d.Action)
	assert.Equal(t, "Critical_Queue", d.Target)
	assert.Equal(t, 0, d.MatchedBranch)

	d = e.EvaluatePolicy(testUOW(), policy, map[string]any{"risk": 0.2})
	assert.Equal(t, "Standard_Queue", d.Target)
	assert.Equal(t, 2, d.MatchedBranch)
}

func TestOnErrorBranchSkippedWithoutError(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "true", Action: contracts.ActionRoute, NextInteraction: "A", OnError: true},
			{Condition: "score < 0.5", Action: contracts.ActionRoute, NextInteraction: "B"},
		},
	}
	d := e.EvaluatePolicy(testUOW(), policy, map[string]any{"score": 0.1})
	assert.Equal(t, "B", d.Target)
	assert.Equal(t, 1, d.MatchedBranch)
}

func TestEvaluatorErrorArmsOnErrorBranch(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "undefined_attr > 0", Action: contracts.ActionRoute, NextInteraction: "A"},
			{Condition: "true", Action: contracts.ActionRoute, NextInteraction: "B", OnError: true},
		},
	}
	uow := testUOW()
	d := e.EvaluatePolicy(uow, policy, map[string]any{})
	assert.Equal(t, contracts.ActionRoute, d.Action)
	assert.Equal(t, "B", d.Target)

	entries := e.Shadow().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "uow-1", entries[0].UOWID)
	assert.Equal(t, 0, entries[0].BranchIndex)
	assert.Equal(t, "undefined_attr > 0", entries[0].Condition)
	assert.Contains(t, entries[0].Err, "undefined_attr")
}

func TestDefaultBranch(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "score > 10", Action: contracts.ActionRoute, NextInteraction: "A"},
		},
		Default: &contracts.PolicyDefault{Action: contracts.ActionRoute, NextInteraction: "Fallback"},
	}
	d := e.EvaluatePolicy(testUOW(), policy, map[string]any{"score": 1})
	assert.Equal(t, "Fallback", d.Target)
	assert.Equal(t, -1, d.MatchedBranch)
}

func TestNoMatchHalts(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "score > 10", Action: contracts.ActionRoute, NextInteraction: "A"},
		},
	}
	d := e.EvaluatePolicy(testUOW(), policy, map[string]any{"score": 1})
	assert.Equal(t, contracts.ActionHalt, d.Action)
	assert.Equal(t, contracts.NoMatchReason, d.Reason)
}

func TestNilPolicyHalts(t *testing.T) {
	e := testEngine()
	d := e.EvaluatePolicy(testUOW(), nil, nil)
	assert.Equal(t, contracts.ActionHalt, d.Action)
}

func TestErrorsNeverPropagate(t *testing.T) {
	e := testEngine()
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "1 / 0 > 0", Action: contracts.ActionRoute, NextInteraction: "A"},
			{Condition: "missing > 1", Action: contracts.ActionRoute, NextInteraction: "B"},
		},
	}
	d := e.EvaluatePolicy(testUOW(), policy, map[string]any{})
	assert.Equal(t, contracts.ActionHalt, d.Action)
	assert.Equal(t, contracts.NoMatchReason, d.Reason)
	assert.Len(t, e.Shadow().Entries(), 2)
}

func TestPolicyDeterminism(t *testing.T) {
	policy := &contracts.InteractionPolicy{
		Branches: []contracts.PolicyBranch{
			{Condition: "risk > 0.8", Action: contracts.ActionRoute, NextInteraction: "Critical_Queue"},
			{Condition: "amount in [100, 200]", Action: contracts.ActionRoute, NextInteraction: "Batch"},
		},
		Default: &contracts.PolicyDefault{Action: contracts.ActionRoute, NextInteraction: "Standard_Queue"},
	}
	vars := map[string]any{"risk": 0.5, "amount": 200}
	var last *contracts.Decision
	for i := 0; i < 50; i++ {
		e := testEngine()
		d := e.EvaluatePolicy(testUOW(), policy, vars)
		if last != nil {
			assert.Equal(t, *last, d)
		}
		last = &d
	}
	assert.Equal(t, "Batch", last.Target)
}

func TestNamespaceExcludesActorID(t *testing.T) {
	uow := testUOW()
	uow.InteractionCount = 3
	uow.LeaseActorID = "actor-9"
	vars := Namespace(uow, map[string]any{"score": 1})

	assert.Equal(t, 1, vars["score"])
	assert.Equal(t, "uow-1", vars["uow_id"])
	assert.Equal(t, 3, vars["interaction_count"])
	assert.Equal(t, string(contracts.StatusActive), vars["status"])
	_, bound := vars["actor_id"]
	assert.False(t, bound)
}
