package contracts

// BranchAction is what a matched policy branch does with the UOW.
type BranchAction string

const (
	// ActionRoute moves the UOW to the named next interaction.
	ActionRoute BranchAction = "ROUTE"
	// ActionHalt stops routing; the coordinator fails the UOW.
	ActionHalt BranchAction = "HALT"
	// ActionInject attaches a mutation payload to the outbound record
	// without changing the current interaction.
	ActionInject BranchAction = "INJECT"
)

// InteractionPolicy is the ordered routing program of a guard.
type InteractionPolicy struct {
	Branches  []PolicyBranch   `json:"branches" yaml:"branches"`
	Default   *PolicyDefault   `json:"default,omitempty" yaml:"default,omitempty"`
	Mutations []PolicyMutation `json:"mutations,omitempty" yaml:"mutations,omitempty"`
}

// PolicyBranch is one condition → action step. Branches are evaluated in
// declared order; the first match wins. A branch with OnError set is skipped
// unless a previous branch raised an evaluation error.
type PolicyBranch struct {
	Name            string       `json:"name,omitempty" yaml:"name,omitempty"`
	Condition       string       `json:"condition" yaml:"condition"`
	Action          BranchAction `json:"action" yaml:"action"`
	NextInteraction string       `json:"next_interaction,omitempty" yaml:"next_interaction,omitempty"`
	OnError         bool         `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

// PolicyDefault applies when no branch matches and no error handler fired.
type PolicyDefault struct {
	Action          BranchAction `json:"action" yaml:"action"`
	NextInteraction string       `json:"next_interaction,omitempty" yaml:"next_interaction,omitempty"`
}

// PolicyMutation is a CONDITIONAL_INJECTOR payload: when its condition
// matches, the listed model/instructions are attached to the outbound
// context. Mutations never change routing.
type PolicyMutation struct {
	Condition             string   `json:"condition" yaml:"condition"`
	ModelID               string   `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	InjectedInstructions  string   `json:"injected_instructions,omitempty" yaml:"injected_instructions,omitempty"`
	KnowledgeFragmentRefs []string `json:"knowledge_fragment_refs,omitempty" yaml:"knowledge_fragment_refs,omitempty"`
}

// Decision is the outcome of a guard evaluation.
type Decision struct {
	Action BranchAction `json:"action"`
	// Target is the next interaction name for ROUTE decisions.
	Target string `json:"target,omitempty"`
	// MatchedBranch is the index of the winning branch, -1 when none.
	MatchedBranch int    `json:"matched_branch"`
	Reason        string `json:"reason,omitempty"`
	// Injection carries the CONDITIONAL_INJECTOR payload, if any matched.
	Injection *InjectionPayload `json:"injection,omitempty"`
}

// NoMatchReason is the Decision.Reason for an exhausted branch list.
const NoMatchReason = "NO_MATCH"

// InjectionPayload is what a matched mutation attaches to the outbound
// record. It never alters current_interaction_id.
type InjectionPayload struct {
	ModelID               string   `json:"model_id,omitempty"`
	InjectedInstructions  string   `json:"injected_instructions,omitempty"`
	KnowledgeFragmentRefs []string `json:"knowledge_fragment_refs,omitempty"`
	MatchedIndex          int      `json:"matched_index"`
}
