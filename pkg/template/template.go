// Package template imports workflow blueprints: YAML decode, constitutional
// validation (articles R1-R12), and atomic persistence. A file that violates
// any article leaves no rows behind.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/dsl"
)

// Definition is the decoded template file (§6.2 shape). Names act as ids
// within the file; opaque ids are assigned at import.
type Definition struct {
	Workflow Workflow `yaml:"workflow"`
}

// Workflow is the template body.
type Workflow struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	AIContext   string `yaml:"ai_context"`
	// Attributes declares the UOW attribute vocabulary policy conditions
	// may reference, alongside the reserved metadata names.
	Attributes   []string         `yaml:"attributes"`
	Roles        []RoleDef        `yaml:"roles"`
	Interactions []InteractionDef `yaml:"interactions"`
	Components   []ComponentDef   `yaml:"components"`
}

// RoleDef declares one role.
type RoleDef struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Strategy     string   `yaml:"strategy"`
	ActorClasses []string `yaml:"actor_classes"`
}

// InteractionDef declares one named queue.
type InteractionDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ComponentDef declares one (role, interaction, direction) edge.
type ComponentDef struct {
	Name        string       `yaml:"name"`
	Role        string       `yaml:"role"`
	Interaction string       `yaml:"interaction"`
	Direction   string       `yaml:"direction"`
	Guardian    *GuardianDef `yaml:"guardian"`
}

// GuardianDef attaches a guard to a component.
type GuardianDef struct {
	Type       string         `yaml:"type"`
	Attributes map[string]any `yaml:"attributes"`
}

// Parse decodes a template file. Unknown fields are rejected so typos in a
// blueprint never silently vanish.
func Parse(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: template decode: %v", contracts.ErrValidation, err)
	}
	return &def, nil
}

// policySchema is the required shape of an interaction_policy block,
// enforced before the DSL ever sees a condition.
const policySchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["branches"],
  "properties": {
    "branches": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["condition", "action"],
        "properties": {
          "name": {"type": "string"},
          "condition": {"type": "string", "minLength": 1},
          "action": {"enum": ["ROUTE", "HALT", "INJECT"]},
          "next_interaction": {"type": "string"},
          "on_error": {"type": "boolean"}
        }
      }
    },
    "default": {
      "type": "object",
      "additionalProperties": false,
      "required": ["action"],
      "properties": {
        "action": {"enum": ["ROUTE", "HALT", "INJECT"]},
        "next_interaction": {"type": "string"}
      }
    },
    "mutations": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["condition"],
        "properties": {
          "condition": {"type": "string", "minLength": 1},
          "model_id": {"type": "string"},
          "injected_instructions": {"type": "string"},
          "knowledge_fragment_refs": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var compiledPolicySchema = jsonschema.MustCompileString("interaction_policy.json", policySchema)

// guardianPolicy extracts and shape-checks the interaction_policy block of a
// guardian, returning nil when the guardian carries none.
func guardianPolicy(component string, g *GuardianDef) (*contracts.InteractionPolicy, error) {
	if g == nil || g.Attributes == nil {
		return nil, nil
	}
	raw, ok := g.Attributes["interaction_policy"]
	if !ok {
		return nil, nil
	}
	// Round-trip through JSON: the schema validator and the typed decode
	// both consume the canonical JSON form of the YAML node.
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: component %q interaction_policy: %v", contracts.ErrValidation, component, err)
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("%w: component %q interaction_policy: %v", contracts.ErrValidation, component, err)
	}
	if err := compiledPolicySchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: component %q interaction_policy: %v", contracts.ErrValidation, component, err)
	}
	var policy contracts.InteractionPolicy
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&policy); err != nil {
		return nil, fmt.Errorf("%w: component %q interaction_policy: %v", contracts.ErrValidation, component, err)
	}
	return &policy, nil
}

// Validate applies articles R1-R12 plus the structural checks (semver
// version, name resolution, policy shape). All violations are collected and
// reported together. registry nil means the builtin function set.
func Validate(def *Definition, registry *dsl.Registry) error {
	if registry == nil {
		registry = dsl.NewRegistry()
	}
	w := &def.Workflow
	var violations []string
	report := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if w.Name == "" {
		report("workflow name is required")
	}
	if _, err := semver.NewVersion(w.Version); err != nil {
		report("version %q is not semver: %v", w.Version, err)
	}

	roles := map[string]*RoleDef{}
	kinds := map[string]int{}
	for i := range w.Roles {
		r := &w.Roles[i]
		if _, dup := roles[r.Name]; dup {
			report("duplicate role %q", r.Name)
			continue
		}
		roles[r.Name] = r
		kinds[r.Kind]++
		switch r.Kind {
		case string(contracts.RoleAlpha), string(contracts.RoleOmega),
			string(contracts.RoleEpsilon), string(contracts.RoleTau):
			if r.Strategy != "" {
				report("role %q: strategy is only valid on BETA", r.Name)
			}
		case string(contracts.RoleBeta):
			// Article R5.
			if r.Strategy != string(contracts.StrategyHomogeneous) && r.Strategy != string(contracts.StrategyHeterogeneous) {
				report("[Article R5] BETA role %q needs strategy HOMOGENEOUS or HETEROGENEOUS, got %q", r.Name, r.Strategy)
			}
		default:
			report("role %q has unknown kind %q", r.Name, r.Kind)
		}
	}
	// Articles R1-R4.
	for i, kind := range []string{
		string(contracts.RoleAlpha), string(contracts.RoleOmega),
		string(contracts.RoleEpsilon), string(contracts.RoleTau),
	} {
		if kinds[kind] != 1 {
			report("[Article R%d] exactly one %s role required, found %d", i+1, kind, kinds[kind])
		}
	}

	interactions := map[string]bool{}
	for _, it := range w.Interactions {
		if interactions[it.Name] {
			report("duplicate interaction %q", it.Name)
		}
		interactions[it.Name] = true
	}

	allowed := make(map[string]bool, len(w.Attributes)+len(dsl.ReservedVars))
	for _, name := range dsl.ReservedVars {
		allowed[name] = true
	}
	for _, name := range w.Attributes {
		allowed[name] = true
	}

	producers := map[string]int{}
	consumers := map[string]int{}
	outboundPerRole := map[string][]*ComponentDef{}
	seen := map[string]bool{}
	for i := range w.Components {
		c := &w.Components[i]
		if seen[c.Name] {
			report("duplicate component %q", c.Name)
		}
		seen[c.Name] = true

		role, ok := roles[c.Role]
		if !ok {
			report("component %q references unknown role %q", c.Name, c.Role)
			continue
		}
		if !interactions[c.Interaction] {
			report("component %q references unknown interaction %q", c.Name, c.Interaction)
			continue
		}
		switch c.Direction {
		case string(contracts.DirectionOutbound):
			producers[c.Interaction]++
			outboundPerRole[c.Role] = append(outboundPerRole[c.Role], c)
		case string(contracts.DirectionInbound):
			consumers[c.Interaction]++
		default:
			// Article R6.
			report("[Article R6] component %q direction must be INBOUND or OUTBOUND, got %q", c.Name, c.Direction)
			continue
		}

		// Article R8: error-handler inputs are always guarded.
		if c.Direction == string(contracts.DirectionInbound) && role.Kind == string(contracts.RoleEpsilon) && c.Guardian == nil {
			report("[Article R8] inbound component %q feeding EPSILON role %q must carry a guard", c.Name, c.Role)
		}
		// Article R9: the terminal gate is always a CERBERUS.
		if c.Direction == string(contracts.DirectionInbound) && role.Kind == string(contracts.RoleOmega) {
			if c.Guardian == nil || c.Guardian.Type != string(contracts.GuardCerberus) {
				report("[Article R9] inbound component %q feeding OMEGA role %q must carry a CERBERUS guard", c.Name, c.Role)
			}
		}

		if c.Guardian != nil {
			if !validGuardType(c.Guardian.Type) {
				report("component %q has unknown guard type %q", c.Name, c.Guardian.Type)
			}
			policy, err := guardianPolicy(c.Name, c.Guardian)
			if err != nil {
				report("%v", strings.TrimPrefix(err.Error(), contracts.ErrValidation.Error()+": "))
				continue
			}
			if policy != nil {
				violations = append(violations, validatePolicy(c.Name, policy, allowed, interactions, registry)...)
			}
		}
	}

	// Article R7: no dead-end and no unreachable queues.
	for name := range interactions {
		if producers[name] == 0 {
			report("[Article R7] interaction %q has no OUTBOUND producer", name)
		}
		if consumers[name] == 0 {
			report("[Article R7] interaction %q has no INBOUND consumer", name)
		}
	}

	// Article R10: the workflow has an entry and an exit.
	for roleName, role := range roles {
		if role.Kind == string(contracts.RoleAlpha) && len(outboundPerRole[roleName]) == 0 {
			report("[Article R10] ALPHA role %q has no OUTBOUND component", roleName)
		}
		if role.Kind == string(contracts.RoleOmega) && consumersOfRole(w, roleName) == 0 {
			report("[Article R10] OMEGA role %q has no INBOUND component", roleName)
		}
	}

	// Article R12: ambiguous fan-out requires a policy.
	for roleName, outs := range outboundPerRole {
		if len(outs) < 2 {
			continue
		}
		for _, c := range outs {
			if policy, err := guardianPolicy(c.Name, c.Guardian); err != nil || policy == nil {
				report("[Article R12] component %q: role %q has %d OUTBOUND edges, each needs an interaction_policy", c.Name, roleName, len(outs))
			}
		}
	}

	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", contracts.ErrValidation, strings.Join(violations, "; "))
	}
	return nil
}

// validatePolicy enforces article R11 on every condition of a policy, plus
// target resolution for ROUTE steps.
func validatePolicy(component string, p *contracts.InteractionPolicy, allowed map[string]bool, interactions map[string]bool, registry *dsl.Registry) []string {
	var violations []string
	checkCondition := func(where, condition string) {
		expr, err := dsl.Parse(condition)
		if err != nil {
			violations = append(violations, fmt.Sprintf("[Article R11] component %q %s: %v", component, where, err))
			return
		}
		if err := dsl.Validate(expr, allowed, registry); err != nil {
			violations = append(violations, fmt.Sprintf("[Article R11] component %q %s: %v", component, where, err))
		}
	}
	checkTarget := func(where string, action contracts.BranchAction, target string) {
		if action == contracts.ActionRoute && !interactions[target] {
			violations = append(violations, fmt.Sprintf("component %q %s routes to unknown interaction %q", component, where, target))
		}
	}
	for i, b := range p.Branches {
		where := fmt.Sprintf("branch %d", i)
		checkCondition(where, b.Condition)
		checkTarget(where, b.Action, b.NextInteraction)
	}
	if p.Default != nil {
		checkTarget("default", p.Default.Action, p.Default.NextInteraction)
	}
	for i, m := range p.Mutations {
		checkCondition(fmt.Sprintf("mutation %d", i), m.Condition)
	}
	return violations
}

func validGuardType(t string) bool {
	switch contracts.GuardType(t) {
	case contracts.GuardPassThru, contracts.GuardCriteriaGate, contracts.GuardDirectionalFilter,
		contracts.GuardCerberus, contracts.GuardTTLCheck, contracts.GuardConditionalInjector,
		contracts.GuardComposite:
		return true
	}
	return false
}

func consumersOfRole(w *Workflow, roleName string) int {
	n := 0
	for _, c := range w.Components {
		if c.Role == roleName && c.Direction == string(contracts.DirectionInbound) {
			n++
		}
	}
	return n
}
