package contracts

import "time"

// RoleKind classifies a role's position in the workflow topology.
type RoleKind string

// Role kind constants: origin, worker, terminal, error-handler, sweeper.
const (
	RoleAlpha   RoleKind = "ALPHA"
	RoleBeta    RoleKind = "BETA"
	RoleOmega   RoleKind = "OMEGA"
	RoleEpsilon RoleKind = "EPSILON"
	RoleTau     RoleKind = "TAU"
)

// DecompositionStrategy applies to BETA roles only.
type DecompositionStrategy string

const (
	StrategyHomogeneous   DecompositionStrategy = "HOMOGENEOUS"
	StrategyHeterogeneous DecompositionStrategy = "HETEROGENEOUS"
)

// Direction orients a component edge relative to its role.
type Direction string

const (
	// DirectionOutbound means the role produces into the interaction.
	DirectionOutbound Direction = "OUTBOUND"
	// DirectionInbound means the role consumes from the interaction.
	DirectionInbound Direction = "INBOUND"
)

// GuardType selects the evaluation behavior of a guard.
type GuardType string

const (
	GuardPassThru            GuardType = "PASS_THRU"
	GuardCriteriaGate        GuardType = "CRITERIA_GATE"
	GuardDirectionalFilter   GuardType = "DIRECTIONAL_FILTER"
	GuardCerberus            GuardType = "CERBERUS"
	GuardTTLCheck            GuardType = "TTL_CHECK"
	GuardConditionalInjector GuardType = "CONDITIONAL_INJECTOR"
	GuardComposite           GuardType = "COMPOSITE"
)

// Template is an imported workflow blueprint.
type Template struct {
	ID          string    `json:"template_id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	AIContext   string    `json:"ai_context,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role belongs to exactly one template or one instance.
type Role struct {
	ID         string                `json:"role_id"`
	TemplateID string                `json:"template_id,omitempty"`
	InstanceID string                `json:"instance_id,omitempty"`
	Name       string                `json:"name"`
	Kind       RoleKind              `json:"kind"`
	Strategy   DecompositionStrategy `json:"strategy,omitempty"` // BETA only
	// ActorClasses lists which actor classes may hold this role's leases.
	// Empty means any class.
	ActorClasses []string `json:"actor_classes,omitempty"`
}

// Interaction is a named queue; work sits here between roles.
type Interaction struct {
	ID          string `json:"interaction_id"`
	TemplateID  string `json:"template_id,omitempty"`
	InstanceID  string `json:"instance_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Component is a directed (role, interaction, direction) edge, optionally
// carrying a guard.
type Component struct {
	ID            string    `json:"component_id"`
	TemplateID    string    `json:"template_id,omitempty"`
	InstanceID    string    `json:"instance_id,omitempty"`
	Name          string    `json:"name"`
	RoleID        string    `json:"role_id"`
	InteractionID string    `json:"interaction_id"`
	Direction     Direction `json:"direction"`
	GuardID       string    `json:"guard_id,omitempty"`
}

// Guard is a typed policy attached to a component.
type Guard struct {
	ID          string             `json:"guard_id"`
	TemplateID  string             `json:"template_id,omitempty"`
	InstanceID  string             `json:"instance_id,omitempty"`
	ComponentID string             `json:"component_id"`
	Type        GuardType          `json:"type"`
	Policy      *InteractionPolicy `json:"interaction_policy,omitempty"`
	// Children holds child guard ids for COMPOSITE guards.
	Children []string `json:"children,omitempty"`
	// Reducer is "AND" or "OR" for COMPOSITE guards.
	Reducer string `json:"reducer,omitempty"`
}

// Instance is a materialized copy of a template plus runtime state.
type Instance struct {
	ID         string    `json:"instance_id"`
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}
