// Package contracts defines the shared data model of the Windlass engine:
// workflow blueprints, units of work, attributes, history rows, routing
// decisions, and the error taxonomy every subsystem speaks.
package contracts

import "time"

// UOWStatus is the lifecycle state of a unit of work.
type UOWStatus string

// UOW status constants.
const (
	StatusPending              UOWStatus = "PENDING"
	StatusActive               UOWStatus = "ACTIVE"
	StatusCompleted            UOWStatus = "COMPLETED"
	StatusFailed               UOWStatus = "FAILED"
	StatusPaused               UOWStatus = "PAUSED"
	StatusPendingPilotApproval UOWStatus = "PENDING_PILOT_APPROVAL"
	StatusZombiedSoft          UOWStatus = "ZOMBIED_SOFT"
	StatusZombiedDead          UOWStatus = "ZOMBIED_DEAD"
)

// Terminal reports whether the status is permanent.
func (s UOWStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SystemActorID is the reserved principal for engine-initiated transitions
// (materialization, sweeps, park-and-notify).
const SystemActorID = "SYSTEM"

// UOW is one atomic token of work flowing through an instance.
type UOW struct {
	ID         string `json:"uow_id"`
	InstanceID string `json:"instance_id"`
	ParentID   string `json:"parent_id,omitempty"`

	Status           UOWStatus `json:"status"`
	InteractionCount int       `json:"interaction_count"`
	MaxInteractions  int       `json:"max_interactions"`
	Priority         int       `json:"priority"`

	CurrentInteractionID string `json:"current_interaction_id"`

	LeaseActorID  string     `json:"lease_actor_id,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	// ContentHash is the head of the per-UOW history chain.
	ContentHash string `json:"content_hash"`

	ChildCount         int `json:"child_count"`
	FinishedChildCount int `json:"finished_child_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attribute is one versioned key/value on a UOW. A nil-equivalent (empty)
// OwnerActorID marks a Global Blueprint value visible to every actor; a
// non-empty owner marks a Personal Playbook value visible only to that actor.
type Attribute struct {
	UOWID         string    `json:"uow_id"`
	Key           string    `json:"key"`
	Version       int       `json:"version"`
	Value         string    `json:"value"` // JSON-encoded
	OwnerActorID  string    `json:"owner_actor_id,omitempty"`
	AuthorActorID string    `json:"author_actor_id"`
	Reasoning     string    `json:"reasoning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Global reports whether the attribute belongs to the Global Blueprint.
func (a Attribute) Global() bool { return a.OwnerActorID == "" }

// HistoryRow is one accepted state transition. Rows are append-only and
// hash-chained: NewContentHash of row n-1 equals PrevContentHash of row n.
type HistoryRow struct {
	UOWID           string    `json:"uow_id"`
	Seq             int64     `json:"seq"`
	FromStatus      UOWStatus `json:"from_status"`
	ToStatus        UOWStatus `json:"to_status"`
	ActorID         string    `json:"actor_id"`
	EventType       string    `json:"event_type"`
	Reason          string    `json:"reason,omitempty"`
	PrevContentHash string    `json:"prev_content_hash"`
	NewContentHash  string    `json:"new_content_hash"`
	// AttrsDigest is the plain SHA-256 of the canonical attribute map at the
	// moment of the transition. It is what the chain step consumes, so an
	// auditor can replay the chain from the empty seed without snapshots.
	AttrsDigest string    `json:"attrs_digest"`
	Timestamp   time.Time `json:"timestamp_utc"`
	Metadata    string    `json:"metadata,omitempty"` // opaque JSON
}

// Actor is an authenticated principal that leases UOWs. Identity resolution
// happens outside the core; the engine trusts the caller-supplied principal.
type Actor struct {
	ID        string    `json:"actor_id"`
	Class     string    `json:"class"`
	CreatedAt time.Time `json:"created_at"`
}
