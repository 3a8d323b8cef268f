package contracts

import "time"

// Event is one append-only record on the event stream.
type Event struct {
	Seq        uint64         `json:"seq"`
	TS         time.Time      `json:"ts_utc"`
	Type       string         `json:"type"`
	UOWID      string         `json:"uow_id,omitempty"`
	InstanceID string         `json:"instance_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Event type constants.
const (
	EventInterventionRequest  = "intervention_request"
	EventAmbiguityLock        = "ambiguity_lock_detected"
	EventZombieSoftDetected   = "zombie_soft_detected"
	EventZombieReclaimed      = "zombie_reclaimed"
	EventConstitutionalWaiver = "CONSTITUTIONAL_WAIVER"
	EventGuardDecision        = "guard_decision"
	EventStateTransition      = "state_transition"
	EventInjectionApplied     = "injection_applied"
	EventToxicMarked          = "toxic_marked"
)

// History event types recorded in uow_history rows.
const (
	HistoryEventCreated        = "created"
	HistoryEventLeaseGranted   = "lease_granted"
	HistoryEventSubmitted      = "submitted"
	HistoryEventFailed         = "failed"
	HistoryEventRouted         = "routed"
	HistoryEventDecomposed     = "decomposed"
	HistoryEventParked         = "parked"
	HistoryEventKillSwitch     = "kill_switch"
	HistoryEventClarified      = "clarified"
	HistoryEventWaived         = "CONSTITUTIONAL_WAIVER"
	HistoryEventResumed        = "pilot_resumed"
	HistoryEventCancelled      = "pilot_cancelled"
	HistoryEventZombieSoft     = "zombie_soft"
	HistoryEventZombieDead     = "zombie_dead"
	HistoryEventZombieReclaim  = "zombie_reclaimed"
	HistoryEventAmbiguityLock  = "ambiguity_lock"
	HistoryEventToxicMark      = "toxic_marked"
	HistoryEventCerberusPassed = "cerberus_passed"
)
