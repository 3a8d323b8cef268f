// Package lifecycle is the UOW state machine. It owns the legality of
// status transitions and the lease invariant: a lease exists exactly while
// the UOW is ACTIVE. Persistence and history are the caller's concern.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// legal maps from-status to the set of admissible to-statuses.
//
// ACTIVE -> PENDING is the routing advance: after a submit the token waits
// in its next interaction for the next checkout. ZOMBIED_SOFT -> PENDING is
// the sweeper's hard-threshold reclamation.
var legal = map[contracts.UOWStatus]map[contracts.UOWStatus]bool{
	contracts.StatusPending: {
		contracts.StatusActive:      true, // lease grant
		contracts.StatusZombiedSoft: true, // ambiguity lock
	},
	contracts.StatusActive: {
		contracts.StatusPending:              true, // routed onward
		contracts.StatusCompleted:            true,
		contracts.StatusFailed:               true,
		contracts.StatusZombiedSoft:          true, // soft timeout
		contracts.StatusZombiedDead:          true, // hard timeout
		contracts.StatusPaused:               true, // kill-switch
		contracts.StatusPendingPilotApproval: true, // park and notify
	},
	contracts.StatusPendingPilotApproval: {
		contracts.StatusActive: true, // pilot resume
		contracts.StatusFailed: true, // pilot cancel
	},
	contracts.StatusPaused: {
		contracts.StatusActive: true, // waiver
	},
	contracts.StatusZombiedSoft: {
		contracts.StatusActive:      true, // pilot clarification
		contracts.StatusPending:     true, // sweeper reclamation
		contracts.StatusZombiedDead: true,
	},
	contracts.StatusZombiedDead: {
		contracts.StatusPending: true, // resurrect
		contracts.StatusFailed:  true, // dead-fails policy
	},
	contracts.StatusCompleted: {},
	contracts.StatusFailed:    {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to contracts.UOWStatus) bool {
	return legal[from][to]
}

// Transition moves u to the new status in memory, enforcing the table and
// the lease invariant: leaving ACTIVE clears the lease and heartbeat.
// Entering ACTIVE does not grant a lease; the caller assigns one (checkout,
// clarify, resume) before persisting. On an illegal transition u is left
// untouched.
func Transition(u *contracts.UOW, to contracts.UOWStatus, now time.Time) error {
	if !CanTransition(u.Status, to) {
		return fmt.Errorf("%w: %s -> %s (uow %s)", contracts.ErrIllegalTransition, u.Status, to, u.ID)
	}
	u.Status = to
	if to != contracts.StatusActive {
		u.LeaseActorID = ""
		u.LastHeartbeat = nil
	}
	u.UpdatedAt = now.UTC()
	return nil
}

// GrantLease marks u ACTIVE and leased by actorID with a fresh heartbeat.
func GrantLease(u *contracts.UOW, actorID string, now time.Time) error {
	if err := Transition(u, contracts.StatusActive, now); err != nil {
		return err
	}
	hb := now.UTC()
	u.LeaseActorID = actorID
	u.LastHeartbeat = &hb
	return nil
}

// CheckLease verifies that actorID still holds u's lease.
func CheckLease(u *contracts.UOW, actorID string) error {
	if u.Status != contracts.StatusActive || u.LeaseActorID != actorID {
		return fmt.Errorf("%w: uow %s is %s (lease %q)", contracts.ErrLeaseLost, u.ID, u.Status, u.LeaseActorID)
	}
	return nil
}
