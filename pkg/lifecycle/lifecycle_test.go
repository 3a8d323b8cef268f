package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func uow(status contracts.UOWStatus) *contracts.UOW {
	return &contracts.UOW{ID: "u1", InstanceID: "i1", Status: status}
}

func TestLegalTransitions(t *testing.T) {
	cases := []struct {
		from, to contracts.UOWStatus
	}{
		{contracts.StatusPending, contracts.StatusActive},
		{contracts.StatusPending, contracts.StatusZombiedSoft},
		{contracts.StatusActive, contracts.StatusPending},
		{contracts.StatusActive, contracts.StatusCompleted},
		{contracts.StatusActive, contracts.StatusFailed},
		{contracts.StatusActive, contracts.StatusZombiedSoft},
		{contracts.StatusActive, contracts.StatusZombiedDead},
		{contracts.StatusActive, contracts.StatusPaused},
		{contracts.StatusActive, contracts.StatusPendingPilotApproval},
		{contracts.StatusPendingPilotApproval, contracts.StatusActive},
		{contracts.StatusPendingPilotApproval, contracts.StatusFailed},
		{contracts.StatusPaused, contracts.StatusActive},
		{contracts.StatusZombiedSoft, contracts.StatusActive},
		{contracts.StatusZombiedSoft, contracts.StatusPending},
		{contracts.StatusZombiedDead, contracts.StatusPending},
	}
	for _, c := range cases {
		assert.True(t, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestIllegalTransitions(t *testing.T) {
	cases := []struct {
		from, to contracts.UOWStatus
	}{
		{contracts.StatusCompleted, contracts.StatusActive},
		{contracts.StatusFailed, contracts.StatusPending},
		{contracts.StatusPending, contracts.StatusCompleted},
		{contracts.StatusPending, contracts.StatusPaused},
		{contracts.StatusPaused, contracts.StatusFailed},
		{contracts.StatusZombiedDead, contracts.StatusActive},
	}
	for _, c := range cases {
		u := uow(c.from)
		err := Transition(u, c.to, now)
		require.ErrorIs(t, err, contracts.ErrIllegalTransition, "%s -> %s", c.from, c.to)
		assert.Equal(t, c.from, u.Status, "state must be untouched")
	}
}

func TestLeavingActiveClearsLease(t *testing.T) {
	u := uow(contracts.StatusActive)
	hb := now
	u.LeaseActorID = "actor-1"
	u.LastHeartbeat = &hb

	require.NoError(t, Transition(u, contracts.StatusPending, now))
	assert.Empty(t, u.LeaseActorID)
	assert.Nil(t, u.LastHeartbeat)
	assert.Equal(t, now, u.UpdatedAt)
}

func TestGrantLease(t *testing.T) {
	u := uow(contracts.StatusPending)
	require.NoError(t, GrantLease(u, "actor-1", now))
	assert.Equal(t, contracts.StatusActive, u.Status)
	assert.Equal(t, "actor-1", u.LeaseActorID)
	require.NotNil(t, u.LastHeartbeat)
	assert.Equal(t, now, *u.LastHeartbeat)

	assert.ErrorIs(t, GrantLease(uow(contracts.StatusCompleted), "a", now), contracts.ErrIllegalTransition)
}

func TestCheckLease(t *testing.T) {
	u := uow(contracts.StatusActive)
	u.LeaseActorID = "actor-1"
	assert.NoError(t, CheckLease(u, "actor-1"))
	assert.ErrorIs(t, CheckLease(u, "actor-2"), contracts.ErrLeaseLost)

	u.Status = contracts.StatusZombiedSoft
	assert.ErrorIs(t, CheckLease(u, "actor-1"), contracts.ErrLeaseLost)
}
