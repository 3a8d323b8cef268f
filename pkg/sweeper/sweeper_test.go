package sweeper

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
	"github.com/Mindburn-Labs/windlass/pkg/events"
	"github.com/Mindburn-Labs/windlass/pkg/ledger"
	"github.com/Mindburn-Labs/windlass/pkg/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSweeper(t *testing.T) (*Sweeper, store.Store, *events.MemorySink) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	st, err := store.OpenDB(db, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sink := events.NewMemorySink()
	sw := New(st, events.NewEmitter(sink, nil), nil, 5*time.Minute, 15*time.Minute).
		WithClock(func() time.Time { return testNow })
	return sw, st, sink
}

func seedUOW(t *testing.T, st store.Store, u *contracts.UOW) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertUOW(ctx, u))
	_, err = ledger.Append(ctx, tx, u, ledger.Entry{
		From:      contracts.StatusPending,
		To:        u.Status,
		ActorID:   contracts.SystemActorID,
		EventType: contracts.HistoryEventCreated,
	}, u.UpdatedAt)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateUOW(ctx, u))
	require.NoError(t, tx.Commit())
}

func activeUOW(id string, heartbeatAge time.Duration) *contracts.UOW {
	hb := testNow.Add(-heartbeatAge)
	return &contracts.UOW{
		ID: id, InstanceID: "inst-1", Status: contracts.StatusActive,
		LeaseActorID: "agent-1", LastHeartbeat: &hb,
		MaxInteractions: 100, CurrentInteractionID: "i1",
		CreatedAt: testNow.Add(-time.Hour), UpdatedAt: hb,
	}
}

func softZombie(id string, age time.Duration) *contracts.UOW {
	return &contracts.UOW{
		ID: id, InstanceID: "inst-1", Status: contracts.StatusZombiedSoft,
		MaxInteractions: 100, CurrentInteractionID: "i1",
		CreatedAt: testNow.Add(-2 * time.Hour), UpdatedAt: testNow.Add(-age),
	}
}

func getUOW(t *testing.T, st store.Store, id string) *contracts.UOW {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	u, err := tx.GetUOW(ctx, id)
	require.NoError(t, err)
	return u
}

func TestSweepDetectsSoftZombies(t *testing.T) {
	sw, st, sink := newSweeper(t)

	seedUOW(t, st, activeUOW("u-stale", 10*time.Minute))
	seedUOW(t, st, activeUOW("u-fresh", time.Minute))

	report, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SoftZombied)
	assert.Zero(t, report.Reclaimed)

	stale := getUOW(t, st, "u-stale")
	assert.Equal(t, contracts.StatusZombiedSoft, stale.Status)
	assert.Empty(t, stale.LeaseActorID)
	assert.Nil(t, stale.LastHeartbeat)

	assert.Equal(t, contracts.StatusActive, getUOW(t, st, "u-fresh").Status)
	require.Len(t, sink.ByType(contracts.EventZombieSoftDetected), 1)
}

func TestSweepReclaimsHardZombiesToPending(t *testing.T) {
	sw, st, sink := newSweeper(t)

	seedUOW(t, st, softZombie("u-old", 20*time.Minute))
	seedUOW(t, st, softZombie("u-young", 10*time.Minute))

	report, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reclaimed)
	assert.Zero(t, report.Failed)

	reclaimed := getUOW(t, st, "u-old")
	assert.Equal(t, contracts.StatusPending, reclaimed.Status)
	assert.Empty(t, reclaimed.LeaseActorID)

	assert.Equal(t, contracts.StatusZombiedSoft, getUOW(t, st, "u-young").Status)
	require.Len(t, sink.ByType(contracts.EventZombieReclaimed), 1)
}

func TestSweepDeadFailsPolicy(t *testing.T) {
	sw, st, _ := newSweeper(t)
	sw.WithDeadFails(true)

	seedUOW(t, st, softZombie("u-old", 20*time.Minute))

	report, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Reclaimed)
	assert.Equal(t, 1, report.Failed)

	u := getUOW(t, st, "u-old")
	assert.Equal(t, contracts.StatusFailed, u.Status)

	// ZOMBIED_DEAD shows up as an intermediate hop in the history.
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	rows, err := tx.History(ctx, "u-old")
	require.NoError(t, err)
	types := make([]string, len(rows))
	for i, r := range rows {
		types[i] = r.EventType
	}
	assert.Contains(t, types, contracts.HistoryEventZombieDead)
	require.NoError(t, ledger.Verify(rows, u.ContentHash))
}

func TestSweepFullCycle(t *testing.T) {
	sw, st, _ := newSweeper(t)

	seedUOW(t, st, activeUOW("u1", 10*time.Minute))

	// First sweep demotes to ZOMBIED_SOFT.
	report, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{SoftZombied: 1}, report)

	// Sixteen minutes later the quarantine lapses and the UOW requeues.
	sw.WithClock(func() time.Time { return testNow.Add(16 * time.Minute) })
	report, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Reclaimed: 1}, report)

	assert.Equal(t, contracts.StatusPending, getUOW(t, st, "u1").Status)
}

func TestSweepNoWork(t *testing.T) {
	sw, _, _ := newSweeper(t)
	report, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestStartRejectsDoubleStart(t *testing.T) {
	sw, _, _ := newSweeper(t)
	require.NoError(t, sw.Start(time.Hour))
	defer sw.Stop()
	assert.Error(t, sw.Start(time.Hour))
}
