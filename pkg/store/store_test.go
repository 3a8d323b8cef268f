package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := OpenDB(db, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTx(t *testing.T, s Store) Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func TestTemplateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)

	tpl := &contracts.Template{
		ID:        uuid.NewString(),
		Name:      "loan_review",
		Version:   "1.2.0",
		AIContext: "reviews loan applications",
		CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, tx.InsertTemplate(ctx, tpl))
	require.NoError(t, tx.InsertRole(ctx, &contracts.Role{
		ID: "r1", TemplateID: tpl.ID, Name: "intake", Kind: contracts.RoleAlpha,
		ActorClasses: []string{"llm", "human"},
	}))
	require.NoError(t, tx.Commit())

	tx = mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	got, err := tx.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, got.Name)
	assert.Equal(t, tpl.CreatedAt, got.CreatedAt)

	roles, err := tx.TemplateRoles(ctx, tpl.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, []string{"llm", "human"}, roles[0].ActorClasses)

	_, err = tx.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestGuardPolicyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	g := &contracts.Guard{
		ID: "g1", InstanceID: "inst-1", ComponentID: "c1",
		Type: contracts.GuardCriteriaGate,
		Policy: &contracts.InteractionPolicy{
			Branches: []contracts.PolicyBranch{
				{Condition: "risk > 0.8", Action: contracts.ActionRoute, NextInteraction: "Critical"},
			},
			Default: &contracts.PolicyDefault{Action: contracts.ActionRoute, NextInteraction: "Standard"},
		},
	}
	require.NoError(t, tx.InsertGuard(ctx, g))

	got, err := tx.GetGuard(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got.Policy)
	require.Len(t, got.Policy.Branches, 1)
	assert.Equal(t, "risk > 0.8", got.Policy.Branches[0].Condition)
	assert.Equal(t, "Standard", got.Policy.Default.NextInteraction)
}

func TestPendingUOWOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	insert := func(id string, priority int, created time.Time) {
		require.NoError(t, tx.InsertUOW(ctx, &contracts.UOW{
			ID: id, InstanceID: "inst-1", Status: contracts.StatusPending,
			CurrentInteractionID: "i1", Priority: priority,
			MaxInteractions: 100, CreatedAt: created, UpdatedAt: created,
		}))
	}
	insert("uow-b", 0, base.Add(time.Second))
	insert("uow-a", 0, base.Add(time.Second)) // same priority and time: id breaks tie
	insert("uow-c", 5, base.Add(time.Hour))   // higher priority wins despite being newest
	insert("uow-d", 0, base)

	got, err := tx.PendingUOWs(ctx, []string{"i1"})
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, u := range got {
		ids[i] = u.ID
	}
	assert.Equal(t, []string{"uow-c", "uow-d", "uow-a", "uow-b"}, ids)

	none, err := tx.PendingUOWs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUOWUpdateAndHeartbeatQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	u := &contracts.UOW{
		ID: "uow-1", InstanceID: "inst-1", Status: contracts.StatusPending,
		MaxInteractions: 100, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, tx.InsertUOW(ctx, u))

	hb := now.Add(-10 * time.Minute)
	u.Status = contracts.StatusActive
	u.LeaseActorID = "actor-1"
	u.LastHeartbeat = &hb
	require.NoError(t, tx.UpdateUOW(ctx, u))

	got, err := tx.GetUOWForUpdate(ctx, "uow-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusActive, got.Status)
	require.NotNil(t, got.LastHeartbeat)
	assert.Equal(t, hb, *got.LastHeartbeat)

	stale, err := tx.ActiveHeartbeatBefore(ctx, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "uow-1", stale[0].ID)

	fresh, err := tx.ActiveHeartbeatBefore(ctx, now.Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestAttributeVersionAllocation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	a1 := &contracts.Attribute{UOWID: "uow-1", Key: "risk", Value: "0.5", AuthorActorID: "a1", CreatedAt: now}
	require.NoError(t, tx.InsertAttribute(ctx, a1))
	assert.Equal(t, 1, a1.Version)

	a2 := &contracts.Attribute{UOWID: "uow-1", Key: "risk", Value: "0.9", AuthorActorID: "a2", CreatedAt: now.Add(time.Second)}
	require.NoError(t, tx.InsertAttribute(ctx, a2))
	assert.Equal(t, 2, a2.Version)

	other := &contracts.Attribute{UOWID: "uow-1", Key: "amount", Value: "100", AuthorActorID: "a1", CreatedAt: now}
	require.NoError(t, tx.InsertAttribute(ctx, other))
	assert.Equal(t, 1, other.Version, "versions are per key")

	attrs, err := tx.Attributes(ctx, "uow-1")
	require.NoError(t, err)
	assert.Len(t, attrs, 3)
}

func TestDeleteSupersededAttributes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range []*contracts.Attribute{
		{UOWID: "u1", Key: "risk", Value: "0.1", AuthorActorID: "a1", CreatedAt: old},
		{UOWID: "u1", Key: "risk", Value: "0.2", AuthorActorID: "a1", CreatedAt: recent},
		{UOWID: "u1", Key: "amount", Value: "10", AuthorActorID: "a1", CreatedAt: old}, // latest of its key: kept
	} {
		require.NoError(t, tx.InsertAttribute(ctx, a))
	}

	n, err := tx.DeleteSupersededAttributesBefore(ctx, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	attrs, err := tx.Attributes(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, attrs, 2)
}

func TestHistoryAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	row := &contracts.HistoryRow{
		UOWID: "uow-1", Seq: 1,
		FromStatus: contracts.StatusPending, ToStatus: contracts.StatusActive,
		ActorID: "actor-1", EventType: "lease_granted",
		PrevContentHash: "", NewContentHash: "abc", AttrsDigest: "def",
		Timestamp: now,
	}
	require.NoError(t, tx.InsertHistory(ctx, row))
	require.NoError(t, tx.Commit())

	tx = mustTx(t, s)
	defer func() { _ = tx.Rollback() }()
	raw := tx.(*sqlTx)

	_, err := raw.tx.ExecContext(ctx, `UPDATE uow_history SET reason = 'tampered' WHERE uow_id = 'uow-1'`)
	assert.Error(t, err, "update must be rejected by trigger")

	_, err = raw.tx.ExecContext(ctx, `DELETE FROM uow_history WHERE uow_id = 'uow-1'`)
	assert.Error(t, err, "delete must be rejected by trigger")

	last, err := tx.LastHistory(ctx, "uow-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "abc", last.NewContentHash)
	assert.Equal(t, "{}", last.Metadata)

	none, err := tx.LastHistory(ctx, "uow-none")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestHistoryOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for _, seq := range []int64{2, 1, 3} {
		require.NoError(t, tx.InsertHistory(ctx, &contracts.HistoryRow{
			UOWID: "uow-1", Seq: seq,
			FromStatus: contracts.StatusPending, ToStatus: contracts.StatusActive,
			ActorID: "a", EventType: "e", NewContentHash: "h", AttrsDigest: "d",
			Timestamp: now,
		}))
	}
	rows, err := tx.History(ctx, "uow-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0].Seq)
	assert.Equal(t, int64(3), rows[2].Seq)
}

func TestChildren(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	parent := &contracts.UOW{ID: "p", InstanceID: "i", Status: contracts.StatusPaused, MaxInteractions: 100, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, tx.InsertUOW(ctx, parent))
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, tx.InsertUOW(ctx, &contracts.UOW{
			ID: id, InstanceID: "i", ParentID: "p", Status: contracts.StatusPending,
			MaxInteractions: 100, CreatedAt: now, UpdatedAt: now,
		}))
	}
	kids, err := tx.Children(ctx, "p")
	require.NoError(t, err)
	assert.Len(t, kids, 2)
}

func TestRebindPostgres(t *testing.T) {
	tx := &sqlTx{dialect: dialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", tx.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	tx.dialect = dialectSQLite
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", tx.rebind("SELECT * FROM t WHERE a = ?"))
}

func TestNotFoundMapping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx := mustTx(t, s)
	defer func() { _ = tx.Rollback() }()

	for _, err := range []error{
		secondOf(tx.GetUOW(ctx, "missing")),
		secondOf(tx.GetInstance(ctx, "missing")),
		secondOf(tx.GetActor(ctx, "missing")),
		secondOf(tx.GetGuard(ctx, "missing")),
		secondOf(tx.GetRole(ctx, "missing")),
		secondOf(tx.GetInteraction(ctx, "missing")),
		secondOf(tx.InteractionByName(ctx, "inst", "missing")),
	} {
		assert.ErrorIs(t, err, contracts.ErrNotFound)
		assert.False(t, errors.Is(err, sql.ErrNoRows), "driver error must not leak")
	}
}

func secondOf[T any](_ T, err error) error { return err }
