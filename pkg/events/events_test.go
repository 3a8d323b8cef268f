package events

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEmitterStampsEnvelope(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink, nil).WithClock(func() time.Time { return fixed })

	em.Emit(context.Background(), contracts.EventStateTransition, "uow-1", "inst-1",
		map[string]any{"from": "PENDING", "to": "ACTIVE"})
	em.Emit(context.Background(), contracts.EventZombieReclaimed, "uow-2", "inst-1", nil)

	evs := sink.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(1), evs[0].Seq)
	assert.Equal(t, uint64(2), evs[1].Seq)
	assert.Equal(t, fixed, evs[0].TS)
	assert.Equal(t, "uow-1", evs[0].UOWID)
	assert.Equal(t, "ACTIVE", evs[0].Payload["to"])
	assert.Zero(t, em.Dropped())
}

func TestMemorySinkByType(t *testing.T) {
	sink := NewMemorySink()
	em := NewEmitter(sink, nil)
	em.Emit(context.Background(), contracts.EventGuardDecision, "u1", "i1", nil)
	em.Emit(context.Background(), contracts.EventInterventionRequest, "u1", "i1", nil)
	em.Emit(context.Background(), contracts.EventGuardDecision, "u2", "i1", nil)

	assert.Len(t, sink.ByType(contracts.EventGuardDecision), 2)
	assert.Len(t, sink.ByType(contracts.EventInterventionRequest), 1)
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path, 0)
	require.NoError(t, err)

	em := NewEmitter(sink, nil).WithClock(func() time.Time { return fixed })
	em.Emit(context.Background(), contracts.EventZombieSoftDetected, "u1", "i1",
		map[string]any{"heartbeat_age_secs": 400})
	require.NoError(t, em.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var ev contracts.Event
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
	assert.Equal(t, contracts.EventZombieSoftDetected, ev.Type)
	assert.Equal(t, "u1", ev.UOWID)
	assert.False(t, scanner.Scan(), "exactly one line")
}

func TestFileSinkShedsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path, 1) // 1 event/sec, burst 2
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	em := NewEmitter(sink, nil)
	for i := 0; i < 10; i++ {
		em.Emit(context.Background(), contracts.EventGuardDecision, "u1", "i1", nil)
	}
	assert.Positive(t, em.Dropped(), "over-limit events must be dropped, not block")
}

func TestEmitterSurvivesClosedSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := NewFileSink(path, 0)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	em := NewEmitter(sink, nil)
	// Must not panic or propagate; just counts a drop.
	em.Emit(context.Background(), contracts.EventStateTransition, "u1", "i1", nil)
	assert.Equal(t, uint64(1), em.Dropped())
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "windlass:events:inst-1", StreamKey("inst-1"))
	assert.Equal(t, "windlass:events:system", StreamKey(""))
}
