// Package events is the append-only event surface of the engine. An Emitter
// stamps envelopes (seq, ts_utc, type, uow_id, instance_id, payload) and
// hands them to a pluggable Sink. Emission never fails into the caller:
// sink errors are logged and counted as drops.
package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// Sink persists event envelopes. Write may reject an event under
// backpressure; implementations count such drops.
type Sink interface {
	Write(ctx context.Context, ev *contracts.Event) error
	Dropped() uint64
	Close() error
}

// Emitter assigns sequence numbers and timestamps and forwards to the sink.
type Emitter struct {
	sink    Sink
	log     *slog.Logger
	clock   func() time.Time
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewEmitter wires a sink; logger nil means slog.Default().
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sink:  sink,
		log:   logger.With("component", "events"),
		clock: time.Now,
	}
}

// WithClock swaps the time source; used by tests.
func (e *Emitter) WithClock(clock func() time.Time) *Emitter {
	e.clock = clock
	return e
}

// Emit publishes one event. UOW and instance ids may be empty for
// system-scoped events. Errors never propagate.
func (e *Emitter) Emit(ctx context.Context, eventType, uowID, instanceID string, payload map[string]any) {
	ev := &contracts.Event{
		Seq:        e.seq.Add(1),
		TS:         e.clock().UTC(),
		Type:       eventType,
		UOWID:      uowID,
		InstanceID: instanceID,
		Payload:    payload,
	}
	if err := e.sink.Write(ctx, ev); err != nil {
		e.dropped.Add(1)
		e.log.WarnContext(ctx, "event dropped",
			"type", eventType, "uow_id", uowID, "error", err)
	}
}

// Dropped reports events the emitter could not deliver. Each failed Write
// counts once here; Sink.Dropped tracks the sink's own accounting.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close closes the underlying sink.
func (e *Emitter) Close() error {
	return e.sink.Close()
}
