package events

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// MemorySink buffers events in memory. Tests use it to assert emissions.
type MemorySink struct {
	mu     sync.Mutex
	events []*contracts.Event
	closed bool
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(_ context.Context, ev *contracts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemorySink) Dropped() uint64 { return 0 }

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of everything written so far, in order.
func (s *MemorySink) Events() []*contracts.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*contracts.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters the captured events.
func (s *MemorySink) ByType(eventType string) []*contracts.Event {
	var out []*contracts.Event
	for _, ev := range s.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
