package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// FileSink appends events as JSON lines. An optional rate limiter sheds
// load instead of blocking the engine transaction: over-limit events are
// dropped and counted.
type FileSink struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewFileSink opens (or creates) path for appending. eventsPerSec <= 0
// disables the limiter.
func NewFileSink(path string, eventsPerSec float64) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: open sink file: %w", err)
	}
	s := &FileSink{f: f, enc: json.NewEncoder(f)}
	if eventsPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(eventsPerSec), int(eventsPerSec)+1)
	}
	return s, nil
}

func (s *FileSink) Write(_ context.Context, ev *contracts.Event) error {
	if s.limiter != nil && !s.limiter.Allow() {
		s.dropped.Add(1)
		return fmt.Errorf("events: rate limit exceeded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return fmt.Errorf("events: sink closed")
	}
	return s.enc.Encode(ev)
}

func (s *FileSink) Dropped() uint64 { return s.dropped.Load() }

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
