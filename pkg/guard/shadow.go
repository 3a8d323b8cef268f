package guard

import (
	"sync"
	"time"
)

// ShadowEntry records one captured branch evaluation error. The shadow log
// is how evaluation failures stay observable without ever reaching the
// submitting actor.
type ShadowEntry struct {
	UOWID       string         `json:"uow_id"`
	BranchIndex int            `json:"branch_index"`
	Condition   string         `json:"condition"`
	Variables   map[string]any `json:"variables"`
	Err         string         `json:"error"`
	Timestamp   time.Time      `json:"timestamp_utc"`
}

// ShadowLog is a bounded in-memory ring of evaluation failures.
type ShadowLog struct {
	mu      sync.Mutex
	entries []ShadowEntry
	next    int
	size    int
	total   uint64
}

// NewShadowLog creates a ring holding the most recent capacity entries.
func NewShadowLog(capacity int) *ShadowLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &ShadowLog{entries: make([]ShadowEntry, 0, capacity), size: capacity}
}

func (s *ShadowLog) append(e ShadowEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if len(s.entries) < s.size {
		s.entries = append(s.entries, e)
		return
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % s.size
}

// Entries returns a copy of the retained entries, oldest first.
func (s *ShadowLog) Entries() []ShadowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShadowEntry, 0, len(s.entries))
	out = append(out, s.entries[s.next:]...)
	out = append(out, s.entries[:s.next]...)
	return out
}

// Total returns the lifetime count of captured errors, including evicted
// ones.
func (s *ShadowLog) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
