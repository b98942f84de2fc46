package audit

import (
	"context"
	"sync"
	"time"

	"github.com/quollsec/strongbox/pkg/idx"
)

// MemorySink collects events in order. Used by tests to assert what was
// audited.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	last   time.Time
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Append(_ context.Context, actor, action string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now

	s.events = append(s.events, Event{
		ID:        idx.New().String(),
		Timestamp: now,
		Actor:     actor,
		Action:    action,
		Metadata:  metadata,
	})
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a snapshot of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Actions returns just the action names, in write order.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}
