package memory

import (
	"context"
	"sync"
	"time"

	"github.com/attendly/server/internal/attendance/store"
)

// EventLog is an in-memory append-only log of identification outcomes.
// It is intended for use in tests and dev environments.
type EventLog struct {
	mu     sync.Mutex
	events []store.IdentificationEvent
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (s *EventLog) RecordEvent(_ context.Context, ev store.IdentificationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *EventLog) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var n int64
	for _, ev := range s.events {
		if ev.ReceivedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return n, nil
}

// Events returns a copy of all recorded events.  Test-only helper.
func (s *EventLog) Events() []store.IdentificationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.IdentificationEvent, len(s.events))
	copy(out, s.events)
	return out
}
