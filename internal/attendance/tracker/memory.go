package tracker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

var _ Tracker = (*Memory)(nil)

type state struct {
	people    sync.Map // domain.PersonID -> struct{}
	count     atomic.Int64
	openedAt  time.Time
	expiresAt atomic.Int64 // unix nanos
}

// Memory is a lock-free in-process Tracker. Different sessions never
// contend; the same session contends only on its own set.
type Memory struct {
	sessions sync.Map // domain.SessionKey -> *state
	grace    time.Duration
	now      func() time.Time
}

// NewMemory creates a tracker. Sessions touched by MarkRecorded without a
// prior Open live for grace past the first touch.
func NewMemory(grace time.Duration) *Memory {
	return &Memory{grace: grace, now: time.Now}
}

func (m *Memory) load(key domain.SessionKey, expiresAt time.Time) *state {
	if v, ok := m.sessions.Load(key); ok {
		return v.(*state)
	}
	s := &state{openedAt: m.now()}
	s.expiresAt.Store(expiresAt.UnixNano())
	v, _ := m.sessions.LoadOrStore(key, s)
	return v.(*state)
}

func (m *Memory) Open(_ context.Context, key domain.SessionKey, expiresAt time.Time) error {
	s := m.load(key, expiresAt)
	exp := expiresAt.UnixNano()
	for {
		cur := s.expiresAt.Load()
		if cur >= exp || s.expiresAt.CompareAndSwap(cur, exp) {
			return nil
		}
	}
}

func (m *Memory) MarkRecorded(_ context.Context, key domain.SessionKey, person domain.PersonID) (bool, error) {
	s := m.load(key, m.now().Add(m.grace))
	if _, loaded := s.people.LoadOrStore(person, struct{}{}); loaded {
		return false, nil
	}
	s.count.Add(1)
	return true, nil
}

func (m *Memory) IsRecorded(_ context.Context, key domain.SessionKey, person domain.PersonID) (bool, error) {
	v, ok := m.sessions.Load(key)
	if !ok {
		return false, nil
	}
	_, ok = v.(*state).people.Load(person)
	return ok, nil
}

func (m *Memory) Forget(_ context.Context, key domain.SessionKey, person domain.PersonID) error {
	v, ok := m.sessions.Load(key)
	if !ok {
		return nil
	}
	s := v.(*state)
	if _, loaded := s.people.LoadAndDelete(person); loaded {
		s.count.Add(-1)
	}
	return nil
}

func (m *Memory) End(_ context.Context, key domain.SessionKey) ([]domain.PersonID, error) {
	v, ok := m.sessions.LoadAndDelete(key)
	if !ok {
		return nil, nil
	}
	return members(v.(*state)), nil
}

func (m *Memory) Snapshot(_ context.Context, key domain.SessionKey) (Snapshot, bool, error) {
	v, ok := m.sessions.Load(key)
	if !ok {
		return Snapshot{}, false, nil
	}
	return snapshotOf(key, v.(*state)), true, nil
}

func (m *Memory) Sessions(_ context.Context) ([]Snapshot, error) {
	var out []Snapshot
	m.sessions.Range(func(k, v any) bool {
		out = append(out, snapshotOf(k.(domain.SessionKey), v.(*state)))
		return true
	})
	sortSnapshots(out)
	return out, nil
}

// Sweep evicts sessions whose expiry is before now. Entries replaced
// concurrently are left alone.
func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	n := 0
	cutoff := now.UnixNano()
	m.sessions.Range(func(k, v any) bool {
		if v.(*state).expiresAt.Load() < cutoff && m.sessions.CompareAndDelete(k, v) {
			n++
		}
		return true
	})
	return n, nil
}

func members(s *state) []domain.PersonID {
	var out []domain.PersonID
	s.people.Range(func(k, _ any) bool {
		out = append(out, k.(domain.PersonID))
		return true
	})
	sortPeople(out)
	return out
}

func sortPeople(p []domain.PersonID) {
	sort.Slice(p, func(i, j int) bool { return p[i] < p[j] })
}

func snapshotOf(key domain.SessionKey, s *state) Snapshot {
	return Snapshot{
		Key:       key,
		Count:     s.count.Load(),
		OpenedAt:  s.openedAt,
		ExpiresAt: time.Unix(0, s.expiresAt.Load()),
	}
}
