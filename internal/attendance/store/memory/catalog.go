package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

// Catalog holds sessions, rosters and QR registrations in memory. The
// resolver reads sessions from here on every event, so it never touches disk.
type Catalog struct {
	mu            sync.RWMutex
	sessions      map[domain.SessionID]domain.Session
	byLocation    map[domain.LocationID][]domain.SessionID
	rosters       map[domain.RosterID]map[domain.PersonID]struct{}
	registrations map[string]domain.Registration
}

var (
	_ store.Registrations = (*Catalog)(nil)
	_ store.Rosters       = (*Catalog)(nil)
)

func NewCatalog() *Catalog {
	return &Catalog{
		sessions:      make(map[domain.SessionID]domain.Session),
		byLocation:    make(map[domain.LocationID][]domain.SessionID),
		rosters:       make(map[domain.RosterID]map[domain.PersonID]struct{}),
		registrations: make(map[string]domain.Registration),
	}
}

// ReplaceSessions swaps the whole schedule atomically.
func (c *Catalog) ReplaceSessions(sessions []domain.Session) {
	byID := make(map[domain.SessionID]domain.Session, len(sessions))
	byLoc := make(map[domain.LocationID][]domain.SessionID)
	for _, s := range sessions {
		byID[s.ID] = s
		byLoc[s.LocationID] = append(byLoc[s.LocationID], s.ID)
	}
	c.mu.Lock()
	c.sessions = byID
	c.byLocation = byLoc
	c.mu.Unlock()
}

func (c *Catalog) PutSession(s domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.sessions[s.ID]; ok {
		ids := c.byLocation[old.LocationID]
		for i, id := range ids {
			if id == s.ID {
				c.byLocation[old.LocationID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	c.sessions[s.ID] = s
	c.byLocation[s.LocationID] = append(c.byLocation[s.LocationID], s.ID)
}

func (c *Catalog) SessionsAt(loc domain.LocationID) []domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byLocation[loc]
	out := make([]domain.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.sessions[id])
	}
	return out
}

func (c *Catalog) Session(id domain.SessionID) (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Catalog) Enroll(roster domain.RosterID, people ...domain.PersonID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.rosters[roster]
	if !ok {
		set = make(map[domain.PersonID]struct{})
		c.rosters[roster] = set
	}
	for _, p := range people {
		set[p] = struct{}{}
	}
}

func (c *Catalog) IsEnrolled(_ context.Context, roster domain.RosterID, person domain.PersonID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rosters[roster][person]
	return ok, nil
}

func (c *Catalog) Members(_ context.Context, roster domain.RosterID) ([]domain.PersonID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PersonID, 0, len(c.rosters[roster]))
	for p := range c.rosters[roster] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (c *Catalog) PutRegistration(r domain.Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registrations[r.Code] = r
}

func (c *Catalog) Registration(_ context.Context, code string) (domain.Registration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.registrations[code]
	if !ok {
		return domain.Registration{}, store.ErrNotFound
	}
	return r, nil
}
