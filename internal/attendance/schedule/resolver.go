package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

// SessionSource is the in-memory session catalog.
type SessionSource interface {
	SessionsAt(locationID domain.LocationID) []domain.Session
	Session(id domain.SessionID) (domain.Session, bool)
}

type Resolver struct {
	sessions  SessionSource
	timetable *Timetable
	loc       *time.Location
	logger    *slog.Logger
}

func NewResolver(src SessionSource, tt *Timetable, loc *time.Location, logger *slog.Logger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{sessions: src, timetable: tt, loc: loc, logger: logger}
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Resolve finds the session occurrence at locationID whose buffered window
// contains now. Yesterday and tomorrow are searched too so windows that
// cross midnight still match. The scheduler guarantees one session per room
// at a time, but buffers of adjacent sessions can overlap; the earliest
// start then wins.
func (r *Resolver) Resolve(ctx context.Context, locationID domain.LocationID, now time.Time) (domain.Occurrence, error) {
	now = now.In(r.loc)
	today := domain.DateOf(now)

	var matches []domain.Occurrence
	for _, s := range r.sessions.SessionsAt(locationID) {
		for _, d := range []domain.Date{today.AddDays(-1), today, today.AddDays(1)} {
			if !s.ActiveOn(d) {
				continue
			}
			occ := r.timetable.Place(s, d, r.loc)
			if occ.Contains(now) {
				matches = append(matches, occ)
			}
		}
	}

	switch len(matches) {
	case 0:
		return domain.Occurrence{}, domain.ErrNoActiveSession
	case 1:
		return matches[0], nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Start.Equal(matches[j].Start) {
			return matches[i].Start.Before(matches[j].Start)
		}
		return matches[i].Session.ID < matches[j].Session.ID
	})

	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.Key().String()
	}
	r.logger.WarnContext(ctx, "overlapping session windows, picking earliest start",
		"location_id", locationID,
		"at", now.Format(time.RFC3339),
		"candidates", keys,
		"picked", keys[0],
	)
	return matches[0], nil
}

// Occurrence places a known session on a given day, for operations that
// address a session directly instead of by location and time.
func (r *Resolver) Occurrence(key domain.SessionKey) (domain.Occurrence, error) {
	s, ok := r.sessions.Session(key.SessionID)
	if !ok {
		return domain.Occurrence{}, fmt.Errorf("session %s: %w", key.SessionID, domain.ErrUnknownSession)
	}
	return r.timetable.Place(s, key.Date, r.loc), nil
}
