package domain

import "time"

type OwnerKind string

const (
	OwnerClass    OwnerKind = "class"
	OwnerActivity OwnerKind = "activity"
)

// Session is a weekly scheduled slot at one location. Start and end clock
// times are derived from the period timetable, never stored.
type Session struct {
	ID          SessionID
	LocationID  LocationID
	Weekday     time.Weekday
	StartPeriod int
	PeriodCount int
	OwnerKind   OwnerKind
	OwnerID     ActivityID
	RosterID    RosterID
	Cancelled   bool

	// Optional term bounds, inclusive. Zero means unbounded.
	ValidFrom  Date
	ValidUntil Date
}

// ActiveOn reports whether the session runs on the given day.
func (s Session) ActiveOn(d Date) bool {
	if s.Cancelled || d.Weekday() != s.Weekday {
		return false
	}
	if !s.ValidFrom.IsZero() && d.Before(s.ValidFrom) {
		return false
	}
	if !s.ValidUntil.IsZero() && s.ValidUntil.Before(d) {
		return false
	}
	return true
}

// Occurrence is a Session placed on a concrete day with its derived times.
type Occurrence struct {
	Session      Session
	Date         Date
	Start        time.Time
	End          time.Time
	AllowedStart time.Time
	AllowedEnd   time.Time
}

func (o Occurrence) Key() SessionKey {
	return SessionKey{SessionID: o.Session.ID, Date: o.Date}
}

// Contains reports whether t lies in the buffered window, bounds included.
func (o Occurrence) Contains(t time.Time) bool {
	return !t.Before(o.AllowedStart) && !t.After(o.AllowedEnd)
}

// Registration links a QR code to a person registered for an activity.
type Registration struct {
	Code       string
	ActivityID ActivityID
	PersonID   PersonID
	Active     bool
}
