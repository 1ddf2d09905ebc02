package domain

import (
	"fmt"
	"strings"
	"time"
)

type (
	SessionID  string
	PersonID   string
	LocationID string
	ActivityID string
	RosterID   string
	DeviceID   string
)

// Date is a calendar day without a clock or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// SessionKey identifies one dated occurrence of a session. Weekly sessions
// reuse their SessionID every week, so the date is part of the key.
type SessionKey struct {
	SessionID SessionID
	Date      Date
}

func (k SessionKey) IsZero() bool { return k.SessionID == "" && k.Date.IsZero() }

func (k SessionKey) String() string {
	return string(k.SessionID) + "@" + k.Date.String()
}

// ParseSessionKey is the inverse of SessionKey.String.
func ParseSessionKey(s string) (SessionKey, error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 {
		return SessionKey{}, fmt.Errorf("parse session key %q: missing '@'", s)
	}
	d, err := ParseDate(s[i+1:])
	if err != nil {
		return SessionKey{}, err
	}
	return SessionKey{SessionID: SessionID(s[:i]), Date: d}, nil
}
