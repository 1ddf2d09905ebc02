package store

import (
	"context"
	"errors"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

var (
	// ErrDuplicate is returned by Insert when a non-revoked record already
	// exists for the same session occurrence and person.
	ErrDuplicate = errors.New("store: duplicate attendance record")
	ErrNotFound  = errors.New("store: not found")
	// ErrCheckedOut is returned by CheckOut when the record already has a
	// check-out time.
	ErrCheckedOut = errors.New("store: already checked out")
)

// RecordStore is the authoritative attendance ledger. Implementations must
// enforce at most one non-revoked record per (SessionKey, PersonID)
// atomically; callers rely on ErrDuplicate under concurrent inserts.
type RecordStore interface {
	Insert(ctx context.Context, rec domain.AttendanceRecord) error
	// FindActive returns the non-revoked record for the pair or ErrNotFound.
	FindActive(ctx context.Context, key domain.SessionKey, person domain.PersonID) (domain.AttendanceRecord, error)
	Get(ctx context.Context, id string) (domain.AttendanceRecord, error)
	ListByKey(ctx context.Context, key domain.SessionKey) ([]domain.AttendanceRecord, error)
	// CheckOut stamps the check-out time and who confirmed it. A record that
	// is already checked out is returned unchanged with ErrCheckedOut.
	CheckOut(ctx context.Context, id, recorderID string, at time.Time) (domain.AttendanceRecord, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, note string) (domain.AttendanceRecord, error)
	Revoke(ctx context.Context, id string, at time.Time, note string) (domain.AttendanceRecord, error)
	// CodeConsumed reports whether a non-revoked record already used code for
	// the activity.
	CodeConsumed(ctx context.Context, code string, activity domain.ActivityID) (bool, error)
}

// IdentificationEvent is one row of the append-only identification log.
// Every outcome is logged, including rejections.
type IdentificationEvent struct {
	ID         string
	Source     domain.Source
	DeviceID   domain.DeviceID
	PersonID   domain.PersonID
	Key        domain.SessionKey
	Status     domain.OutcomeStatus
	Reason     string
	RecordID   string
	ReceivedAt time.Time
	DecidedAt  time.Time
}

type EventLog interface {
	RecordEvent(ctx context.Context, ev IdentificationEvent) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Registrations interface {
	// Registration returns the registration for code or ErrNotFound.
	Registration(ctx context.Context, code string) (domain.Registration, error)
}

type Rosters interface {
	IsEnrolled(ctx context.Context, roster domain.RosterID, person domain.PersonID) (bool, error)
	Members(ctx context.Context, roster domain.RosterID) ([]domain.PersonID, error)
}

type DeviceStore interface {
	// Device returns the device or ErrNotFound.
	Device(ctx context.Context, id domain.DeviceID) (domain.Device, error)
	PutDevice(ctx context.Context, d domain.Device) error
	MarkSeen(ctx context.Context, id domain.DeviceID, t time.Time) error
}

// SessionLoader reads the weekly session schedule at startup.
type SessionLoader interface {
	LoadSessions(ctx context.Context) ([]domain.Session, error)
}
