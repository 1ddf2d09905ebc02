package domain

import (
	"time"

	"github.com/attendly/server/internal/attendance/zone"
)

type OutcomeStatus string

const (
	OutcomeCreated   OutcomeStatus = "CREATED"
	OutcomeDuplicate OutcomeStatus = "DUPLICATE"
	OutcomeRejected  OutcomeStatus = "REJECTED"
)

type Source string

const (
	SourceQR     Source = "QR"
	SourceFace   Source = "FACE"
	SourceManual Source = "MANUAL"
)

// Outcome is the uniform result of one identification event.
type Outcome struct {
	Status    OutcomeStatus
	Reason    string
	Source    Source
	DeviceID  DeviceID
	Key       SessionKey
	PersonID  PersonID
	CheckInAt time.Time
	Record    *AttendanceRecord
}

// OutcomeFromError classifies err: conflicts become duplicates, every other
// classified failure a rejection. ok is false for unclassified errors.
func OutcomeFromError(base Outcome, err error) (Outcome, bool) {
	kind := KindOf(err)
	if kind == KindUnknown {
		return base, false
	}
	base.Reason = ReasonOf(err)
	if kind == KindConflict {
		base.Status = OutcomeDuplicate
	} else {
		base.Status = OutcomeRejected
	}
	return base, true
}

type DeviceKind string

const (
	DeviceCamera  DeviceKind = "camera"
	DeviceScanner DeviceKind = "scanner"
)

// Device is a registered camera or QR scanner.
type Device struct {
	ID         DeviceID
	Kind       DeviceKind
	LocationID LocationID
	Zones      []zone.Polygon
	Enabled    bool
	LastSeen   time.Time
}
