package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPresent Status = "PRESENT"
	StatusLate    Status = "LATE"
	StatusAbsent  Status = "ABSENT"
	StatusExcused Status = "EXCUSED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return st, nil
	}
	return "", fmt.Errorf("unknown attendance status %q", s)
}

// Attended reports whether the status counts as physically present.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

type CheckOutStatus string

const (
	CheckOutCompleted CheckOutStatus = "COMPLETED"
	CheckOutEarly     CheckOutStatus = "EARLY"
)

type AttendanceRecord struct {
	ID         string
	Key        SessionKey
	ActivityID ActivityID
	PersonID   PersonID
	Status     Status
	CheckInAt  time.Time
	CheckOutAt *time.Time
	RecorderID string
	// CheckOutRecorderID is the device or officer that confirmed check-out.
	CheckOutRecorderID string
	Code               string
	Note               string
	RevokedAt          *time.Time
	CreatedAt          time.Time
}

func (r AttendanceRecord) Revoked() bool { return r.RevokedAt != nil }
