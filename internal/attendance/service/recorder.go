package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/schedule"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/tracker"
)

type RecordRequest struct {
	Occurrence domain.Occurrence
	PersonID   domain.PersonID
	// Status is derived from CheckInAt when empty.
	Status     domain.Status
	CheckInAt  time.Time
	RecorderID string
	Code       string
	Note       string
}

type RecordResult struct {
	Record  domain.AttendanceRecord
	Created bool
}

type CheckOutResult struct {
	Record domain.AttendanceRecord
	Status domain.CheckOutStatus
}

// Recorder writes attendance records. The store's unique constraint decides
// concurrent races; losers get the winner's record back.
type Recorder struct {
	records   store.RecordStore
	resolver  *schedule.Resolver
	live      live
	lateAfter time.Duration
	now       func() time.Time
}

func NewRecorder(records store.RecordStore, resolver *schedule.Resolver, tr tracker.Tracker, cfg Config, logger *slog.Logger) *Recorder {
	cfg = cfg.withDefaults()
	return &Recorder{
		records:   records,
		resolver:  resolver,
		live:      live{tracker: tr, grace: cfg.TrackerGrace, logger: orDefault(logger)},
		lateAfter: cfg.LateAfter,
		now:       time.Now,
	}
}

func (r *Recorder) Record(ctx context.Context, req RecordRequest) (RecordResult, error) {
	if strings.TrimSpace(string(req.PersonID)) == "" {
		return RecordResult{}, domain.ErrUnknownPerson
	}
	occ := req.Occurrence
	key := occ.Key()

	at := req.CheckInAt
	if at.IsZero() {
		at = r.now()
	}
	status := req.Status
	if status == "" {
		status = r.statusAt(occ, at)
	}

	rec := domain.AttendanceRecord{
		ID:         uuid.NewString(),
		Key:        key,
		ActivityID: occ.Session.OwnerID,
		PersonID:   req.PersonID,
		Status:     status,
		CheckInAt:  at.UTC(),
		RecorderID: req.RecorderID,
		Code:       req.Code,
		Note:       req.Note,
		CreatedAt:  r.now().UTC(),
	}

	created := true
	err := r.records.Insert(ctx, rec)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		existing, ferr := r.records.FindActive(ctx, key, req.PersonID)
		if ferr != nil {
			return RecordResult{}, fmt.Errorf("load existing record: %w", ferr)
		}
		rec, created = existing, false
	case err != nil:
		return RecordResult{}, fmt.Errorf("insert record: %w", err)
	}

	r.live.mark(ctx, occ, req.PersonID)
	return RecordResult{Record: rec, Created: created}, nil
}

func (r *Recorder) statusAt(occ domain.Occurrence, at time.Time) domain.Status {
	if r.lateAfter > 0 && at.After(occ.Start.Add(r.lateAfter)) {
		return domain.StatusLate
	}
	return domain.StatusPresent
}

// CheckOut sets the check-out time and its recorder once. A repeat call
// returns the record with ErrAlreadyCheckedOut and changes nothing.
func (r *Recorder) CheckOut(ctx context.Context, recordID, recorderID string, at time.Time) (CheckOutResult, error) {
	if at.IsZero() {
		at = r.now()
	}
	rec, err := r.records.CheckOut(ctx, recordID, strings.TrimSpace(recorderID), at.UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CheckOutResult{}, domain.ErrRecordNotFound
	case errors.Is(err, store.ErrCheckedOut):
		return CheckOutResult{Record: rec}, domain.ErrAlreadyCheckedOut
	case err != nil:
		return CheckOutResult{}, fmt.Errorf("check out: %w", err)
	}

	status := domain.CheckOutCompleted
	if occ, err := r.resolver.Occurrence(rec.Key); err == nil && at.Before(occ.End) {
		status = domain.CheckOutEarly
	}
	r.live.logger.Info("checked out",
		"record_id", rec.ID, "session", rec.Key.String(), "recorder_id", recorderID, "status", status)
	return CheckOutResult{Record: rec, Status: status}, nil
}

// Revoke retires a record so the person can be recorded again for the same
// occurrence.
func (r *Recorder) Revoke(ctx context.Context, recordID, note string) (domain.AttendanceRecord, error) {
	rec, err := r.records.Revoke(ctx, recordID, r.now().UTC(), note)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AttendanceRecord{}, domain.ErrRecordNotFound
	}
	if err != nil {
		return domain.AttendanceRecord{}, fmt.Errorf("revoke record: %w", err)
	}
	r.live.forget(ctx, rec.Key, rec.PersonID)
	return rec, nil
}
