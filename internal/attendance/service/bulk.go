package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/schedule"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/tracker"
)

type ItemStatus string

const (
	ItemCreated   ItemStatus = "CREATED"
	ItemUpdated   ItemStatus = "UPDATED"
	ItemUnchanged ItemStatus = "UNCHANGED"
	ItemFailed    ItemStatus = "FAILED"
)

// ItemResult is the result for one person of a bulk operation. A failed
// item never aborts the others.
type ItemResult struct {
	PersonID domain.PersonID
	Status   ItemStatus
	Record   *domain.AttendanceRecord
	Err      error
}

type StatusMark struct {
	PersonID domain.PersonID
	Status   domain.Status
	Note     string
}

type Summary struct {
	Key        domain.SessionKey
	Enrolled   int
	Present    int
	Late       int
	Absent     int
	Excused    int
	Unrecorded int
	// Rate is attended (present or late) over enrolled, 0 with no roster.
	Rate float64
}

const closeRecorderID = "system:close"

type Bulk struct {
	resolver *schedule.Resolver
	rosters  store.Rosters
	records  store.RecordStore
	recorder *Recorder
	tracker  tracker.Tracker
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewBulk(resolver *schedule.Resolver, rosters store.Rosters, records store.RecordStore, rec *Recorder, tr tracker.Tracker, cfg Config, logger *slog.Logger) *Bulk {
	cfg = cfg.withDefaults()
	return &Bulk{
		resolver: resolver,
		rosters:  rosters,
		records:  records,
		recorder: rec,
		tracker:  tr,
		limit:    cfg.BulkConcurrency,
		logger:   orDefault(logger),
		now:      time.Now,
	}
}

// CloseSession marks every enrolled person without a record ABSENT and
// then drops the session from the tracker.
func (b *Bulk) CloseSession(ctx context.Context, key domain.SessionKey) ([]ItemResult, error) {
	occ, err := b.resolver.Occurrence(key)
	if err != nil {
		return nil, err
	}
	missing, err := b.unrecorded(ctx, occ)
	if err != nil {
		return nil, err
	}

	closedAt := b.now().UTC()
	results := b.each(missing, func(i int, person domain.PersonID) ItemResult {
		res, err := b.recorder.Record(ctx, RecordRequest{
			Occurrence: occ,
			PersonID:   person,
			Status:     domain.StatusAbsent,
			CheckInAt:  closedAt,
			RecorderID: closeRecorderID,
		})
		if err != nil {
			return ItemResult{PersonID: person, Status: ItemFailed, Err: err}
		}
		status := ItemCreated
		if !res.Created {
			status = ItemUnchanged
		}
		return ItemResult{PersonID: person, Status: status, Record: &res.Record}
	})

	recorded, err := b.tracker.End(ctx, key)
	if err != nil {
		b.logger.Warn("tracker end failed", "session", key.String(), "err", err)
	}
	b.logger.Info("session closed",
		"session", key.String(), "tracked", len(recorded), "absent", len(missing), "failed", countFailed(results))
	return results, nil
}

// MarkStatuses sets the status of each listed person, creating records for
// people not yet recorded.
func (b *Bulk) MarkStatuses(ctx context.Context, key domain.SessionKey, marks []StatusMark) ([]ItemResult, error) {
	occ, err := b.resolver.Occurrence(key)
	if err != nil {
		return nil, err
	}

	people := make([]domain.PersonID, len(marks))
	for i, m := range marks {
		people[i] = m.PersonID
	}
	now := b.now().UTC()
	results := b.each(people, func(i int, person domain.PersonID) ItemResult {
		m := marks[i]
		if _, err := domain.ParseStatus(string(m.Status)); err != nil {
			return ItemResult{PersonID: person, Status: ItemFailed, Err: err}
		}
		res, err := b.recorder.Record(ctx, RecordRequest{
			Occurrence: occ,
			PersonID:   person,
			Status:     m.Status,
			CheckInAt:  now,
			RecorderID: "admin",
			Note:       m.Note,
		})
		if err != nil {
			return ItemResult{PersonID: person, Status: ItemFailed, Err: err}
		}
		if res.Created {
			return ItemResult{PersonID: person, Status: ItemCreated, Record: &res.Record}
		}
		if res.Record.Status == m.Status && m.Note == "" {
			return ItemResult{PersonID: person, Status: ItemUnchanged, Record: &res.Record}
		}
		updated, err := b.records.UpdateStatus(ctx, res.Record.ID, m.Status, m.Note)
		if errors.Is(err, store.ErrNotFound) {
			err = domain.ErrRecordNotFound
		}
		if err != nil {
			return ItemResult{PersonID: person, Status: ItemFailed, Err: err}
		}
		return ItemResult{PersonID: person, Status: ItemUpdated, Record: &updated}
	})
	return results, nil
}

func (b *Bulk) Summary(ctx context.Context, key domain.SessionKey) (Summary, error) {
	occ, err := b.resolver.Occurrence(key)
	if err != nil {
		return Summary{}, err
	}
	recs, err := b.records.ListByKey(ctx, key)
	if err != nil {
		return Summary{}, fmt.Errorf("list records: %w", err)
	}
	members, err := b.members(ctx, occ)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{Key: key, Enrolled: len(members)}
	seen := make(map[domain.PersonID]bool, len(recs))
	for _, r := range recs {
		seen[r.PersonID] = true
		switch r.Status {
		case domain.StatusPresent:
			s.Present++
		case domain.StatusLate:
			s.Late++
		case domain.StatusAbsent:
			s.Absent++
		case domain.StatusExcused:
			s.Excused++
		}
	}
	for _, p := range members {
		if !seen[p] {
			s.Unrecorded++
		}
	}
	if s.Enrolled > 0 {
		s.Rate = float64(s.Present+s.Late) / float64(s.Enrolled)
	}
	return s, nil
}

func (b *Bulk) unrecorded(ctx context.Context, occ domain.Occurrence) ([]domain.PersonID, error) {
	members, err := b.members(ctx, occ)
	if err != nil {
		return nil, err
	}
	recs, err := b.records.ListByKey(ctx, occ.Key())
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	have := make(map[domain.PersonID]bool, len(recs))
	for _, r := range recs {
		have[r.PersonID] = true
	}
	var missing []domain.PersonID
	for _, p := range members {
		if !have[p] {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

func (b *Bulk) members(ctx context.Context, occ domain.Occurrence) ([]domain.PersonID, error) {
	if occ.Session.RosterID == "" {
		return nil, nil
	}
	members, err := b.rosters.Members(ctx, occ.Session.RosterID)
	if err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return members, nil
}

// each runs fn for every person with at most b.limit in flight. Results
// keep input order.
func (b *Bulk) each(people []domain.PersonID, fn func(i int, p domain.PersonID) ItemResult) []ItemResult {
	results := make([]ItemResult, len(people))
	var g errgroup.Group
	g.SetLimit(b.limit)
	for i, p := range people {
		g.Go(func() error {
			results[i] = fn(i, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func countFailed(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.Status == ItemFailed {
			n++
		}
	}
	return n
}
