package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/tracker"
)

type EligibilityChecker struct {
	rosters store.Rosters
	records store.RecordStore
	live    live
}

func NewEligibilityChecker(rosters store.Rosters, records store.RecordStore, tr tracker.Tracker, cfg Config, logger *slog.Logger) *EligibilityChecker {
	cfg = cfg.withDefaults()
	return &EligibilityChecker{
		rosters: rosters,
		records: records,
		live:    live{tracker: tr, grace: cfg.TrackerGrace, logger: orDefault(logger)},
	}
}

// Check returns nil when person may be recorded for occ. Sessions without a
// roster are open to anyone who reached this point, which for activities
// means a valid registration code.
//
// A tracker hit is trusted; a miss is confirmed against the store, and a
// store hit warms the tracker for the next event.
func (c *EligibilityChecker) Check(ctx context.Context, person domain.PersonID, occ domain.Occurrence) error {
	if roster := occ.Session.RosterID; roster != "" {
		ok, err := c.rosters.IsEnrolled(ctx, roster, person)
		if err != nil {
			return fmt.Errorf("check enrollment: %w", err)
		}
		if !ok {
			return domain.ErrNotEnrolled
		}
	}

	key := occ.Key()
	hit, err := c.live.tracker.IsRecorded(ctx, key, person)
	if err != nil {
		c.live.logger.Warn("tracker lookup failed", "session", key.String(), "err", err)
	} else if hit {
		return domain.ErrAlreadyRecorded
	}

	_, err = c.records.FindActive(ctx, key, person)
	switch {
	case err == nil:
		c.live.mark(ctx, occ, person)
		return domain.ErrAlreadyRecorded
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("find record: %w", err)
	}
}
