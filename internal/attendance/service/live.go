package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/tracker"
)

// live applies the expiry policy shared by every writer of the tracker.
// Tracker failures are logged and swallowed: the store stays authoritative.
type live struct {
	tracker tracker.Tracker
	grace   time.Duration
	logger  *slog.Logger
}

func (l live) mark(ctx context.Context, occ domain.Occurrence, person domain.PersonID) {
	key := occ.Key()
	if err := l.tracker.Open(ctx, key, occ.AllowedEnd.Add(l.grace)); err != nil {
		l.logger.Warn("tracker open failed", "session", key.String(), "err", err)
		return
	}
	if _, err := l.tracker.MarkRecorded(ctx, key, person); err != nil {
		l.logger.Warn("tracker mark failed", "session", key.String(), "person_id", person, "err", err)
	}
}

func (l live) forget(ctx context.Context, key domain.SessionKey, person domain.PersonID) {
	if err := l.tracker.Forget(ctx, key, person); err != nil {
		l.logger.Warn("tracker forget failed", "session", key.String(), "person_id", person, "err", err)
	}
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
