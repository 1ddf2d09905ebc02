package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attendly/server/internal/attendance/store"
	dbpkg "github.com/attendly/server/internal/db"
)

type EventLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.EventLog = (*EventLog)(nil)

func NewEventLog(db *sql.DB, writer *dbpkg.Worker) *EventLog {
	return &EventLog{db: db, writer: writer}
}

func (s *EventLog) RecordEvent(ctx context.Context, ev store.IdentificationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if ev.DecidedAt.IsZero() {
		ev.DecidedAt = time.Now().UTC()
	}

	var sessionID, sessionDate any
	if !ev.Key.IsZero() {
		sessionID = string(ev.Key.SessionID)
		sessionDate = ev.Key.Date.String()
	}

	return s.writer.Do(ctx, "events.record", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO identification_events(
  event_id, source, device_id, person_id, session_id, session_date,
  status, reason, record_id, received_at_ms, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			ev.ID, string(ev.Source), nullIfEmpty(string(ev.DeviceID)), nullIfEmpty(string(ev.PersonID)),
			sessionID, sessionDate, string(ev.Status), ev.Reason, nullIfEmpty(ev.RecordID),
			ev.ReceivedAt.UTC().UnixMilli(), ev.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

// PruneOlderThan deletes events received before cutoff.
//
// Uses the idx_events_time index for an efficient range scan.
func (s *EventLog) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, "events.prune", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM identification_events
WHERE received_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
