package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	sqlitestore "github.com/attendly/server/internal/attendance/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// RecordEvent: column values
// ═══════════════════════════════════════════════════════════════════════════

func TestEventLog_RecordEvent_ColumnsCorrect(t *testing.T) {
	conn := openTestDB(t)
	el := sqlitestore.NewEventLog(conn, newTestWriter(t, conn))
	now := time.Date(2026, 2, 16, 7, 5, 0, 0, time.UTC)

	err := el.RecordEvent(context.Background(), store.IdentificationEvent{
		ID:         "ev-1",
		Source:     domain.SourceFace,
		DeviceID:   "cam-1",
		PersonID:   "p1",
		Key:        testKey,
		Status:     domain.OutcomeCreated,
		RecordID:   "rec-1",
		ReceivedAt: now,
		DecidedAt:  now.Add(3 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		source, status, sessionID, date string
		receivedMs, decidedMs           int64
		reason                          string
	)
	err = conn.QueryRowContext(context.Background(), `
SELECT source, status, session_id, session_date, reason, received_at_ms, decided_at_ms
FROM identification_events WHERE event_id = 'ev-1'`,
	).Scan(&source, &status, &sessionID, &date, &reason, &receivedMs, &decidedMs)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if source != "FACE" || status != "CREATED" || sessionID != "s1" || date != "2026-02-16" {
		t.Errorf("unexpected row %s %s %s %s", source, status, sessionID, date)
	}
	if receivedMs != now.UnixMilli() || decidedMs != now.UnixMilli()+3 {
		t.Errorf("unexpected timestamps %d %d", receivedMs, decidedMs)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RecordEvent: rejections carry no session
// ═══════════════════════════════════════════════════════════════════════════

func TestEventLog_RecordEvent_NullOptionalFields(t *testing.T) {
	conn := openTestDB(t)
	el := sqlitestore.NewEventLog(conn, newTestWriter(t, conn))

	err := el.RecordEvent(context.Background(), store.IdentificationEvent{
		Source: domain.SourceQR,
		Status: domain.OutcomeRejected,
		Reason: "malformed_code",
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		id                  string
		sessionID, personID sql.NullString
	)
	err = conn.QueryRowContext(context.Background(),
		`SELECT event_id, session_id, person_id FROM identification_events`,
	).Scan(&id, &sessionID, &personID)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if id == "" {
		t.Error("expected a generated event id")
	}
	if sessionID.Valid || personID.Valid {
		t.Error("expected session_id and person_id to be NULL")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// PruneOlderThan
// ═══════════════════════════════════════════════════════════════════════════

func TestEventLog_PruneOlderThan(t *testing.T) {
	conn := openTestDB(t)
	el := sqlitestore.NewEventLog(conn, newTestWriter(t, conn))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{40 * 24 * time.Hour, 31 * 24 * time.Hour, time.Hour} {
		err := el.RecordEvent(ctx, store.IdentificationEvent{
			Source:     domain.SourceQR,
			Status:     domain.OutcomeCreated,
			ReceivedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	n, err := el.PruneOlderThan(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}

	var count int
	_ = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM identification_events`).Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 remaining, got %d", count)
	}
}
