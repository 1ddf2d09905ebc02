package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	Location string // defaults to "room-101"
}

// SeedDev creates a demo class that meets every weekday in periods 1-2, a
// chess club activity in period 6, one camera and one QR scanner. Existing
// rows are left alone.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	if opt.Location == "" {
		opt.Location = "room-101"
	}
	now := time.Now().UTC().UnixMilli()

	for wd := time.Monday; wd <= time.Friday; wd++ {
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO sessions(
  session_id, location_id, weekday, start_period, period_count,
  owner_kind, owner_id, roster_id, cancelled, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, 1, 2, 'class', 'DEMO101', 'demo-roster', 0, ?, ?),
         (?, ?, ?, 6, 1, 'activity', 'CHESSCLUB1', '', 0, ?, ?);`,
			fmt.Sprintf("demo-class-%d", wd), opt.Location, int(wd), now, now,
			fmt.Sprintf("demo-chess-%d", wd), opt.Location, int(wd), now, now,
		); err != nil {
			return fmt.Errorf("seed sessions: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO roster_members(roster_id, person_id)
VALUES ('demo-roster', 'student-001'), ('demo-roster', 'student-002'), ('demo-roster', 'student-003');`); err != nil {
		return fmt.Errorf("seed roster: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO registrations(code, activity_id, person_id, active, created_at_ms, updated_at_ms)
VALUES ('QRCHESSCLUB1STUDENT001', 'CHESSCLUB1', 'STUDENT001', 1, ?, ?);`, now, now); err != nil {
		return fmt.Errorf("seed registrations: %w", err)
	}

	// Entry zone on the left half of a 1280x720 frame, exit on the right.
	zones := `[{"type":"ENTRY","points":[{"x":0,"y":0},{"x":640,"y":0},{"x":640,"y":720},{"x":0,"y":720}]},` +
		`{"type":"EXIT","points":[{"x":640,"y":0},{"x":1280,"y":0},{"x":1280,"y":720},{"x":640,"y":720}]}]`
	if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO devices(device_id, kind, location_id, zones_json, enabled, created_at_ms, updated_at_ms)
VALUES ('cam-101', 'camera', ?, ?, 1, ?, ?),
       ('scan-101', 'scanner', ?, '[]', 1, ?, ?);`,
		opt.Location, zones, now, now,
		opt.Location, now, now,
	); err != nil {
		return fmt.Errorf("seed devices: %w", err)
	}

	return nil
}
