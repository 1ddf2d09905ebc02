package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/zone"
	dbpkg "github.com/attendly/server/internal/db"
)

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var _ store.DeviceStore = (*DeviceStore)(nil)

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

func (s *DeviceStore) Device(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	id = domain.DeviceID(strings.TrimSpace(string(id)))
	if id == "" {
		return domain.Device{}, store.ErrNotFound
	}

	var (
		d          domain.Device
		kind, loc  string
		zonesJSON  string
		enabled    int
		lastSeenMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT kind, location_id, zones_json, enabled, last_seen_at_ms
FROM devices
WHERE device_id = ?;
`, string(id)).Scan(&kind, &loc, &zonesJSON, &enabled, &lastSeenMs)
	if err == sql.ErrNoRows {
		return domain.Device{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Device{}, fmt.Errorf("Device query: %w", err)
	}

	var zones []zone.Polygon
	if err := json.Unmarshal([]byte(zonesJSON), &zones); err != nil {
		return domain.Device{}, fmt.Errorf("device %s zones: %w", id, err)
	}

	d.ID = id
	d.Kind = domain.DeviceKind(kind)
	d.LocationID = domain.LocationID(loc)
	d.Zones = zones
	d.Enabled = enabled == 1
	if lastSeenMs.Valid {
		d.LastSeen = time.UnixMilli(lastSeenMs.Int64).UTC()
	}
	return d, nil
}

func (s *DeviceStore) PutDevice(ctx context.Context, d domain.Device) error {
	zonesJSON, err := json.Marshal(d.Zones)
	if err != nil {
		return fmt.Errorf("encode zones: %w", err)
	}
	if d.Zones == nil {
		zonesJSON = []byte("[]")
	}
	var enabled int
	if d.Enabled {
		enabled = 1
	}
	now := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, "devices.put", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO devices(
  device_id, kind, location_id, zones_json, enabled, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  kind          = excluded.kind,
  location_id   = excluded.location_id,
  zones_json    = excluded.zones_json,
  enabled       = excluded.enabled,
  updated_at_ms = excluded.updated_at_ms;
`, string(d.ID), string(d.Kind), string(d.LocationID), string(zonesJSON), enabled, now, now); err != nil {
			return fmt.Errorf("PutDevice %s: %w", d.ID, err)
		}
		return nil
	})
}

// MarkSeen only touches registered devices; unknown ids are not created.
func (s *DeviceStore) MarkSeen(ctx context.Context, id domain.DeviceID, t time.Time) error {
	id = domain.DeviceID(strings.TrimSpace(string(id)))
	if id == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, "devices.mark_seen", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE devices
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE device_id = ?;
`, ms, ms, string(id)); err != nil {
			return fmt.Errorf("MarkSeen update device: %w", err)
		}
		return nil
	})
}
