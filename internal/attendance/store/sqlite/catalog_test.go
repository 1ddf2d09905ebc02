package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
	sqlitestore "github.com/attendly/server/internal/attendance/store/sqlite"
	"github.com/attendly/server/internal/attendance/zone"
)

// ═══════════════════════════════════════════════════════════════════════════
// Catalog
// ═══════════════════════════════════════════════════════════════════════════

func TestCatalog_SessionsRoundTrip(t *testing.T) {
	conn := openTestDB(t)
	c := sqlitestore.NewCatalog(conn, newTestWriter(t, conn))
	ctx := context.Background()

	in := domain.Session{
		ID: "s1", LocationID: "room-a", Weekday: time.Monday, StartPeriod: 3, PeriodCount: 2,
		OwnerKind: domain.OwnerClass, OwnerID: "CS101", RosterID: "cs101-2026",
		ValidFrom: monday, ValidUntil: monday.AddDays(90),
	}
	if err := c.PutSession(ctx, in); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	in.Cancelled = true
	if err := c.PutSession(ctx, in); err != nil {
		t.Fatalf("PutSession upsert: %v", err)
	}

	got, err := c.LoadSessions(ctx)
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d", len(got))
	}
	if got[0] != in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got[0], in)
	}
}

func TestCatalog_Rosters(t *testing.T) {
	conn := openTestDB(t)
	c := sqlitestore.NewCatalog(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := c.Enroll(ctx, "r1", "p2", "p1", "p1"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	if ok, err := c.IsEnrolled(ctx, "r1", "p1"); err != nil || !ok {
		t.Errorf("expected p1 enrolled, got %v err=%v", ok, err)
	}
	if ok, _ := c.IsEnrolled(ctx, "r2", "p1"); ok {
		t.Error("expected p1 not enrolled in r2")
	}
	members, err := c.Members(ctx, "r1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 2 || members[0] != "p1" || members[1] != "p2" {
		t.Errorf("expected [p1 p2], got %v", members)
	}
}

func TestCatalog_Registrations(t *testing.T) {
	conn := openTestDB(t)
	c := sqlitestore.NewCatalog(conn, newTestWriter(t, conn))
	ctx := context.Background()

	reg := domain.Registration{Code: "QRCS101xxxxxxp1", ActivityID: "CS101", PersonID: "p1", Active: true}
	if err := c.PutRegistration(ctx, reg); err != nil {
		t.Fatalf("PutRegistration: %v", err)
	}
	got, err := c.Registration(ctx, reg.Code)
	if err != nil || got != reg {
		t.Fatalf("expected %+v, got %+v err=%v", reg, got, err)
	}

	reg.Active = false
	_ = c.PutRegistration(ctx, reg)
	got, _ = c.Registration(ctx, reg.Code)
	if got.Active {
		t.Error("expected registration to be revoked")
	}

	if _, err := c.Registration(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// DeviceStore
// ═══════════════════════════════════════════════════════════════════════════

func TestDeviceStore_PutAndLookup(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	cam := domain.Device{
		ID: "cam-1", Kind: domain.DeviceCamera, LocationID: "room-a", Enabled: true,
		Zones: []zone.Polygon{{Kind: zone.Entry, Points: []zone.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}}}},
	}
	if err := ds.PutDevice(ctx, cam); err != nil {
		t.Fatalf("PutDevice: %v", err)
	}

	got, err := ds.Device(ctx, "cam-1")
	if err != nil {
		t.Fatalf("Device: %v", err)
	}
	if got.LocationID != "room-a" || !got.Enabled || len(got.Zones) != 1 || got.Zones[0].Kind != zone.Entry {
		t.Errorf("unexpected device %+v", got)
	}
	if !got.LastSeen.IsZero() {
		t.Error("expected no last_seen before MarkSeen")
	}

	seen := time.Date(2026, 2, 16, 7, 0, 0, 0, time.UTC)
	if err := ds.MarkSeen(ctx, "cam-1", seen); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	got, _ = ds.Device(ctx, "cam-1")
	if !got.LastSeen.Equal(seen) {
		t.Errorf("expected last_seen %s, got %s", seen, got.LastSeen)
	}
}

func TestDeviceStore_UnknownDevice(t *testing.T) {
	conn := openTestDB(t)
	ds := sqlitestore.NewDeviceStore(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if _, err := ds.Device(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ds.MarkSeen(ctx, "ghost", time.Now()); err != nil {
		t.Errorf("MarkSeen on unknown device: %v", err)
	}
	if _, err := ds.Device(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected MarkSeen not to create unknown devices")
	}
}
