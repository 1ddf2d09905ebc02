package service_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/schedule"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/store/memory"
	"github.com/attendly/server/internal/attendance/tracker"
	"github.com/attendly/server/internal/attendance/zone"
)

// 2026-02-16 is a Monday.
var monday = domain.Date{Year: 2026, Month: time.February, Day: 16}

const chessCode = "QRCHESSCLUB1STUDENT01"

// Periods 1-2: 07:00-08:40, accepted 06:00-09:10.
var classSession = domain.Session{
	ID: "s1", LocationID: "room-a", Weekday: time.Monday, StartPeriod: 1, PeriodCount: 2,
	OwnerKind: domain.OwnerClass, OwnerID: "CS101", RosterID: "cs101",
}

// Period 3: 08:50-09:40, accepted 07:50-10:10. No roster.
var activitySession = domain.Session{
	ID: "a1", LocationID: "hall", Weekday: time.Monday, StartPeriod: 3, PeriodCount: 1,
	OwnerKind: domain.OwnerActivity, OwnerID: "CHESSCLUB1",
}

var classKey = domain.SessionKey{SessionID: "s1", Date: monday}

var camera = domain.Device{
	ID: "cam-1", Kind: domain.DeviceCamera, LocationID: "room-a", Enabled: true,
	Zones: []zone.Polygon{
		{Kind: zone.Entry, Points: []zone.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}},
		{Kind: zone.Exit, Points: []zone.Point{{X: 200, Y: 0}, {X: 300, Y: 0}, {X: 300, Y: 100}, {X: 200, Y: 100}}},
	},
}

var scanner = domain.Device{ID: "scan-1", Kind: domain.DeviceScanner, LocationID: "hall", Enabled: true}

var (
	entryBox = zone.BoundingBox{X: 40, Y: 40, Width: 20, Height: 20}
	exitBox  = zone.BoundingBox{X: 240, Y: 40, Width: 20, Height: 20}
)

func at(hh, mm int) time.Time {
	return time.Date(monday.Year, monday.Month, monday.Day, hh, mm, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires the engine over in-memory stores.
type harness struct {
	catalog     *memory.Catalog
	records     *memory.RecordStore
	events      *memory.EventLog
	devices     *memory.DeviceStore
	tracker     *tracker.Memory
	resolver    *schedule.Resolver
	cfg         service.Config
	codes       *service.CodeValidator
	eligibility *service.EligibilityChecker
	recorder    *service.Recorder
	bulk        *service.Bulk
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := quietLogger()

	h := &harness{
		catalog: memory.NewCatalog(),
		records: memory.NewRecordStore(),
		events:  memory.NewEventLog(),
		devices: memory.NewDeviceStore(camera, scanner),
		tracker: tracker.NewMemory(time.Hour),
		cfg:     service.DefaultConfig(),
	}
	h.cfg.RecognizerTimeout = 100 * time.Millisecond

	h.catalog.ReplaceSessions([]domain.Session{classSession, activitySession})
	h.catalog.Enroll("cs101", "p1", "p2", "p3")
	h.catalog.PutRegistration(domain.Registration{
		Code: chessCode, ActivityID: "CHESSCLUB1", PersonID: "STUDENT01", Active: true,
	})

	tt, err := schedule.NewTimetable(schedule.DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("NewTimetable: %v", err)
	}
	h.resolver = schedule.NewResolver(h.catalog, tt, time.UTC, logger)
	h.codes = service.NewCodeValidator(h.catalog, h.records)
	h.eligibility = service.NewEligibilityChecker(h.catalog, h.records, h.tracker, h.cfg, logger)
	h.recorder = service.NewRecorder(h.records, h.resolver, h.tracker, h.cfg, logger)
	h.bulk = service.NewBulk(h.resolver, h.catalog, h.records, h.recorder, h.tracker, h.cfg, logger)
	return h
}

func (h *harness) deps(rec service.Recognizer, bc service.Broadcaster) service.RouterDeps {
	return service.RouterDeps{
		Resolver:    h.resolver,
		Codes:       h.codes,
		Eligibility: h.eligibility,
		Recorder:    h.recorder,
		Devices:     service.NewCameraRegistry(h.devices),
		Recognizer:  rec,
		Events:      h.events,
		Broadcaster: bc,
		Logger:      quietLogger(),
		Config:      h.cfg,
	}
}

func (h *harness) occurrence(t *testing.T, key domain.SessionKey) domain.Occurrence {
	t.Helper()
	occ, err := h.resolver.Occurrence(key)
	if err != nil {
		t.Fatalf("Occurrence: %v", err)
	}
	return occ
}
