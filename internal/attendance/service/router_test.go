package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/service/mocks"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/store/memory"
	"github.com/attendly/server/internal/attendance/zone"
)

func faceAt(box, hh, mm int) service.FaceDetection {
	b := entryBox
	if box != 0 {
		b = exitBox
	}
	return service.FaceDetection{
		CameraID: "cam-1", EmbeddingRef: "emb-1", Box: b, Confidence: 0.93, DetectedAt: at(hh, mm),
	}
}

type failingEvents struct{}

func (failingEvents) RecordEvent(context.Context, store.IdentificationEvent) error {
	return errors.New("disk full")
}

func (failingEvents) PruneOlderThan(context.Context, time.Time) (int64, error) { return 0, nil }

type brokenRecords struct {
	*memory.RecordStore
}

func (brokenRecords) FindActive(context.Context, domain.SessionKey, domain.PersonID) (domain.AttendanceRecord, error) {
	return domain.AttendanceRecord{}, errors.New("connection reset")
}

// ═══════════════════════════════════════════════════════════════════════════
// FACE
// ═══════════════════════════════════════════════════════════════════════════

func TestHandleFace_CreatedThenDuplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	bc := mocks.NewMockBroadcaster(ctrl)
	h := newHarness(t)
	router := service.NewRouter(h.deps(rec, bc))
	ctx := context.Background()

	rec.EXPECT().Identify(gomock.Any(), "emb-1").Return(domain.PersonID("p1"), true, nil).Times(2)
	bc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	first, err := router.HandleFace(ctx, faceAt(0, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, first.Status)
	assert.Equal(t, classKey, first.Key)
	assert.Equal(t, domain.PersonID("p1"), first.PersonID)
	require.NotNil(t, first.Record)
	assert.Equal(t, "cam-1", first.Record.RecorderID)
	assert.Equal(t, domain.StatusPresent, first.Record.Status)

	second, err := router.HandleFace(ctx, faceAt(0, 7, 6))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Status)
	assert.Equal(t, "already_recorded", second.Reason)
	assert.Equal(t, classKey, second.Key)

	assert.Equal(t, 1, h.records.Len())
	events := h.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.OutcomeCreated, events[0].Status)
	assert.Equal(t, first.Record.ID, events[0].RecordID)
	assert.Equal(t, domain.OutcomeDuplicate, events[1].Status)

	dev, err := h.devices.Device(ctx, "cam-1")
	require.NoError(t, err)
	assert.False(t, dev.LastSeen.IsZero(), "camera must be marked seen")
}

func TestHandleFace_OutsideEntryZoneSkipsRecognizer(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	h := newHarness(t)
	router := service.NewRouter(h.deps(rec, nil))

	out, err := router.HandleFace(context.Background(), faceAt(1, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Status)
	assert.Equal(t, "not_in_entry_zone", out.Reason)
	assert.Zero(t, h.records.Len())
}

func TestHandleFace_RequestZonesOverrideCamera(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	h := newHarness(t)
	router := service.NewRouter(h.deps(rec, nil))

	rec.EXPECT().Identify(gomock.Any(), "emb-1").Return(domain.PersonID("p1"), true, nil)

	det := faceAt(1, 7, 5)
	det.Zones = []zone.Polygon{{
		Kind:   zone.Entry,
		Points: []zone.Point{{X: 200, Y: 0}, {X: 300, Y: 0}, {X: 300, Y: 100}, {X: 200, Y: 100}},
	}}
	out, err := router.HandleFace(context.Background(), det)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, out.Status)
}

func TestHandleFace_RecognizerFailsClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		rec := mocks.NewMockRecognizer(ctrl)
		h := newHarness(t)
		router := service.NewRouter(h.deps(rec, nil))

		rec.EXPECT().Identify(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ string) (domain.PersonID, bool, error) {
				<-ctx.Done()
				return "", false, ctx.Err()
			})

		start := time.Now()
		out, err := router.HandleFace(ctx, faceAt(0, 7, 5))
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeRejected, out.Status)
		assert.Equal(t, "recognizer_unavailable", out.Reason)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Zero(t, h.records.Len())
	})

	t.Run("error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		rec := mocks.NewMockRecognizer(ctrl)
		h := newHarness(t)
		router := service.NewRouter(h.deps(rec, nil))

		rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID(""), false, errors.New("503"))

		out, err := router.HandleFace(ctx, faceAt(0, 7, 5))
		require.NoError(t, err)
		assert.Equal(t, "recognizer_unavailable", out.Reason)
	})

	t.Run("unknown person", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		rec := mocks.NewMockRecognizer(ctrl)
		h := newHarness(t)
		router := service.NewRouter(h.deps(rec, nil))

		rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID(""), false, nil)

		out, err := router.HandleFace(ctx, faceAt(0, 7, 5))
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeRejected, out.Status)
		assert.Equal(t, "unknown_person", out.Reason)
	})
}

func TestHandleFace_Rejections(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID("stranger"), true, nil).AnyTimes()

	h := newHarness(t)
	router := service.NewRouter(h.deps(rec, nil))

	unknownCam := faceAt(0, 7, 5)
	unknownCam.CameraID = "cam-9"
	out, err := router.HandleFace(ctx, unknownCam)
	require.NoError(t, err)
	assert.Equal(t, "unknown_device", out.Reason)

	out, err = router.HandleFace(ctx, faceAt(0, 5, 55))
	require.NoError(t, err)
	assert.Equal(t, "no_active_session", out.Reason)

	out, err = router.HandleFace(ctx, faceAt(0, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, "not_enrolled", out.Reason)
	assert.Equal(t, classKey, out.Key)

	assert.Len(t, h.events.Events(), 3, "rejections are logged too")
}

func TestHandleFace_DisabledCamera(t *testing.T) {
	h := newHarness(t)
	disabled := camera
	disabled.Enabled = false
	require.NoError(t, h.devices.PutDevice(context.Background(), disabled))
	router := service.NewRouter(h.deps(nil, nil))

	out, err := router.HandleFace(context.Background(), faceAt(0, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, "unknown_device", out.Reason)
}

func TestHandleFace_SideEffectFailuresDoNotChangeOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	bc := mocks.NewMockBroadcaster(ctrl)
	h := newHarness(t)
	deps := h.deps(rec, bc)
	deps.Events = failingEvents{}
	router := service.NewRouter(deps)

	rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID("p1"), true, nil)
	bc.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("no subscribers"))

	out, err := router.HandleFace(context.Background(), faceAt(0, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, out.Status)
}

func TestHandleFace_StorageErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID("p1"), true, nil)

	h := newHarness(t)
	broken := brokenRecords{h.records}
	deps := h.deps(rec, nil)
	deps.Eligibility = service.NewEligibilityChecker(h.catalog, broken, h.tracker, h.cfg, quietLogger())
	router := service.NewRouter(deps)

	_, err := router.HandleFace(context.Background(), faceAt(0, 7, 5))
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknown, domain.KindOf(err))
	assert.Empty(t, h.events.Events())
}

func TestHandleFace_Metrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	m := mocks.NewMockMetrics(ctrl)
	h := newHarness(t)
	deps := h.deps(rec, nil)
	deps.Metrics = m
	router := service.NewRouter(deps)

	rec.EXPECT().Identify(gomock.Any(), gomock.Any()).Return(domain.PersonID("p1"), true, nil)
	m.EXPECT().ObserveRecognizer(gomock.Any(), nil)
	var observed domain.Outcome
	m.EXPECT().ObserveOutcome(gomock.Any(), gomock.Any()).Do(func(o domain.Outcome, _ time.Duration) {
		observed = o
	})

	_, err := router.HandleFace(context.Background(), faceAt(0, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, observed.Status)
}

func TestHandleFaceBatch_KeepsFaceOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := mocks.NewMockRecognizer(ctrl)
	h := newHarness(t)
	router := service.NewRouter(h.deps(rec, nil))

	rec.EXPECT().Identify(gomock.Any(), "emb-p1").Return(domain.PersonID("p1"), true, nil)
	rec.EXPECT().Identify(gomock.Any(), "emb-p2").Return(domain.PersonID("p2"), true, nil)

	outs, err := router.HandleFaceBatch(context.Background(), service.FaceFrame{
		CameraID:   "cam-1",
		DetectedAt: at(7, 5),
		Faces: []service.DetectedFace{
			{Box: entryBox, Confidence: 0.9, EmbeddingRef: "emb-p1"},
			{Box: exitBox, Confidence: 0.9, EmbeddingRef: "emb-exit"},
			{Box: entryBox, Confidence: 0.8, EmbeddingRef: "emb-p2"},
		},
	})
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, domain.PersonID("p1"), outs[0].PersonID)
	assert.Equal(t, "not_in_entry_zone", outs[1].Reason)
	assert.Equal(t, domain.PersonID("p2"), outs[2].PersonID)
	assert.Equal(t, 2, h.records.Len())
}

// ═══════════════════════════════════════════════════════════════════════════
// QR
// ═══════════════════════════════════════════════════════════════════════════

func TestHandleQR_CreatedThenAlreadyUsed(t *testing.T) {
	h := newHarness(t)
	router := service.NewRouter(h.deps(nil, nil))
	ctx := context.Background()

	out, err := router.HandleQR(ctx, service.QRScan{Code: chessCode, ScannerID: "scan-1", ScannedAt: at(8, 45)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, out.Status)
	assert.Equal(t, domain.SessionKey{SessionID: "a1", Date: monday}, out.Key)
	assert.Equal(t, domain.PersonID("STUDENT01"), out.PersonID)
	require.NotNil(t, out.Record)
	assert.Equal(t, chessCode, out.Record.Code)
	assert.Equal(t, "scan-1", out.Record.RecorderID)

	out, err = router.HandleQR(ctx, service.QRScan{Code: chessCode, LocationID: "hall", OfficerID: "officer-7", ScannedAt: at(8, 50)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, out.Status)
	assert.Equal(t, "already_used", out.Reason)
	assert.Equal(t, 1, h.records.Len())
}

func TestHandleQR_Rejections(t *testing.T) {
	h := newHarness(t)
	router := service.NewRouter(h.deps(nil, nil))
	ctx := context.Background()

	tests := []struct {
		name   string
		scan   service.QRScan
		reason string
	}{
		{"length 10", service.QRScan{Code: "QRCHESS123", LocationID: "hall", ScannedAt: at(8, 45)}, "malformed_code"},
		{"lowercase prefix", service.QRScan{Code: "qrCHESSCLUB1STUDENT01", LocationID: "hall", ScannedAt: at(8, 45)}, "malformed_code"},
		{"unknown code", service.QRScan{Code: "QRCHESSCLUB1NOBODY999", LocationID: "hall", ScannedAt: at(8, 45)}, "unknown_code"},
		{"class session", service.QRScan{Code: chessCode, LocationID: "room-a", ScannedAt: at(7, 5)}, "wrong_activity"},
		{"outside window", service.QRScan{Code: chessCode, LocationID: "hall", ScannedAt: at(10, 30)}, "no_active_session"},
		{"unknown scanner", service.QRScan{Code: chessCode, ScannerID: "scan-9", ScannedAt: at(8, 45)}, "unknown_device"},
		{"no location", service.QRScan{Code: chessCode, ScannedAt: at(8, 45)}, "unknown_device"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := router.HandleQR(ctx, tc.scan)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeRejected, out.Status)
			assert.Equal(t, tc.reason, out.Reason)
		})
	}
	assert.Zero(t, h.records.Len())
}
