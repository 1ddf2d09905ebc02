package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/schedule"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/zone"
)

var tracer = otel.Tracer("github.com/attendly/server/internal/attendance/service")

type QRScan struct {
	Code       string
	LocationID domain.LocationID
	ScannerID  domain.DeviceID
	// OfficerID is the staff member confirming the scan, if any.
	OfficerID string
	ScannedAt time.Time
}

type FaceDetection struct {
	CameraID     domain.DeviceID
	EmbeddingRef string
	Box          zone.BoundingBox
	Confidence   float64
	// Zones override the camera's registered zones when set.
	Zones      []zone.Polygon
	DetectedAt time.Time
}

// FaceFrame is every face a camera detected in one frame.
type FaceFrame struct {
	CameraID   domain.DeviceID
	Zones      []zone.Polygon
	DetectedAt time.Time
	Faces      []DetectedFace
}

type DetectedFace struct {
	Box          zone.BoundingBox
	Confidence   float64
	EmbeddingRef string
}

type RouterDeps struct {
	Resolver    *schedule.Resolver
	Codes       *CodeValidator
	Eligibility *EligibilityChecker
	Recorder    *Recorder
	Devices     *CameraRegistry
	Recognizer  Recognizer
	Events      store.EventLog
	Broadcaster Broadcaster
	Metrics     Metrics
	Logger      *slog.Logger
	Config      Config
}

// Router turns QR scans and face detections into outcomes. Classified
// failures become REJECTED or DUPLICATE outcomes; only unexpected errors
// are returned.
type Router struct {
	resolver    *schedule.Resolver
	codes       *CodeValidator
	eligibility *EligibilityChecker
	recorder    *Recorder
	devices     *CameraRegistry
	recognizer  Recognizer
	events      store.EventLog
	broadcaster Broadcaster
	metrics     Metrics
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
}

func NewRouter(d RouterDeps) *Router {
	r := &Router{
		resolver:    d.Resolver,
		codes:       d.Codes,
		eligibility: d.Eligibility,
		recorder:    d.Recorder,
		devices:     d.Devices,
		recognizer:  d.Recognizer,
		events:      d.Events,
		broadcaster: d.Broadcaster,
		metrics:     d.Metrics,
		logger:      orDefault(d.Logger),
		cfg:         d.Config.withDefaults(),
		now:         time.Now,
	}
	if r.broadcaster == nil {
		r.broadcaster = nopBroadcaster{}
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	return r
}

func (r *Router) HandleQR(ctx context.Context, scan QRScan) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Router.HandleQR",
		trace.WithAttributes(attribute.String("attendly.device_id", string(scan.ScannerID))))
	defer span.End()

	received := r.now().UTC()
	at := scan.ScannedAt
	if at.IsZero() {
		at = received
	}
	o := domain.Outcome{Source: domain.SourceQR, DeviceID: scan.ScannerID, CheckInAt: at.UTC()}
	err := r.routeQR(ctx, scan, at, &o)
	return r.finish(ctx, span, o, err, received)
}

func (r *Router) routeQR(ctx context.Context, scan QRScan, at time.Time, o *domain.Outcome) error {
	if _, err := ParseCode(scan.Code); err != nil {
		return err
	}

	location := scan.LocationID
	if scan.ScannerID != "" {
		dev, err := r.devices.Lookup(ctx, scan.ScannerID)
		if err != nil {
			return err
		}
		r.noteSeen(ctx, dev.ID)
		if location == "" {
			location = dev.LocationID
		}
	}
	if location == "" {
		return domain.ErrUnknownDevice
	}

	occ, err := r.resolver.Resolve(ctx, location, at)
	if err != nil {
		return err
	}
	o.Key = occ.Key()

	reg, err := r.codes.Validate(ctx, scan.Code, occ.Session.OwnerID)
	o.PersonID = reg.PersonID
	if err != nil {
		return err
	}
	if err := r.eligibility.Check(ctx, reg.PersonID, occ); err != nil {
		return err
	}

	recorder := scan.OfficerID
	if recorder == "" {
		recorder = string(scan.ScannerID)
	}
	return r.record(ctx, o, RecordRequest{
		Occurrence: occ,
		PersonID:   reg.PersonID,
		CheckInAt:  at,
		RecorderID: recorder,
		Code:       scan.Code,
	})
}

func (r *Router) HandleFace(ctx context.Context, det FaceDetection) (domain.Outcome, error) {
	ctx, span := tracer.Start(ctx, "Router.HandleFace",
		trace.WithAttributes(
			attribute.String("attendly.device_id", string(det.CameraID)),
			attribute.Float64("attendly.confidence", det.Confidence),
		))
	defer span.End()

	received := r.now().UTC()
	at := det.DetectedAt
	if at.IsZero() {
		at = received
	}
	o := domain.Outcome{Source: domain.SourceFace, DeviceID: det.CameraID, CheckInAt: at.UTC()}
	err := r.routeFace(ctx, det, at, &o)
	return r.finish(ctx, span, o, err, received)
}

// routeFace checks the zone before calling the recognizer so faces outside
// the entry zone never cost a recognizer round trip.
func (r *Router) routeFace(ctx context.Context, det FaceDetection, at time.Time, o *domain.Outcome) error {
	cam, err := r.devices.Lookup(ctx, det.CameraID)
	if err != nil {
		return err
	}
	r.noteSeen(ctx, cam.ID)

	zones := det.Zones
	if len(zones) == 0 {
		zones = cam.Zones
	}
	if zone.Classify(det.Box.Center(), zones) != zone.Entry {
		return domain.ErrNotInEntryZone
	}

	person, err := r.identify(ctx, det.EmbeddingRef)
	if err != nil {
		return err
	}
	o.PersonID = person

	occ, err := r.resolver.Resolve(ctx, cam.LocationID, at)
	if err != nil {
		return err
	}
	o.Key = occ.Key()

	if err := r.eligibility.Check(ctx, person, occ); err != nil {
		return err
	}
	return r.record(ctx, o, RecordRequest{
		Occurrence: occ,
		PersonID:   person,
		CheckInAt:  at,
		RecorderID: string(cam.ID),
	})
}

// HandleFaceBatch routes every face of a frame concurrently. Outcomes are
// in face order; the first unexpected error is returned after all faces
// finish.
func (r *Router) HandleFaceBatch(ctx context.Context, frame FaceFrame) ([]domain.Outcome, error) {
	out := make([]domain.Outcome, len(frame.Faces))
	var g errgroup.Group
	g.SetLimit(r.cfg.BulkConcurrency)
	for i, f := range frame.Faces {
		g.Go(func() error {
			o, err := r.HandleFace(ctx, FaceDetection{
				CameraID:     frame.CameraID,
				EmbeddingRef: f.EmbeddingRef,
				Box:          f.Box,
				Confidence:   f.Confidence,
				Zones:        frame.Zones,
				DetectedAt:   frame.DetectedAt,
			})
			out[i] = o
			return err
		})
	}
	return out, g.Wait()
}

// identify bounds the recognizer call and fails closed: a timeout or error
// rejects the event instead of guessing.
func (r *Router) identify(ctx context.Context, ref string) (domain.PersonID, error) {
	if r.recognizer == nil {
		return "", domain.ErrRecognizerUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RecognizerTimeout)
	defer cancel()

	type result struct {
		person domain.PersonID
		ok     bool
		err    error
	}
	ch := make(chan result, 1)
	start := time.Now()
	go func() {
		p, ok, err := r.recognizer.Identify(ctx, ref)
		ch <- result{p, ok, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	r.metrics.ObserveRecognizer(time.Since(start), res.err)

	if res.err != nil {
		r.logger.Warn("recognizer unavailable", "embedding_ref", ref, "err", res.err)
		return "", fmt.Errorf("%w: %v", domain.ErrRecognizerUnavailable, res.err)
	}
	if !res.ok || res.person == "" {
		return "", domain.ErrUnknownPerson
	}
	return res.person, nil
}

func (r *Router) record(ctx context.Context, o *domain.Outcome, req RecordRequest) error {
	res, err := r.recorder.Record(ctx, req)
	if err != nil {
		return err
	}
	rec := res.Record
	o.Record = &rec
	o.CheckInAt = rec.CheckInAt
	if res.Created {
		o.Status = domain.OutcomeCreated
	} else {
		o.Status = domain.OutcomeDuplicate
		o.Reason = domain.ErrAlreadyRecorded.Reason
	}
	return nil
}

func (r *Router) noteSeen(ctx context.Context, id domain.DeviceID) {
	if err := r.devices.NoteSeen(ctx, id); err != nil {
		r.logger.Warn("note device seen failed", "device_id", id, "err", err)
	}
}

func (r *Router) finish(ctx context.Context, span trace.Span, o domain.Outcome, err error, received time.Time) (domain.Outcome, error) {
	if err != nil {
		classified, ok := domain.OutcomeFromError(o, err)
		if !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.logger.Error("identification failed",
				"source", o.Source, "device_id", o.DeviceID, "session", o.Key.String(), "err", err)
			return domain.Outcome{}, err
		}
		o = classified
	}

	span.SetAttributes(
		attribute.String("attendly.status", string(o.Status)),
		attribute.String("attendly.reason", o.Reason),
		attribute.String("attendly.session", o.Key.String()),
	)
	r.recordEvent(ctx, o, received)
	if err := r.broadcaster.Publish(ctx, o); err != nil {
		r.logger.Warn("broadcast failed", "session", o.Key.String(), "err", err)
	}
	r.metrics.ObserveOutcome(o, r.now().Sub(received))
	return o, nil
}

// recordEvent appends the outcome to the identification log. A failed
// write is logged and does not change the outcome the device receives.
func (r *Router) recordEvent(ctx context.Context, o domain.Outcome, received time.Time) {
	if r.events == nil {
		return
	}
	ev := store.IdentificationEvent{
		Source:     o.Source,
		DeviceID:   o.DeviceID,
		PersonID:   o.PersonID,
		Key:        o.Key,
		Status:     o.Status,
		Reason:     o.Reason,
		ReceivedAt: received,
		DecidedAt:  r.now().UTC(),
	}
	if o.Record != nil {
		ev.RecordID = o.Record.ID
	}
	if err := r.events.RecordEvent(ctx, ev); err != nil {
		r.logger.Warn("record identification event failed", "err", err)
	}
}
