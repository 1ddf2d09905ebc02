package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/tracker"
	"github.com/attendly/server/internal/attendance/types"
)

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Router  *service.Router
	Codes   *service.CodeValidator
	Records *service.Recorder
	Bulk    *service.Bulk
	Tracker tracker.Tracker
	// Live serves the websocket outcome feed. Optional.
	Live http.Handler
	// Gatherer backs /metrics. Optional.
	Gatherer prometheus.Gatherer
	// Ready reports whether dependencies are reachable. Optional.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	router     *service.Router
	codes      *service.CodeValidator
	records    *service.Recorder
	bulk       *service.Bulk
	tracker    tracker.Tracker
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:  logger,
		router:  d.Router,
		codes:   d.Codes,
		records: d.Records,
		bulk:    d.Bulk,
		tracker: d.Tracker,
		ready:   d.Ready,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scans/qr", s.handleQRScan)
		r.Post("/detections/face", s.handleFaceDetection)
		r.Get("/codes/{code}/validation", s.handleCodeValidation)

		r.Post("/records/{id}/checkout", s.handleCheckOut)
		r.Post("/records/{id}/revoke", s.handleRevoke)

		r.Get("/sessions/live", s.handleLiveSessions)
		r.Route("/sessions/{id}/{date}", func(r chi.Router) {
			r.Post("/close", s.handleCloseSession)
			r.Post("/statuses", s.handleMarkStatuses)
			r.Get("/summary", s.handleSummary)
		})

		if d.Live != nil {
			r.Handle("/live", d.Live)
		}
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ── Identification ──────────────────────────────────────────────────────────

func (s *Server) handleQRScan(w http.ResponseWriter, r *http.Request) {
	var req types.QRScanRequest
	if !s.decode(w, r, &req) {
		return
	}
	o, err := s.router.HandleQR(r.Context(), req.Scan())
	if err != nil {
		s.fail(w, "qr scan", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewOutcome(o))
}

func (s *Server) handleFaceDetection(w http.ResponseWriter, r *http.Request) {
	var req types.FaceDetectionRequest
	if !s.decode(w, r, &req) {
		return
	}
	frame, err := req.Frame()
	if err != nil {
		s.fail(w, "face detection", err)
		return
	}
	outcomes, err := s.router.HandleFaceBatch(r.Context(), frame)
	if err != nil {
		s.fail(w, "face detection", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewFaceOutcomes(outcomes))
}

func (s *Server) handleCodeValidation(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	activity := domain.ActivityID(r.URL.Query().Get("activity_id"))

	reg, err := s.codes.Validate(r.Context(), code, activity)
	out := types.CodeValidation{Code: code, Valid: err == nil}
	if reg.Code != "" {
		out.ActivityID = string(reg.ActivityID)
		out.PersonID = string(reg.PersonID)
	}
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			s.fail(w, "code validation", err)
			return
		}
		out.Reason = domain.ReasonOf(err)
	}
	respond(w, r, http.StatusOK, out)
}

// ── Records ─────────────────────────────────────────────────────────────────

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req types.CheckOutRequest
	if !s.decode(w, r, &req) {
		return
	}
	at, err := req.Time()
	if err != nil {
		s.fail(w, "check out", err)
		return
	}

	res, err := s.records.CheckOut(r.Context(), chi.URLParam(r, "id"), req.RecorderID, at)
	if errors.Is(err, domain.ErrAlreadyCheckedOut) {
		respond(w, r, http.StatusConflict, types.CheckOutResponse{
			Status: domain.ReasonOf(err), Record: types.NewRecord(res.Record),
		})
		return
	}
	if err != nil {
		s.fail(w, "check out", err)
		return
	}
	respond(w, r, http.StatusOK, types.CheckOutResponse{
		Status: string(res.Status), Record: types.NewRecord(res.Record),
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req types.RevokeRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.records.Revoke(r.Context(), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		s.fail(w, "revoke", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewRecord(rec))
}

// ── Sessions ────────────────────────────────────────────────────────────────

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	results, err := s.bulk.CloseSession(r.Context(), key)
	if err != nil {
		s.fail(w, "close session", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewBulkResponse(key, results))
}

func (s *Server) handleMarkStatuses(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req types.StatusesRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.bulk.MarkStatuses(r.Context(), key, req.StatusMarks())
	if err != nil {
		s.fail(w, "mark statuses", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewBulkResponse(key, results))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	sum, err := s.bulk.Summary(r.Context(), key)
	if err != nil {
		s.fail(w, "summary", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewSummary(sum))
}

func (s *Server) handleLiveSessions(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.tracker.Sessions(r.Context())
	if err != nil {
		s.fail(w, "live sessions", err)
		return
	}
	respond(w, r, http.StatusOK, types.NewLiveSessions(snaps))
}

// ── Helpers ─────────────────────────────────────────────────────────────────

// decode reads and validates the body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeRequest(r, v); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	if err := types.Validate(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func sessionKey(w http.ResponseWriter, r *http.Request) (domain.SessionKey, bool) {
	id := chi.URLParam(r, "id")
	date, err := domain.ParseDate(chi.URLParam(r, "date"))
	if id == "" || err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_key", "want /sessions/{id}/{YYYY-MM-DD}")
		return domain.SessionKey{}, false
	}
	return domain.SessionKey{SessionID: domain.SessionID(id), Date: date}, true
}

// fail maps classified engine errors to their HTTP status and logs the rest.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, domain.ReasonOf(err), err.Error())
	case domain.KindNotFound:
		writeError(w, http.StatusNotFound, domain.ReasonOf(err), err.Error())
	case domain.KindConflict:
		writeError(w, http.StatusConflict, domain.ReasonOf(err), err.Error())
	case domain.KindState:
		writeError(w, http.StatusUnprocessableEntity, domain.ReasonOf(err), err.Error())
	case domain.KindDependency:
		writeError(w, http.StatusServiceUnavailable, domain.ReasonOf(err), err.Error())
	default:
		s.logger.Error(op+" failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}
