// Package metrics exposes engine counters and latencies to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/db"
)

type Metrics struct {
	// Outcomes by status, reason and source.
	Outcomes *prometheus.CounterVec

	// Routing latency from receipt to outcome.
	RouteLatency *prometheus.HistogramVec

	RecognizerLatency  prometheus.Histogram
	RecognizerFailures prometheus.Counter

	// Local database writes by operation and result, including queue wait.
	DBWrites *prometheus.HistogramVec
}

// New registers the engine metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendly_outcomes_total",
			Help: "Identification outcomes by status, reason and source",
		}, []string{"status", "reason", "source"}),

		RouteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendly_route_duration_seconds",
			Help:    "Time from receiving an identification event to its outcome",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"source"}),

		RecognizerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendly_recognizer_duration_seconds",
			Help:    "Duration of face recognizer calls, including timeouts",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		RecognizerFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "attendly_recognizer_failures_total",
			Help: "Recognizer calls that errored or timed out",
		}),

		DBWrites: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendly_db_write_duration_seconds",
			Help:    "Serialized SQLite writes by operation and result, including time queued",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"op", "result"}),
	}
}

func (m *Metrics) ObserveOutcome(o domain.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o.Status), o.Reason, string(o.Source)).Inc()
	m.RouteLatency.WithLabelValues(string(o.Source)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRecognizer(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.RecognizerLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.RecognizerFailures.Inc()
	}
}

// ObserveWrite matches db.Observer. Unique violations are counted apart
// from failures: they are how duplicate check-ins are detected.
func (m *Metrics) ObserveWrite(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, db.ErrUniqueViolation):
		result = "conflict"
	case err != nil:
		result = "error"
	}
	m.DBWrites.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

// Gauges reports values owned by other components at scrape time.
type Gauges struct {
	// TimetableFallbacks counts period lookups that missed the table.
	TimetableFallbacks func() int64
	LiveClients        func() int
	DroppedBroadcasts  func() int64
}

// RegisterGauges exposes the non-nil functions in g.
func RegisterGauges(reg prometheus.Registerer, g Gauges) {
	f := promauto.With(reg)
	if g.TimetableFallbacks != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "attendly_timetable_fallbacks_total",
			Help: "Period start times computed by the fallback formula because the period is missing from the timetable",
		}, func() float64 { return float64(g.TimetableFallbacks()) })
	}
	if g.LiveClients != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "attendly_live_clients",
			Help: "Connected websocket dashboard clients",
		}, func() float64 { return float64(g.LiveClients()) })
	}
	if g.DroppedBroadcasts != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "attendly_broadcast_dropped_total",
			Help: "Outcomes skipped for websocket clients that fell behind",
		}, func() float64 { return float64(g.DroppedBroadcasts()) })
	}
}
