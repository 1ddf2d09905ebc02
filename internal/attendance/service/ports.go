// Package service routes identification events through schedule
// resolution, eligibility and recording, and runs the bulk and background
// jobs around the attendance ledger.
package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
)

// Recognizer maps an opaque face embedding reference to a person. ok is
// false when the face matched nobody.
type Recognizer interface {
	Identify(ctx context.Context, embeddingRef string) (person domain.PersonID, ok bool, err error)
}

// Broadcaster pushes outcomes to live consumers.
type Broadcaster interface {
	Publish(ctx context.Context, o domain.Outcome) error
}

// Metrics observes routed events.
type Metrics interface {
	ObserveOutcome(o domain.Outcome, elapsed time.Duration)
	ObserveRecognizer(elapsed time.Duration, err error)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, domain.Outcome) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ObserveOutcome(domain.Outcome, time.Duration) {}
func (nopMetrics) ObserveRecognizer(time.Duration, error)       {}

// Config holds the tunables shared by the recorder, eligibility checker
// and router.
type Config struct {
	// LateAfter is how long after the session start a check-in is still
	// PRESENT. 0 disables LATE.
	LateAfter time.Duration
	// TrackerGrace keeps a live session in the tracker past its allowed end.
	TrackerGrace      time.Duration
	RecognizerTimeout time.Duration
	BulkConcurrency   int
}

func DefaultConfig() Config {
	return Config{
		LateAfter:         15 * time.Minute,
		TrackerGrace:      30 * time.Minute,
		RecognizerTimeout: 2 * time.Second,
		BulkConcurrency:   8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrackerGrace < 0 {
		c.TrackerGrace = 0
	}
	if c.RecognizerTimeout <= 0 {
		c.RecognizerTimeout = d.RecognizerTimeout
	}
	if c.BulkConcurrency <= 0 {
		c.BulkConcurrency = d.BulkConcurrency
	}
	return c
}
