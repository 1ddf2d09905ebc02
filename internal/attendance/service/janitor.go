package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/tracker"
)

// Janitor evicts expired live sessions from the tracker and prunes the
// identification log. It runs as a background goroutine until its context
// is cancelled or Stop is called.
type Janitor struct {
	tracker    tracker.Tracker
	events     store.EventLog
	sweepEvery time.Duration
	pruneEvery time.Duration
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

type JanitorConfig struct {
	// SweepInterval is how often expired tracker sessions are evicted.
	// Defaults to one minute.
	SweepInterval time.Duration

	// EventRetentionDays is how many days of identification events to
	// keep. 0 keeps everything.
	EventRetentionDays int

	// PruneIntervalHours is how often the event log is pruned. Defaults to 6.
	PruneIntervalHours int
}

// NewJanitor creates a janitor but does not start it.
func NewJanitor(tr tracker.Tracker, events store.EventLog, cfg JanitorConfig, logger *slog.Logger) *Janitor {
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	prune := time.Duration(cfg.PruneIntervalHours) * time.Hour
	if prune <= 0 {
		prune = 6 * time.Hour
	}
	return &Janitor{
		tracker:    tr,
		events:     events,
		sweepEvery: sweep,
		pruneEvery: prune,
		retention:  time.Duration(cfg.EventRetentionDays) * 24 * time.Hour,
		logger:     orDefault(logger),
		now:        time.Now,
		done:       make(chan struct{}),
	}
}

// Start runs one sweep and prune immediately, then repeats on the
// configured intervals.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	go j.loop(ctx)

	j.logger.Info("janitor started",
		"sweep_interval", j.sweepEvery.String(),
		"retention_days", int(j.retention.Hours()/24),
		"prune_interval", j.pruneEvery.String())
}

// Stop signals the janitor to exit and waits for it. Stop before Start is
// a no-op.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}

func (j *Janitor) loop(ctx context.Context) {
	defer close(j.done)

	j.sweep(ctx)
	j.prune(ctx)

	sweep := time.NewTicker(j.sweepEvery)
	defer sweep.Stop()
	prune := time.NewTicker(j.pruneEvery)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			j.sweep(ctx)
		case <-prune.C:
			j.prune(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.tracker.Sweep(ctx, j.now())
	if err != nil {
		j.logger.Warn("tracker sweep failed", "err", err)
		return
	}
	if n > 0 {
		j.logger.Info("tracker sweep", "evicted", n)
	}
}

func (j *Janitor) prune(ctx context.Context) {
	if j.retention <= 0 || j.events == nil {
		return
	}
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.events.PruneOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Warn("event prune failed", "err", err)
		return
	}
	if deleted > 0 {
		j.logger.Info("event prune", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
}
