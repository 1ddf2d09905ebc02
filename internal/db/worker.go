package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrUniqueViolation wraps writes rejected by a UNIQUE index, such as a
	// second live attendance record for the same person and occurrence.
	ErrUniqueViolation = errors.New("unique constraint violated")

	ErrWorkerClosed = errors.New("db worker closed")
)

type TxFn func(ctx context.Context, tx *sql.Tx) error

// Observer receives the outcome of every write. Duration includes time
// spent queued behind other writes.
type Observer func(op string, elapsed time.Duration, err error)

type WorkerOption func(*Worker)

// WithObserver reports each write, e.g. to a latency histogram.
func WithObserver(o Observer) WorkerOption {
	return func(w *Worker) { w.observe = o }
}

// WithQueueSize bounds how many writes may wait for the writer.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.jobs = make(chan job, n)
		}
	}
}

type job struct {
	ctx      context.Context
	op       string
	fn       TxFn
	ch       chan error
	enqueued time.Time
}

// Worker is the single SQLite writer. Every insert and update of the
// catalog, device table, event log and local ledger goes through Do, so
// transactions never contend for the write lock.
type Worker struct {
	db      *sql.DB
	jobs    chan job
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	observe Observer
}

func NewWorker(db *sql.DB, opts ...WorkerOption) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w
}

// Close finishes queued writes and stops the writer. Later calls to Do
// return ErrWorkerClosed.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}

// Do runs fn in its own transaction on the writer goroutine. op names the
// write for observers ("records.insert"). Unique index violations are
// returned wrapping ErrUniqueViolation.
func (w *Worker) Do(ctx context.Context, op string, fn TxFn) error {
	j := job{ctx: ctx, op: op, fn: fn, ch: make(chan error, 1), enqueued: time.Now()}

	select {
	case <-w.quit:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.quit:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// A cancelled caller stops waiting, but a job already taken by the
	// loop still commits; its result is dropped into the buffered ch.
	select {
	case err := <-j.ch:
		return err
	case <-w.done:
		select {
		case err := <-j.ch:
			return err
		default:
			return ErrWorkerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case j := <-w.jobs:
			w.run(j)
		case <-w.quit:
			for {
				select {
				case j := <-w.jobs:
					w.run(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) run(j job) {
	err := w.exec(j)
	if w.observe != nil {
		w.observe(j.op, time.Since(j.enqueued), err)
	}
	j.ch <- err
}

func (w *Worker) exec(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", j.op, err)
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", j.op, classify(err))
	}
	return nil
}

// classify tags SQLite unique violations so stores can map them without
// importing the driver.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case sqlite3.SQLITE_CONSTRAINT:
		if strings.Contains(se.Error(), "UNIQUE") {
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
	}
	return err
}
