package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/store"
	"github.com/attendly/server/internal/attendance/store/memory"
	"github.com/attendly/server/internal/attendance/tracker"
)

func TestJanitor_SweepsAndPrunesOnStart(t *testing.T) {
	ctx := context.Background()
	tr := tracker.NewMemory(time.Hour)
	events := memory.NewEventLog()

	expired := domain.SessionKey{SessionID: "s1", Date: monday}
	current := domain.SessionKey{SessionID: "s2", Date: monday}
	if err := tr.Open(ctx, expired, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tr.Open(ctx, current, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, age := range []time.Duration{40 * 24 * time.Hour, time.Hour} {
		_ = events.RecordEvent(ctx, store.IdentificationEvent{
			Source: domain.SourceQR, Status: domain.OutcomeCreated, ReceivedAt: time.Now().UTC().Add(-age),
		})
	}

	j := service.NewJanitor(tr, events, service.JanitorConfig{
		SweepInterval:      time.Hour,
		EventRetentionDays: 30,
	}, quietLogger())
	j.Start(ctx)
	j.Stop()

	if _, ok, _ := tr.Snapshot(ctx, expired); ok {
		t.Error("expected expired session to be swept")
	}
	if _, ok, _ := tr.Snapshot(ctx, current); !ok {
		t.Error("expected current session to survive")
	}
	if n := len(events.Events()); n != 1 {
		t.Errorf("expected 1 event after prune, got %d", n)
	}
}

func TestJanitor_ZeroRetentionKeepsEvents(t *testing.T) {
	ctx := context.Background()
	events := memory.NewEventLog()
	_ = events.RecordEvent(ctx, store.IdentificationEvent{
		Source: domain.SourceFace, Status: domain.OutcomeRejected, ReceivedAt: time.Now().AddDate(-1, 0, 0),
	})

	j := service.NewJanitor(tracker.NewMemory(time.Hour), events, service.JanitorConfig{}, quietLogger())
	j.Start(ctx)
	j.Stop()

	if n := len(events.Events()); n != 1 {
		t.Errorf("expected event kept with retention=0, got %d", n)
	}
}

func TestJanitor_StopWithoutStart(t *testing.T) {
	j := service.NewJanitor(tracker.NewMemory(time.Hour), nil, service.JanitorConfig{}, quietLogger())
	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop without Start blocked")
	}
}

func TestJanitor_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	j := service.NewJanitor(tracker.NewMemory(time.Hour), memory.NewEventLog(), service.JanitorConfig{
		SweepInterval: 10 * time.Millisecond,
	}, quietLogger())
	j.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		j.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not exit after cancel")
	}
}
