package analytics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubPruner struct {
	calls    atomic.Int64
	err      error
	deadline atomic.Bool
}

func (p *stubPruner) Prune(ctx context.Context) (PruneResult, error) {
	p.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		p.deadline.Store(true)
	}
	return PruneResult{EventsRemoved: 1}, p.err
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	s := NewRetentionScheduler(&stubPruner{}, "", 0, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.IsRunning() {
		t.Error("Expected scheduler to be running")
	}

	next := s.NextRun()
	if next == nil {
		t.Fatal("Expected a next run time")
	}
	if next.Minute() != 0 {
		t.Errorf("Expected hourly schedule to fire on the hour, got %v", next)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
}

func TestRetentionScheduler_StopsOnContextCancel(t *testing.T) {
	s := NewRetentionScheduler(&stubPruner{}, "*/5 * * * *", 0, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsRunning() {
		t.Error("Expected scheduler to stop after context cancellation")
	}
}

func TestRetentionScheduler_InvalidSchedule(t *testing.T) {
	s := NewRetentionScheduler(&stubPruner{}, "not a schedule", 0, quiet)

	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
	if s.IsRunning() {
		t.Error("Expected scheduler not to run")
	}
}

func TestRetentionScheduler_RunOnce(t *testing.T) {
	p := &stubPruner{}
	s := NewRetentionScheduler(p, "", time.Minute, quiet)

	result, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if result.EventsRemoved != 1 {
		t.Errorf("Expected 1 event removed, got %d", result.EventsRemoved)
	}
	if p.calls.Load() != 1 {
		t.Errorf("Expected 1 prune call, got %d", p.calls.Load())
	}
	if !p.deadline.Load() {
		t.Error("Expected sweep to run under a deadline")
	}
}

func TestRetentionScheduler_RunLogsFailure(t *testing.T) {
	p := &stubPruner{err: errors.New("boom")}
	s := NewRetentionScheduler(p, "", 0, quiet)

	// run must absorb the error.
	s.run(context.Background())
	if p.calls.Load() != 1 {
		t.Errorf("Expected 1 prune call, got %d", p.calls.Load())
	}
}
