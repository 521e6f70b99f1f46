package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs a sweep at the top of every hour.
const DefaultPruneSchedule = "0 * * * *"

// Pruner is anything that can run a retention sweep.
type Pruner interface {
	Prune(ctx context.Context) (PruneResult, error)
}

// RetentionScheduler runs a Pruner on a cron schedule.
type RetentionScheduler struct {
	pruner   Pruner
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewRetentionScheduler creates a scheduler. An empty schedule uses
// DefaultPruneSchedule; a zero timeout lets each sweep run unbounded.
func NewRetentionScheduler(pruner Pruner, schedule string, timeout time.Duration, logger *slog.Logger) *RetentionScheduler {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		pruner:   pruner,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
		logger:   logger.With("component", "analytics.retention"),
	}
}

// Start validates the schedule and begins sweeping. The scheduler stops
// when ctx is cancelled or Stop is called.
//
// Common schedules:
//   - "0 * * * *"    - Hourly
//   - "0 3 * * *"    - Daily at 3 AM
//   - "*/15 * * * *" - Every 15 minutes
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunOnce performs a sweep immediately.
func (s *RetentionScheduler) RunOnce(ctx context.Context) (PruneResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.pruner.Prune(ctx)
}

func (s *RetentionScheduler) run(ctx context.Context) {
	s.logger.Debug("starting scheduled violation pruning")

	result, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("scheduled pruning failed", "error", err)
		return
	}

	if result.EventsRemoved > 0 || result.BucketsRemoved > 0 {
		s.logger.Info("scheduled pruning completed",
			"events_removed", result.EventsRemoved,
			"buckets_removed", result.BucketsRemoved,
		)
	} else {
		s.logger.Debug("scheduled pruning completed, nothing to remove")
	}
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		done := s.cron.Stop()
		<-done.Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep, or nil if none is scheduled.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
