package limits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/budget"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/ratelimit"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

// DefaultReportTimeout bounds a detached violation report.
const DefaultReportTimeout = 5 * time.Second

// Config contains configuration for the limits manager.
type Config struct {
	// Store executes the atomic counter scripts. Required.
	Store store.AtomicCounterStore

	// Breaker guards Store. A default breaker is created when nil.
	Breaker *breaker.Breaker

	// Analytics records violations. Optional; when nil, violation reports
	// are dropped and queries return empty results.
	Analytics *analytics.ViolationAnalytics

	// Kinds is the fixed-window limit table. Nil uses ratelimit.DefaultKinds.
	Kinds map[string]ratelimit.KindConfig

	// Tokens is the token budget configuration.
	Tokens budget.Config

	// ReportTimeout bounds each detached violation report.
	ReportTimeout time.Duration

	// Metrics is optional.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now replaces time.Now in the limiters.
	Now func() time.Time
}

// Manager is the caller-facing API for limit enforcement.
//
// The Manager owns the fixed-window limiter, the token budget limiter and the
// violation recorder, all sharing one breaker.
//
// # Example
//
//	manager := limits.NewManager(limits.Config{
//	    Store:     store.NewRedisStore(rdb),
//	    Analytics: analytics.New(rdb, b),
//	    Breaker:   b,
//	    Tokens:    budget.DefaultConfig(),
//	})
//	defer manager.Close(ctx)
//
//	res, err := manager.CheckLimit(ctx, userID, "messages")
//	if err != nil {
//	    // unknown kind: configuration defect
//	}
//	if !res.Allowed {
//	    manager.ReportViolation(ctx, userID, "messages", tier)
//	}
type Manager struct {
	store         store.AtomicCounterStore
	breaker       *breaker.Breaker
	rate          *ratelimit.FixedWindowLimiter
	budget        *budget.TokenBudgetLimiter
	analytics     *analytics.ViolationAnalytics
	metrics       *Metrics
	logger        *slog.Logger
	reportTimeout time.Duration

	mu      sync.Mutex
	closed  bool
	reports sync.WaitGroup
}

// NewManager creates a limits manager with the given configuration.
func NewManager(config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Breaker == nil {
		config.Breaker = breaker.New(breaker.Config{
			Logger:        config.Logger,
			OnStateChange: config.Metrics.BreakerStateChanged,
		})
	}
	if config.ReportTimeout <= 0 {
		config.ReportTimeout = DefaultReportTimeout
	}

	return &Manager{
		store:   config.Store,
		breaker: config.Breaker,
		rate: ratelimit.NewFixedWindowLimiter(config.Store, config.Breaker, config.Kinds,
			ratelimit.WithLogger(config.Logger),
			ratelimit.WithClock(config.Now),
		),
		budget: budget.NewTokenBudgetLimiter(config.Store, config.Breaker, config.Tokens,
			budget.WithLogger(config.Logger),
			budget.WithClock(config.Now),
		),
		analytics:     config.Analytics,
		metrics:       config.Metrics,
		logger:        config.Logger.With("component", "limits"),
		reportTimeout: config.ReportTimeout,
	}
}

// CheckLimit counts one operation of kind for userID. The only error is
// ErrUnknownKind.
func (m *Manager) CheckLimit(ctx context.Context, userID, kind string) (Result, error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordCheckDuration("check_limit", time.Since(start).Seconds())
	}()

	r, err := m.rate.Check(ctx, userID, kind)
	if err != nil {
		return Result{}, err
	}

	m.observe(kind, "increment_window", r.Source)
	m.metrics.RecordCheck(kind, r.Allowed, string(r.Source))
	if !r.Allowed {
		m.logger.DebugContext(ctx, "rate limit denied",
			"user_id", userID,
			"limit_kind", kind,
			"source", string(r.Source),
		)
	}
	return fromRateLimit(r), nil
}

// CheckAndCharge charges tokens against the user's daily and monthly budgets.
// The only error is ErrInvalidTokenCount.
func (m *Manager) CheckAndCharge(ctx context.Context, userID string, tokens int64) (Result, error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordCheckDuration("check_and_charge", time.Since(start).Seconds())
	}()

	r, err := m.budget.CheckAndCharge(ctx, userID, tokens)
	if err != nil {
		return Result{}, err
	}
	return m.budgetResult(ctx, userID, r), nil
}

// AdjustCharge charges the positive difference between actual and estimated
// token usage. Overestimates are not refunded, and a denial does not undo
// anything already delivered.
func (m *Manager) AdjustCharge(ctx context.Context, userID string, estimated, actual int64) (Result, error) {
	r, err := m.budget.Adjust(ctx, userID, estimated, actual)
	if err != nil {
		return Result{}, err
	}
	if r.Tokens == 0 {
		return Result{Allowed: true, Kind: budget.Kind, Limit: m.budget.Config().DailyLimit}, nil
	}
	return m.budgetResult(ctx, userID, r), nil
}

func (m *Manager) budgetResult(ctx context.Context, userID string, r budget.Result) Result {
	m.observe(budget.Kind, "charge_budget", r.Source)
	m.metrics.RecordBudgetCharge(r.Allowed, string(r.Exceeded()), string(r.Source))
	if !r.Allowed {
		m.logger.DebugContext(ctx, "token budget denied",
			"user_id", userID,
			"tokens", r.Tokens,
			"exceeded", string(r.Exceeded()),
		)
	}
	return fromBudget(r, m.budget.Config().DailyLimit)
}

func (m *Manager) observe(kind, operation string, source store.Source) {
	switch source {
	case store.SourceStoreError:
		m.metrics.RecordStoreError(operation)
		m.metrics.RecordFallback(kind, m.breaker.Behavior(kind))
	case store.SourceCircuitBreaker:
		m.metrics.RecordFallback(kind, m.breaker.Behavior(kind))
	}
}

// ReportViolation records a denial without blocking the caller.
//
// The write runs on its own goroutine under a fresh timeout, detached from
// ctx's cancellation so an answered request does not abort it. Its outcome
// is only visible in logs and metrics. Close waits for in-flight reports.
func (m *Manager) ReportViolation(ctx context.Context, userID, kind, tier string) {
	if m.analytics == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.metrics.RecordReportDropped()
		return
	}
	m.reports.Add(1)
	m.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer m.reports.Done()

		ctx, cancel := context.WithTimeout(detached, m.reportTimeout)
		defer cancel()
		m.analytics.LogViolation(ctx, userID, kind, tier)
	}()
}

// LogViolation records a denial and returns when the write has finished.
func (m *Manager) LogViolation(ctx context.Context, userID, kind, tier string) {
	if m.analytics == nil {
		return
	}
	m.analytics.LogViolation(ctx, userID, kind, tier)
}

// UserViolationCount returns the user's violations over the trailing hours.
func (m *Manager) UserViolationCount(ctx context.Context, userID string, hours int) int64 {
	if m.analytics == nil {
		return 0
	}
	return m.analytics.UserViolationCount(ctx, userID, hours)
}

// TopViolators returns the most frequent violators over the trailing hours.
func (m *Manager) TopViolators(ctx context.Context, hours, limit int) []analytics.Violator {
	if m.analytics == nil {
		return []analytics.Violator{}
	}
	return m.analytics.TopViolators(ctx, hours, limit)
}

// Analytics returns the violation recorder, or nil.
func (m *Manager) Analytics() *analytics.ViolationAnalytics {
	return m.analytics
}

// Health returns the breaker snapshot.
func (m *Manager) Health() breaker.Snapshot {
	return m.breaker.Snapshot()
}

// Breaker returns the shared breaker.
func (m *Manager) Breaker() *breaker.Breaker {
	return m.breaker
}

// Ping checks store connectivity without touching the breaker.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Kinds returns the fixed-window limit table.
func (m *Manager) Kinds() map[string]ratelimit.KindConfig {
	return m.rate.Kinds()
}

// TokenConfig returns the token budget configuration.
func (m *Manager) TokenConfig() budget.Config {
	return m.budget.Config()
}

// Close stops accepting violation reports and waits for in-flight ones
// until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.reports.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
