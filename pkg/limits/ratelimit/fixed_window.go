package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

// Key returns the counter key for a user and limit kind.
func Key(userID, kind string) string {
	return fmt.Sprintf("rateLimit:%s:%s", userID, kind)
}

// Option configures a FixedWindowLimiter.
type Option func(*FixedWindowLimiter)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *FixedWindowLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindowLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// FixedWindowLimiter enforces at most N operations of a kind per user per
// fixed window. The increment and comparison run inside one store script, so
// concurrent callers can never be admitted past the limit.
type FixedWindowLimiter struct {
	store   store.AtomicCounterStore
	breaker *breaker.Breaker
	kinds   map[string]KindConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewFixedWindowLimiter creates a limiter over the given kind table. A nil
// table uses DefaultKinds.
func NewFixedWindowLimiter(s store.AtomicCounterStore, b *breaker.Breaker, kinds map[string]KindConfig, opts ...Option) *FixedWindowLimiter {
	if kinds == nil {
		kinds = DefaultKinds()
	}

	l := &FixedWindowLimiter{
		store:   s,
		breaker: b,
		kinds:   kinds,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l
}

// Kinds returns the configured kind table.
func (l *FixedWindowLimiter) Kinds() map[string]KindConfig {
	return l.kinds
}

// Check counts one operation of kind for userID and reports whether it is
// within the window limit. The only error it returns is ErrUnknownKind;
// store failures are turned into a decision by the fallback policy.
func (l *FixedWindowLimiter) Check(ctx context.Context, userID, kind string) (Result, error) {
	cfg, ok := l.kinds[kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := l.now()
	if l.breaker.IsOpen() {
		return l.fallback(kind, cfg, now, store.SourceCircuitBreaker), nil
	}

	wc, err := l.store.IncrementWindow(ctx, Key(userID, kind), cfg.Window)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.breaker.RecordFailure()
		}
		l.logger.WarnContext(ctx, "rate limit store call failed",
			"user_id", userID,
			"limit_kind", kind,
			"error", err,
		)
		return l.fallback(kind, cfg, now, store.SourceStoreError), nil
	}
	l.breaker.RecordSuccess()

	reset := now.Add(cfg.Window)
	if wc.TTLSeconds > 0 {
		reset = now.Add(time.Duration(wc.TTLSeconds) * time.Second)
	}

	result := Result{
		Kind:      kind,
		Limit:     cfg.MaxRequests,
		Count:     wc.Count,
		ResetTime: reset,
		Source:    store.SourceStore,
	}
	if wc.Count > cfg.MaxRequests {
		result.Allowed = false
		result.Remaining = 0
	} else {
		result.Allowed = true
		result.Remaining = cfg.MaxRequests - wc.Count
	}
	return result, nil
}

// fallback builds the decision used when the store cannot be consulted.
func (l *FixedWindowLimiter) fallback(kind string, cfg KindConfig, now time.Time, source store.Source) Result {
	return Result{
		Allowed:   l.breaker.Behavior(kind) == breaker.BehaviorAllow,
		Kind:      kind,
		Limit:     cfg.MaxRequests,
		Remaining: l.fallbackRemaining(kind, cfg, source),
		ResetTime: now.Add(cfg.Window),
		Source:    source,
	}
}

func (l *FixedWindowLimiter) fallbackRemaining(kind string, cfg KindConfig, source store.Source) int64 {
	// A denied kind behind an open breaker has nothing left to offer.
	if source == store.SourceCircuitBreaker && l.breaker.Behavior(kind) == breaker.BehaviorDeny {
		return 0
	}
	return cfg.MaxRequests
}
