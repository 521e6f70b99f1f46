package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

// DailyKey returns the daily counter key for a user.
func DailyKey(userID string) string {
	return fmt.Sprintf("daily:%s", userID)
}

// MonthlyKey returns the monthly counter key for a user.
func MonthlyKey(userID string) string {
	return fmt.Sprintf("monthly:%s", userID)
}

// Option configures a TokenBudgetLimiter.
type Option func(*TokenBudgetLimiter)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *TokenBudgetLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *TokenBudgetLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// TokenBudgetLimiter enforces the daily and monthly token caps.
//
// Both counters are charged by one store script. If either cap would be
// exceeded the script rolls both back before returning, so a denied request
// never consumes budget on the other horizon.
type TokenBudgetLimiter struct {
	store   store.AtomicCounterStore
	breaker *breaker.Breaker
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewTokenBudgetLimiter creates a limiter. Zero TTLs take their defaults.
func NewTokenBudgetLimiter(s store.AtomicCounterStore, b *breaker.Breaker, config Config, opts ...Option) *TokenBudgetLimiter {
	defaults := DefaultConfig()
	if config.DailyTTL <= 0 {
		config.DailyTTL = defaults.DailyTTL
	}
	if config.MonthlyTTL <= 0 {
		config.MonthlyTTL = defaults.MonthlyTTL
	}

	l := &TokenBudgetLimiter{
		store:   s,
		breaker: b,
		config:  config,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "budget")
	return l
}

// Config returns the limiter configuration.
func (l *TokenBudgetLimiter) Config() Config {
	return l.config
}

// CheckAndCharge charges tokens against both caps for userID.
//
// The only error it returns is ErrInvalidTokenCount. Store failures and an
// open breaker are resolved by the fallback policy, which admits token
// charges by default.
func (l *TokenBudgetLimiter) CheckAndCharge(ctx context.Context, userID string, tokens int64) (Result, error) {
	if tokens < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidTokenCount, tokens)
	}

	now := l.now()
	if l.breaker.IsOpen() {
		return l.fallback(tokens, now, store.SourceCircuitBreaker), nil
	}

	out, err := l.store.ChargeBudget(ctx, store.BudgetCharge{
		DailyKey:     DailyKey(userID),
		MonthlyKey:   MonthlyKey(userID),
		Tokens:       tokens,
		DailyLimit:   l.config.DailyLimit,
		MonthlyLimit: l.config.MonthlyLimit,
		DailyTTL:     l.config.DailyTTL,
		MonthlyTTL:   l.config.MonthlyTTL,
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			l.breaker.RecordFailure()
		}
		l.logger.WarnContext(ctx, "token budget store call failed",
			"user_id", userID,
			"tokens", tokens,
			"error", err,
		)
		return l.fallback(tokens, now, store.SourceStoreError), nil
	}
	l.breaker.RecordSuccess()

	result := Result{
		Allowed:     out.Allowed,
		Tokens:      tokens,
		DailyUsed:   out.DailyUsed,
		MonthlyUsed: out.MonthlyUsed,
		Remaining:   l.remaining(out.DailyUsed, out.MonthlyUsed),
		ResetTime:   now.Add(l.resetIn(out.DailyTTLSeconds, out.MonthlyTTLSeconds)),
		Source:      store.SourceStore,
	}
	if !out.Allowed {
		// Values are post-rollback; add the charge back to see which cap broke.
		result.ExceededDaily = out.DailyUsed+tokens > l.config.DailyLimit
		result.ExceededMonthly = out.MonthlyUsed+tokens > l.config.MonthlyLimit
	}
	return result, nil
}

// Adjust charges the positive difference between actual and estimated usage
// once the real consumption is known. Overestimates are not refunded.
//
// A denial here is logged and returned but nothing is undone: the tokens
// were already spent downstream.
func (l *TokenBudgetLimiter) Adjust(ctx context.Context, userID string, estimated, actual int64) (Result, error) {
	if estimated < 0 || actual < 0 {
		return Result{}, fmt.Errorf("%w: estimated=%d actual=%d", ErrInvalidTokenCount, estimated, actual)
	}

	diff := actual - estimated
	if diff <= 0 {
		return Result{Allowed: true}, nil
	}

	result, err := l.CheckAndCharge(ctx, userID, diff)
	if err != nil {
		return result, err
	}
	if !result.Allowed {
		l.logger.WarnContext(ctx, "post-hoc token adjustment denied",
			"user_id", userID,
			"estimated", estimated,
			"actual", actual,
			"exceeded", string(result.Exceeded()),
		)
	}
	return result, nil
}

func (l *TokenBudgetLimiter) fallback(tokens int64, now time.Time, source store.Source) Result {
	return Result{
		Allowed:   l.breaker.Behavior(Kind) == breaker.BehaviorAllow,
		Tokens:    tokens,
		Remaining: l.config.DailyLimit,
		ResetTime: now.Add(l.config.DailyTTL),
		Source:    source,
	}
}

func (l *TokenBudgetLimiter) remaining(dailyUsed, monthlyUsed int64) int64 {
	r := min(l.config.DailyLimit-dailyUsed, l.config.MonthlyLimit-monthlyUsed)
	return max(r, 0)
}

// resetIn returns the shorter of the two TTLs, substituting the configured
// lifetime for any value the store reported as missing.
func (l *TokenBudgetLimiter) resetIn(dailyTTL, monthlyTTL int64) time.Duration {
	d := l.config.DailyTTL
	if dailyTTL > 0 {
		d = time.Duration(dailyTTL) * time.Second
	}
	m := l.config.MonthlyTTL
	if monthlyTTL > 0 {
		m = time.Duration(monthlyTTL) * time.Second
	}
	return min(d, m)
}
