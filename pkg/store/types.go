package store

import (
	"context"
	"errors"
	"time"
)

// AtomicCounterStore is the contract the limiters need from the shared store.
// Implementations must execute IncrementWindow and ChargeBudget as single
// indivisible operations relative to every other caller of the same store.
type AtomicCounterStore interface {
	// IncrementWindow adds one to the counter at key and guarantees the key
	// carries an expiry. It returns the post-increment count and remaining TTL.
	IncrementWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error)

	// ChargeBudget charges both budget counters, rolling both back if either
	// would exceed its limit.
	ChargeBudget(ctx context.Context, charge BudgetCharge) (BudgetOutcome, error)

	// Get returns the integer value at key, or 0 if the key does not exist.
	Get(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime of key. Negative values follow Redis
	// conventions: -1 for no expiry, -2 for a missing key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}

// WindowCount is the result of a fixed-window increment.
type WindowCount struct {
	// Count is the counter value after the increment.
	Count int64

	// TTLSeconds is the remaining window lifetime as reported by the store.
	// Callers must treat values <= 0 as unknown.
	TTLSeconds int64
}

// BudgetCharge describes a joint daily/monthly charge.
type BudgetCharge struct {
	DailyKey     string
	MonthlyKey   string
	Tokens       int64
	DailyLimit   int64
	MonthlyLimit int64
	DailyTTL     time.Duration
	MonthlyTTL   time.Duration
}

// BudgetOutcome is the 5-tuple returned by the budget script.
type BudgetOutcome struct {
	// Allowed reports whether the charge was kept.
	Allowed bool

	// DailyUsed and MonthlyUsed are the counter values after the script ran.
	// When Allowed is false they are the post-rollback values.
	DailyUsed   int64
	MonthlyUsed int64

	DailyTTLSeconds   int64
	MonthlyTTLSeconds int64
}

// ErrMalformedResponse is returned when a script reply does not have the
// expected shape.
var ErrMalformedResponse = errors.New("malformed store response")

// Source records where a limiter decision came from.
type Source string

const (
	// SourceStore means the decision was made by an atomic script.
	SourceStore Source = "store"

	// SourceCircuitBreaker means the store was skipped because the breaker
	// was open and the fallback policy decided.
	SourceCircuitBreaker Source = "circuit_breaker"

	// SourceStoreError means the store call failed and the fallback policy
	// decided.
	SourceStoreError Source = "store_error"
)
