package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	//go:embed fixed_window.lua
	fixedWindowSource string

	//go:embed token_budget.lua
	tokenBudgetSource string

	fixedWindowScript = redis.NewScript(fixedWindowSource)
	tokenBudgetScript = redis.NewScript(tokenBudgetSource)
)

// RedisStore implements AtomicCounterStore on top of go-redis.
// In cluster mode both budget keys of a charge must hash to the same slot.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix prepends prefix to every key the store touches.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a store backed by client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

// Key returns the fully prefixed form of key.
func (s *RedisStore) Key(key string) string {
	return s.prefix + key
}

// IncrementWindow runs the fixed-window script.
func (s *RedisStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error) {
	reply, err := fixedWindowScript.Run(ctx, s.client, []string{s.Key(key)}, seconds(window)).Slice()
	if err != nil {
		return WindowCount{}, fmt.Errorf("fixed window script: %w", err)
	}

	values, err := int64s(reply, 2)
	if err != nil {
		return WindowCount{}, err
	}

	return WindowCount{Count: values[0], TTLSeconds: values[1]}, nil
}

// ChargeBudget runs the dual-budget script.
func (s *RedisStore) ChargeBudget(ctx context.Context, charge BudgetCharge) (BudgetOutcome, error) {
	keys := []string{s.Key(charge.DailyKey), s.Key(charge.MonthlyKey)}
	reply, err := tokenBudgetScript.Run(ctx, s.client, keys,
		charge.Tokens,
		charge.DailyLimit,
		charge.MonthlyLimit,
		seconds(charge.DailyTTL),
		seconds(charge.MonthlyTTL),
	).Slice()
	if err != nil {
		return BudgetOutcome{}, fmt.Errorf("token budget script: %w", err)
	}

	values, err := int64s(reply, 5)
	if err != nil {
		return BudgetOutcome{}, err
	}

	return BudgetOutcome{
		Allowed:           values[0] == 1,
		DailyUsed:         values[1],
		MonthlyUsed:       values[2],
		DailyTTLSeconds:   values[3],
		MonthlyTTLSeconds: values[4],
	}, nil
}

// Get returns the integer at key, or 0 when the key is missing.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, s.Key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

// TTL returns the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %q: %w", key, err)
	}
	return d, nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// seconds converts d to whole seconds for EXPIRE, never returning less than 1.
func seconds(d time.Duration) int64 {
	n := int64(d / time.Second)
	if n < 1 {
		return 1
	}
	return n
}

// int64s converts a script reply into exactly n integers.
func int64s(reply []interface{}, n int) ([]int64, error) {
	if len(reply) != n {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrMalformedResponse, n, len(reply))
	}

	out := make([]int64, n)
	for i, v := range reply {
		switch t := v.(type) {
		case int64:
			out[i] = t
		case string:
			parsed, err := strconv.ParseInt(t, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: value %d is %q", ErrMalformedResponse, i, t)
			}
			out[i] = parsed
		default:
			return nil, fmt.Errorf("%w: value %d has type %T", ErrMalformedResponse, i, v)
		}
	}
	return out, nil
}
