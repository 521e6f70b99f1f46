package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func newBreaker() *breaker.Breaker {
	return breaker.New(breaker.Config{
		Logger:    quiet,
		AfterFunc: func(time.Duration, func()) breaker.Timer { return noopTimer{} },
	})
}

func newRedisLimiter(t *testing.T, kinds map[string]KindConfig) (*FixedWindowLimiter, *miniredis.Miniredis, *breaker.Breaker) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b := newBreaker()
	return NewFixedWindowLimiter(store.NewRedisStore(client), b, kinds, WithLogger(quiet)), mr, b
}

// failingStore errors on every call.
type failingStore struct {
	err   error
	calls atomic.Int64
}

func (f *failingStore) IncrementWindow(context.Context, string, time.Duration) (store.WindowCount, error) {
	f.calls.Add(1)
	return store.WindowCount{}, f.err
}

func (f *failingStore) ChargeBudget(context.Context, store.BudgetCharge) (store.BudgetOutcome, error) {
	f.calls.Add(1)
	return store.BudgetOutcome{}, f.err
}

func (f *failingStore) Get(context.Context, string) (int64, error) { return 0, f.err }
func (f *failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, f.err }
func (f *failingStore) Ping(context.Context) error { return f.err }

// fixedStore returns a canned window count.
type fixedStore struct {
	failingStore
	wc store.WindowCount
}

func (f *fixedStore) IncrementWindow(context.Context, string, time.Duration) (store.WindowCount, error) {
	return f.wc, nil
}

func TestFixedWindowLimiter_AllowsUpToMax(t *testing.T) {
	l, _, _ := newRedisLimiter(t, map[string]KindConfig{
		"conversations": {MaxRequests: 5, Window: time.Minute},
	})
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		res, err := l.Check(ctx, "u1", "conversations")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Expected request %d to be allowed", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("Expected remaining %d, got %d", 5-i, res.Remaining)
		}
		if res.Source != store.SourceStore {
			t.Errorf("Expected source store, got %s", res.Source)
		}
	}

	res, err := l.Check(ctx, "u1", "conversations")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected 6th request to be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", res.Remaining)
	}
	if time.Until(res.ResetTime) <= 0 || time.Until(res.ResetTime) > time.Minute {
		t.Errorf("Expected reset within the next minute, got %v", res.ResetTime)
	}
}

func TestFixedWindowLimiter_UsersAreIndependent(t *testing.T) {
	l, _, _ := newRedisLimiter(t, map[string]KindConfig{
		"messages": {MaxRequests: 1, Window: time.Minute},
	})
	ctx := context.Background()

	if res, _ := l.Check(ctx, "u1", "messages"); !res.Allowed {
		t.Error("Expected u1 first request allowed")
	}
	if res, _ := l.Check(ctx, "u1", "messages"); res.Allowed {
		t.Error("Expected u1 second request denied")
	}
	if res, _ := l.Check(ctx, "u2", "messages"); !res.Allowed {
		t.Error("Expected u2 first request allowed")
	}
}

func TestFixedWindowLimiter_NoOverAdmission(t *testing.T) {
	const limit = 10
	l, _, _ := newRedisLimiter(t, map[string]KindConfig{
		"messages": {MaxRequests: limit, Window: time.Minute},
	})
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(ctx, "u1", "messages")
			if err != nil {
				t.Errorf("Check failed: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != limit {
		t.Errorf("Expected exactly %d admissions, got %d", limit, allowed.Load())
	}
}

func TestFixedWindowLimiter_KeyHasTTL(t *testing.T) {
	l, mr, _ := newRedisLimiter(t, nil)

	if _, err := l.Check(context.Background(), "u1", "messages"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	ttl := mr.TTL(Key("u1", "messages"))
	if ttl <= 0 {
		t.Errorf("Expected finite TTL on counter key, got %v", ttl)
	}
}

func TestFixedWindowLimiter_UnknownKind(t *testing.T) {
	l, _, _ := newRedisLimiter(t, nil)

	_, err := l.Check(context.Background(), "u1", "uploads")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestFixedWindowLimiter_BreakerOpenDenies(t *testing.T) {
	fs := &failingStore{err: errors.New("boom")}
	b := newBreaker()
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	l := NewFixedWindowLimiter(fs, b, nil, WithLogger(quiet))

	res, err := l.Check(context.Background(), "u1", "messages")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected denial while breaker is open")
	}
	if res.Source != store.SourceCircuitBreaker {
		t.Errorf("Expected source circuit_breaker, got %s", res.Source)
	}
	if fs.calls.Load() != 0 {
		t.Errorf("Expected store to be skipped, got %d calls", fs.calls.Load())
	}
}

func TestFixedWindowLimiter_StoreErrorFailsClosed(t *testing.T) {
	fs := &failingStore{err: errors.New("connection refused")}
	b := newBreaker()
	l := NewFixedWindowLimiter(fs, b, nil, WithLogger(quiet))

	res, err := l.Check(context.Background(), "u1", "messages")
	if err != nil {
		t.Fatalf("Expected store errors to be absorbed, got %v", err)
	}
	if res.Allowed {
		t.Error("Expected denial on store error")
	}
	if res.Remaining != 30 {
		t.Errorf("Expected placeholder remaining 30, got %d", res.Remaining)
	}
	if res.Source != store.SourceStoreError {
		t.Errorf("Expected source store_error, got %s", res.Source)
	}
	if b.Snapshot().FailureCount != 1 {
		t.Errorf("Expected 1 breaker failure, got %d", b.Snapshot().FailureCount)
	}
}

func TestFixedWindowLimiter_CancelledContextNotAFailure(t *testing.T) {
	fs := &failingStore{err: context.Canceled}
	b := newBreaker()
	l := NewFixedWindowLimiter(fs, b, nil, WithLogger(quiet))

	res, _ := l.Check(context.Background(), "u1", "messages")
	if res.Allowed {
		t.Error("Expected denial")
	}
	if b.Snapshot().FailureCount != 0 {
		t.Errorf("Expected no breaker failure for cancellation, got %d", b.Snapshot().FailureCount)
	}
}

func TestFixedWindowLimiter_InvalidTTLFallsBackToWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fs := &fixedStore{wc: store.WindowCount{Count: 1, TTLSeconds: -1}}
	l := NewFixedWindowLimiter(fs, newBreaker(), nil, WithLogger(quiet), WithClock(func() time.Time { return now }))

	res, err := l.Check(context.Background(), "u1", "messages")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.ResetTime.Equal(now.Add(60 * time.Second)) {
		t.Errorf("Expected reset at full window, got %v", res.ResetTime)
	}
}

func TestFixedWindowLimiter_SuccessDecaysFailures(t *testing.T) {
	l, _, b := newRedisLimiter(t, nil)
	b.RecordFailure()
	b.RecordFailure()

	if _, err := l.Check(context.Background(), "u1", "messages"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if b.Snapshot().FailureCount != 1 {
		t.Errorf("Expected failure count 1 after a success, got %d", b.Snapshot().FailureCount)
	}
}

func TestKey(t *testing.T) {
	if got := Key("u1", "messages"); got != "rateLimit:u1:messages" {
		t.Errorf("Expected rateLimit:u1:messages, got %s", got)
	}
}
