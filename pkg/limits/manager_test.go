package limits

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/breaker"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/budget"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/ratelimit"
	"github.com/lfariabr/excel-pilot-sub000/pkg/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

type testEnv struct {
	manager *Manager
	mr      *miniredis.Miniredis
	breaker *breaker.Breaker
	metrics *Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	metrics := NewMetrics("test", prometheus.NewRegistry())
	b := breaker.New(breaker.Config{
		Logger:        quiet,
		AfterFunc:     func(time.Duration, func()) breaker.Timer { return noopTimer{} },
		OnStateChange: metrics.BreakerStateChanged,
	})

	m := NewManager(Config{
		Store:     store.NewRedisStore(client),
		Breaker:   b,
		Analytics: analytics.New(client, b, analytics.WithLogger(quiet), analytics.WithObserver(metrics)),
		Kinds: map[string]ratelimit.KindConfig{
			"messages":      {MaxRequests: 3, Window: time.Minute},
			"conversations": {MaxRequests: 5, Window: time.Minute},
		},
		Tokens:  budget.DefaultConfig(),
		Metrics: metrics,
		Logger:  quiet,
	})
	t.Cleanup(func() { m.Close(context.Background()) })

	return &testEnv{manager: m, mr: mr, breaker: b, metrics: metrics}
}

func TestManager_CheckLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := env.manager.CheckLimit(ctx, "u1", "messages")
		if err != nil {
			t.Fatalf("CheckLimit failed: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}

	res, err := env.manager.CheckLimit(ctx, "u1", "messages")
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected 4th request to be denied")
	}
	if res.Reason != "messages limit exceeded" {
		t.Errorf("Expected reason, got %q", res.Reason)
	}
	if res.Limit != 3 {
		t.Errorf("Expected limit 3, got %d", res.Limit)
	}

	allowed := testutil.ToFloat64(env.metrics.checks.WithLabelValues("messages", "allowed", "store"))
	blocked := testutil.ToFloat64(env.metrics.checks.WithLabelValues("messages", "blocked", "store"))
	if allowed != 3 || blocked != 1 {
		t.Errorf("Expected 3 allowed / 1 blocked, got %v / %v", allowed, blocked)
	}
}

func TestManager_UnknownKind(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.CheckLimit(context.Background(), "u1", "uploads")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Expected ErrUnknownKind, got %v", err)
	}
}

func TestManager_CheckAndCharge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.manager.CheckAndCharge(ctx, "u1", 50000)
	if err != nil {
		t.Fatalf("CheckAndCharge failed: %v", err)
	}
	if !res.Allowed || res.Kind != "tokens" {
		t.Fatalf("Expected allowed tokens result, got %+v", res)
	}

	res, _ = env.manager.CheckAndCharge(ctx, "u1", 1000)
	if res.Allowed {
		t.Fatal("Expected denial past daily cap")
	}
	if res.Exceeded != "daily" {
		t.Errorf("Expected exceeded daily, got %q", res.Exceeded)
	}
	if res.Reason != "daily token budget exceeded" {
		t.Errorf("Expected daily reason, got %q", res.Reason)
	}

	blocked := testutil.ToFloat64(env.metrics.budgetCharges.WithLabelValues("blocked", "daily", "store"))
	if blocked != 1 {
		t.Errorf("Expected 1 blocked charge metric, got %v", blocked)
	}
}

func TestManager_InvalidTokens(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.CheckAndCharge(context.Background(), "u1", -1)
	if !errors.Is(err, ErrInvalidTokenCount) {
		t.Errorf("Expected ErrInvalidTokenCount, got %v", err)
	}
}

func TestManager_AdjustCharge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.CheckAndCharge(ctx, "u1", 100); err != nil {
		t.Fatalf("CheckAndCharge failed: %v", err)
	}

	res, err := env.manager.AdjustCharge(ctx, "u1", 100, 250)
	if err != nil {
		t.Fatalf("AdjustCharge failed: %v", err)
	}
	if !res.Allowed || res.Tokens != 150 {
		t.Errorf("Expected 150 tokens charged, got %+v", res)
	}

	res, err = env.manager.AdjustCharge(ctx, "u1", 250, 10)
	if err != nil {
		t.Fatalf("AdjustCharge failed: %v", err)
	}
	if !res.Allowed || res.Tokens != 0 {
		t.Errorf("Expected no-op adjustment, got %+v", res)
	}

	daily, _ := env.mr.Get("daily:u1")
	if daily != "250" {
		t.Errorf("Expected daily 250, got %s", daily)
	}
}

func TestManager_AsymmetricFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		env.breaker.RecordFailure()
	}

	res, err := env.manager.CheckLimit(ctx, "u1", "messages")
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if res.Allowed {
		t.Error("Expected rate limit to fail closed")
	}

	res, err = env.manager.CheckAndCharge(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("CheckAndCharge failed: %v", err)
	}
	if !res.Allowed {
		t.Error("Expected token budget to fail open")
	}

	if v := testutil.ToFloat64(env.metrics.fallbacks.WithLabelValues("messages", "deny")); v != 1 {
		t.Errorf("Expected 1 deny fallback, got %v", v)
	}
	if v := testutil.ToFloat64(env.metrics.fallbacks.WithLabelValues("tokens", "allow")); v != 1 {
		t.Errorf("Expected 1 allow fallback, got %v", v)
	}
	if v := testutil.ToFloat64(env.metrics.breakerState); v != float64(breaker.StateOpen) {
		t.Errorf("Expected breaker gauge open, got %v", v)
	}
}

func TestManager_StoreOutageOpensBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mr.SetError("LOADING")
	for i := 0; i < 5; i++ {
		res, _ := env.manager.CheckLimit(ctx, "u1", "messages")
		if res.Allowed {
			t.Errorf("Expected denial during outage, attempt %d", i+1)
		}
	}

	if env.manager.Health().State != breaker.StateOpen {
		t.Errorf("Expected breaker open after outage, got %s", env.manager.Health().State)
	}
	if v := testutil.ToFloat64(env.metrics.storeErrors.WithLabelValues("increment_window")); v != 5 {
		t.Errorf("Expected 5 store errors, got %v", v)
	}
}

func TestManager_ReportViolation(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		env.manager.ReportViolation(ctx, "u1", "messages", "free")
	}
	// Cancelling the caller's context must not abort detached reports.
	cancel()

	if err := env.manager.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := env.manager.UserViolationCount(context.Background(), "u1", 24); got != 3 {
		t.Errorf("Expected 3 violations, got %d", got)
	}

	// Reports after Close are dropped.
	env.manager.ReportViolation(context.Background(), "u1", "messages", "free")
	if v := testutil.ToFloat64(env.metrics.reportsDropped); v != 1 {
		t.Errorf("Expected 1 dropped report, got %v", v)
	}
}

func TestManager_TopViolators(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	counts := map[string]int{"u1": 8, "u2": 5, "u3": 3}
	tiers := map[string]string{"u1": "free", "u2": "pro", "u3": "enterprise"}
	for user, n := range counts {
		for i := 0; i < n; i++ {
			env.manager.LogViolation(ctx, user, "messages", tiers[user])
		}
	}

	top := env.manager.TopViolators(ctx, 24, 10)
	if len(top) != 3 {
		t.Fatalf("Expected 3 violators, got %d", len(top))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if top[i].UserID != want {
			t.Errorf("Rank %d: expected %s, got %s", i, want, top[i].UserID)
		}
		if top[i].Tier != tiers[want] {
			t.Errorf("Rank %d: expected tier %s, got %s", i, tiers[want], top[i].Tier)
		}
		if top[i].Count != int64(counts[want]) {
			t.Errorf("Rank %d: expected count %d, got %d", i, counts[want], top[i].Count)
		}
	}
}

func TestManager_WithoutAnalytics(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewManager(Config{Store: store.NewRedisStore(client), Logger: quiet})
	ctx := context.Background()

	m.ReportViolation(ctx, "u1", "messages", "free")
	m.LogViolation(ctx, "u1", "messages", "free")
	if m.UserViolationCount(ctx, "u1", 24) != 0 {
		t.Error("Expected 0 without analytics")
	}
	if top := m.TopViolators(ctx, 24, 10); top == nil || len(top) != 0 {
		t.Errorf("Expected empty slice, got %+v", top)
	}
	if _, err := m.CheckLimit(ctx, "u1", "messages"); err != nil {
		t.Errorf("Expected default kinds to include messages, got %v", err)
	}
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		res  Result
		want time.Duration
	}{
		{"allowed", Result{Allowed: true, ResetTime: now.Add(time.Minute)}, 0},
		{"whole seconds", Result{ResetTime: now.Add(30 * time.Second)}, 30 * time.Second},
		{"rounds up", Result{ResetTime: now.Add(1500 * time.Millisecond)}, 2 * time.Second},
		{"past", Result{ResetTime: now.Add(-time.Second)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.RetryAfter(now); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
