package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, opts ...RedisStoreOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, opts...), mr
}

func TestRedisStore_IncrementWindow(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		wc, err := s.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute)
		if err != nil {
			t.Fatalf("IncrementWindow failed: %v", err)
		}
		if wc.Count != i {
			t.Errorf("Expected count %d, got %d", i, wc.Count)
		}
		if wc.TTLSeconds <= 0 || wc.TTLSeconds > 60 {
			t.Errorf("Expected TTL in (0, 60], got %d", wc.TTLSeconds)
		}
	}

	if ttl := mr.TTL("rateLimit:u1:messages"); ttl != time.Minute {
		t.Errorf("Expected key TTL 1m, got %v", ttl)
	}
}

func TestRedisStore_IncrementWindowRepairsMissingTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	// Simulate a key left behind without an expiry.
	mr.Set("rateLimit:u1:messages", "4")

	wc, err := s.IncrementWindow(ctx, "rateLimit:u1:messages", 30*time.Second)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if wc.Count != 5 {
		t.Errorf("Expected count 5, got %d", wc.Count)
	}
	if wc.TTLSeconds != 30 {
		t.Errorf("Expected TTL 30, got %d", wc.TTLSeconds)
	}
	if ttl := mr.TTL("rateLimit:u1:messages"); ttl != 30*time.Second {
		t.Errorf("Expected repaired TTL 30s, got %v", ttl)
	}
}

func TestRedisStore_IncrementWindowExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if _, err := s.IncrementWindow(ctx, "k", time.Minute); err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	mr.FastForward(61 * time.Second)

	wc, err := s.IncrementWindow(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if wc.Count != 1 {
		t.Errorf("Expected a fresh window with count 1, got %d", wc.Count)
	}
}

func TestRedisStore_IncrementWindowConcurrent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	seen := make(chan int64, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wc, err := s.IncrementWindow(ctx, "k", time.Minute)
			if err != nil {
				t.Errorf("IncrementWindow failed: %v", err)
				return
			}
			seen <- wc.Count
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[int64]bool)
	for c := range seen {
		if counts[c] {
			t.Errorf("Count %d returned twice", c)
		}
		counts[c] = true
	}
	if len(counts) != callers {
		t.Errorf("Expected %d distinct counts, got %d", callers, len(counts))
	}
}

func TestRedisStore_ChargeBudget(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	charge := BudgetCharge{
		DailyKey:     "daily:u1",
		MonthlyKey:   "monthly:u1",
		Tokens:       400,
		DailyLimit:   1000,
		MonthlyLimit: 5000,
		DailyTTL:     24 * time.Hour,
		MonthlyTTL:   30 * 24 * time.Hour,
	}

	out, err := s.ChargeBudget(ctx, charge)
	if err != nil {
		t.Fatalf("ChargeBudget failed: %v", err)
	}
	if !out.Allowed {
		t.Fatal("Expected charge to be allowed")
	}
	if out.DailyUsed != 400 || out.MonthlyUsed != 400 {
		t.Errorf("Expected 400/400, got %d/%d", out.DailyUsed, out.MonthlyUsed)
	}
	if out.DailyTTLSeconds != 86400 {
		t.Errorf("Expected daily TTL 86400, got %d", out.DailyTTLSeconds)
	}
	if out.MonthlyTTLSeconds != 2592000 {
		t.Errorf("Expected monthly TTL 2592000, got %d", out.MonthlyTTLSeconds)
	}
	if mr.TTL("daily:u1") != 24*time.Hour {
		t.Errorf("Expected daily key TTL 24h, got %v", mr.TTL("daily:u1"))
	}
}

func TestRedisStore_ChargeBudgetRollsBackBoth(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set("daily:u1", "900")
	mr.Set("monthly:u1", "1200")

	out, err := s.ChargeBudget(ctx, BudgetCharge{
		DailyKey:     "daily:u1",
		MonthlyKey:   "monthly:u1",
		Tokens:       200,
		DailyLimit:   1000,
		MonthlyLimit: 5000,
		DailyTTL:     time.Hour,
		MonthlyTTL:   2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("ChargeBudget failed: %v", err)
	}
	if out.Allowed {
		t.Fatal("Expected charge to be denied")
	}
	if out.DailyUsed != 900 || out.MonthlyUsed != 1200 {
		t.Errorf("Expected post-rollback 900/1200, got %d/%d", out.DailyUsed, out.MonthlyUsed)
	}

	daily, _ := mr.Get("daily:u1")
	monthly, _ := mr.Get("monthly:u1")
	if daily != "900" || monthly != "1200" {
		t.Errorf("Expected stored values unchanged, got %s/%s", daily, monthly)
	}

	// Rollback must leave both keys with an expiry.
	if mr.TTL("daily:u1") != time.Hour {
		t.Errorf("Expected daily TTL 1h after rollback, got %v", mr.TTL("daily:u1"))
	}
	if mr.TTL("monthly:u1") != 2*time.Hour {
		t.Errorf("Expected monthly TTL 2h after rollback, got %v", mr.TTL("monthly:u1"))
	}
}

func TestRedisStore_ChargeBudgetAtLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	out, err := s.ChargeBudget(ctx, BudgetCharge{
		DailyKey: "d", MonthlyKey: "m",
		Tokens: 1000, DailyLimit: 1000, MonthlyLimit: 1000,
		DailyTTL: time.Hour, MonthlyTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("ChargeBudget failed: %v", err)
	}
	if !out.Allowed {
		t.Error("Expected a charge landing exactly on the limit to be allowed")
	}
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	s, mr := newTestStore(t, WithKeyPrefix("guard:"))
	ctx := context.Background()

	if _, err := s.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute); err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if !mr.Exists("guard:rateLimit:u1:messages") {
		t.Error("Expected prefixed key to exist")
	}

	v, err := s.Get(ctx, "rateLimit:u1:messages")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 1 {
		t.Errorf("Expected 1, got %d", v)
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	v, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Expected 0 for missing key, got %d", v)
	}
}

func TestRedisStore_Errors(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	mr.SetError("LOADING")
	if _, err := s.IncrementWindow(ctx, "k", time.Minute); err == nil {
		t.Error("Expected error from IncrementWindow")
	}
	if err := s.Ping(ctx); err == nil {
		t.Error("Expected error from Ping")
	}

	mr.SetError("")
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Expected Ping to recover, got %v", err)
	}
}

func TestInt64s(t *testing.T) {
	tests := []struct {
		name    string
		reply   []interface{}
		n       int
		wantErr bool
	}{
		{"ints", []interface{}{int64(1), int64(2)}, 2, false},
		{"numeric strings", []interface{}{"3", int64(4)}, 2, false},
		{"short", []interface{}{int64(1)}, 2, true},
		{"bad string", []interface{}{"x", int64(1)}, 2, true},
		{"bad type", []interface{}{1.5, int64(1)}, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := int64s(tt.reply, tt.n)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("Expected ErrMalformedResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
