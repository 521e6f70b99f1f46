package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryStore(t *testing.T) (*MemoryStore, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemoryStore(MemoryStoreConfig{Now: clock.Now, CleanupInterval: time.Hour})
	t.Cleanup(func() { m.Close() })
	return m, clock
}

func TestMemoryStore_IncrementWindow(t *testing.T) {
	m, clock := newMemoryStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		wc, err := m.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute)
		if err != nil {
			t.Fatalf("IncrementWindow failed: %v", err)
		}
		if wc.Count != i {
			t.Errorf("Expected count %d, got %d", i, wc.Count)
		}
	}

	clock.Advance(20 * time.Second)
	wc, _ := m.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute)
	if wc.TTLSeconds != 40 {
		t.Errorf("Expected TTL 40 after 20s, got %d", wc.TTLSeconds)
	}

	clock.Advance(40 * time.Second)
	wc, _ = m.IncrementWindow(ctx, "rateLimit:u1:messages", time.Minute)
	if wc.Count != 1 {
		t.Errorf("Expected a new window after expiry, got count %d", wc.Count)
	}
	if wc.TTLSeconds != 60 {
		t.Errorf("Expected fresh TTL 60, got %d", wc.TTLSeconds)
	}
}

func TestMemoryStore_IncrementWindowRepairsMissingTTL(t *testing.T) {
	m, _ := newMemoryStore(t)
	m.entries["k"] = &memoryEntry{value: 4}

	wc, err := m.IncrementWindow(context.Background(), "k", 30*time.Second)
	if err != nil {
		t.Fatalf("IncrementWindow failed: %v", err)
	}
	if wc.Count != 5 || wc.TTLSeconds != 30 {
		t.Errorf("Expected 5 with TTL 30, got %d with TTL %d", wc.Count, wc.TTLSeconds)
	}
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	m, _ := newMemoryStore(t)
	ctx := context.Background()

	const n = 200
	seen := make([]bool, n+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wc, err := m.IncrementWindow(ctx, "k", time.Minute)
			if err != nil {
				t.Errorf("IncrementWindow failed: %v", err)
				return
			}
			mu.Lock()
			seen[wc.Count] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("Expected every count from 1 to %d exactly once, missing %d", n, i)
		}
	}
}

func TestMemoryStore_ChargeBudget(t *testing.T) {
	m, _ := newMemoryStore(t)
	ctx := context.Background()
	charge := BudgetCharge{
		DailyKey: "daily:u1", MonthlyKey: "monthly:u1",
		Tokens: 600, DailyLimit: 1000, MonthlyLimit: 5000,
		DailyTTL: 24 * time.Hour, MonthlyTTL: 720 * time.Hour,
	}

	out, err := m.ChargeBudget(ctx, charge)
	if err != nil {
		t.Fatalf("ChargeBudget failed: %v", err)
	}
	if !out.Allowed || out.DailyUsed != 600 || out.MonthlyUsed != 600 {
		t.Errorf("Expected allowed 600/600, got %+v", out)
	}
	if out.DailyTTLSeconds != 86400 || out.MonthlyTTLSeconds != 2592000 {
		t.Errorf("Expected TTLs 86400/2592000, got %d/%d", out.DailyTTLSeconds, out.MonthlyTTLSeconds)
	}

	out, _ = m.ChargeBudget(ctx, charge)
	if out.Allowed {
		t.Error("Expected second charge to exceed the daily limit")
	}
	if out.DailyUsed != 600 || out.MonthlyUsed != 600 {
		t.Errorf("Expected rollback to 600/600, got %d/%d", out.DailyUsed, out.MonthlyUsed)
	}

	daily, _ := m.Get(ctx, "daily:u1")
	monthly, _ := m.Get(ctx, "monthly:u1")
	if daily != 600 || monthly != 600 {
		t.Errorf("Expected stored 600/600, got %d/%d", daily, monthly)
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	m, clock := newMemoryStore(t)
	ctx := context.Background()

	if ttl, _ := m.TTL(ctx, "missing"); ttl != -2 {
		t.Errorf("Expected -2 for missing key, got %v", ttl)
	}

	m.IncrementWindow(ctx, "k", time.Minute)
	clock.Advance(1500 * time.Millisecond)
	if ttl, _ := m.TTL(ctx, "k"); ttl != 59*time.Second {
		t.Errorf("Expected 59s, got %v", ttl)
	}

	m.entries["forever"] = &memoryEntry{value: 1}
	if ttl, _ := m.TTL(ctx, "forever"); ttl != -1 {
		t.Errorf("Expected -1 without expiry, got %v", ttl)
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	m, clock := newMemoryStore(t)
	ctx := context.Background()

	m.IncrementWindow(ctx, "short", time.Second)
	m.IncrementWindow(ctx, "long", time.Hour)
	clock.Advance(2 * time.Second)

	if v, _ := m.Get(ctx, "short"); v != 0 {
		t.Errorf("Expected expired key to read 0, got %d", v)
	}
	if n := m.Cleanup(); n != 1 {
		t.Errorf("Expected 1 key purged, got %d", n)
	}
	if m.Size() != 1 {
		t.Errorf("Expected 1 key left, got %d", m.Size())
	}
}

func TestMemoryStore_Closed(t *testing.T) {
	m, _ := newMemoryStore(t)
	m.Close()

	if err := m.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := m.IncrementWindow(context.Background(), "k", time.Minute); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
