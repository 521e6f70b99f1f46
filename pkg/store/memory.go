package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by a MemoryStore after Close.
var ErrClosed = errors.New("store closed")

// MemoryStore is an in-process AtomicCounterStore. A single mutex gives each
// operation the run-to-completion isolation of a Redis script, so it is
// correct for one process only. Counters are lost on exit.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	closed  bool

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// MemoryStoreConfig configures the memory store.
type MemoryStoreConfig struct {
	// CleanupInterval is how often expired counters are purged. Expired
	// counters are never visible, the sweep only reclaims memory.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Now replaces time.Now. Tests use it to move expiry forward.
	Now func() time.Time
}

// NewMemoryStore creates a store and starts its cleanup loop.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &MemoryStore{
		entries:         make(map[string]*memoryEntry),
		now:             cfg.Now,
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

// IncrementWindow adds one to key and repairs a missing expiry.
func (m *MemoryStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (WindowCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return WindowCount{}, ErrClosed
	}

	now := m.now()
	e := m.liveLocked(key, now)
	e.value++
	ttl := e.ttlSeconds(now)
	if e.value == 1 || ttl < 0 {
		e.expiresAt = now.Add(time.Duration(seconds(window)) * time.Second)
		ttl = seconds(window)
	}

	return WindowCount{Count: e.value, TTLSeconds: ttl}, nil
}

// ChargeBudget charges both counters and rolls both back when either
// would exceed its limit.
func (m *MemoryStore) ChargeBudget(ctx context.Context, charge BudgetCharge) (BudgetOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return BudgetOutcome{}, ErrClosed
	}

	now := m.now()
	daily := m.liveLocked(charge.DailyKey, now)
	monthly := m.liveLocked(charge.MonthlyKey, now)

	daily.value += charge.Tokens
	monthly.value += charge.Tokens
	dttl := daily.repair(now, charge.DailyTTL)
	mttl := monthly.repair(now, charge.MonthlyTTL)

	allowed := daily.value <= charge.DailyLimit && monthly.value <= charge.MonthlyLimit
	if !allowed {
		daily.value -= charge.Tokens
		monthly.value -= charge.Tokens
	}

	return BudgetOutcome{
		Allowed:           allowed,
		DailyUsed:         daily.value,
		MonthlyUsed:       monthly.value,
		DailyTTLSeconds:   dttl,
		MonthlyTTLSeconds: mttl,
	}, nil
}

// Get returns the counter at key, or 0 when it is missing or expired.
func (m *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return 0, nil
	}
	return e.value, nil
}

// TTL follows Redis conventions: -2 for a missing key, -1 for no expiry.
func (m *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		return -2, nil
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return time.Duration(e.ttlSeconds(now)) * time.Second, nil
}

// Ping fails only after Close.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Size returns the number of stored counters, including expired ones not
// yet purged.
func (m *MemoryStore) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup purges expired counters and returns how many were removed.
func (m *MemoryStore) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	deleted := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			deleted++
		}
	}
	return deleted
}

// Close stops the cleanup loop. Later operations return ErrClosed.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
	})
	return nil
}

// liveLocked returns the entry for key, replacing an expired one.
// Caller must hold mu.
func (m *MemoryStore) liveLocked(key string, now time.Time) *memoryEntry {
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = &memoryEntry{}
		m.entries[key] = e
	}
	return e
}

func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.done:
			return
		}
	}
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// ttlSeconds mirrors Redis TTL: -1 without expiry, otherwise whole seconds
// rounded up.
func (e *memoryEntry) ttlSeconds(now time.Time) int64 {
	if e.expiresAt.IsZero() {
		return -1
	}
	remaining := e.expiresAt.Sub(now)
	secs := int64(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}

func (e *memoryEntry) repair(now time.Time, ttl time.Duration) int64 {
	if current := e.ttlSeconds(now); current >= 0 {
		return current
	}
	e.expiresAt = now.Add(time.Duration(seconds(ttl)) * time.Second)
	return seconds(ttl)
}
