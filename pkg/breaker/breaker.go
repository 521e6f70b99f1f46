package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the health signal exposed by the breaker.
type State int

const (
	// StateClosed means the store is considered healthy.
	StateClosed State = iota

	// StateOpen means the store is considered unavailable. Limiters apply
	// their fallback policy instead of calling the store.
	StateOpen

	// StateHalfOpen lets the next store call through as a probe.
	StateHalfOpen
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Timer is the subset of *time.Timer the breaker uses.
type Timer interface {
	Stop() bool
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of failures inside FailureWindow that
	// opens the breaker. Default 5.
	FailureThreshold int

	// FailureWindow is how long a failure counts toward the threshold. A
	// failure arriving later than this after the previous one starts a new
	// count. Default 60s.
	FailureWindow time.Duration

	// HalfOpenDelay is how long the breaker stays open before probing.
	// Default 30s.
	HalfOpenDelay time.Duration

	// FailOpenKinds lists the limit kinds allowed through while open.
	// Default ["tokens"].
	FailOpenKinds []string

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)

	// Logger receives transition logs. Default slog.Default().
	Logger *slog.Logger

	// Now and AfterFunc are test seams. They default to time.Now and
	// time.AfterFunc.
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Timer
}

// Snapshot is a point-in-time copy of the breaker state.
type Snapshot struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
}

// Breaker tracks store failures for one process.
type Breaker struct {
	threshold     int
	window        time.Duration
	halfOpenDelay time.Duration
	policy        *Policy
	onStateChange func(from, to State)
	logger        *slog.Logger
	now           func() time.Time
	afterFunc     func(d time.Duration, f func()) Timer

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	timer       Timer
	generation  uint64
}

// New creates a closed breaker. Zero config fields take their defaults.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 60 * time.Second
	}
	if cfg.HalfOpenDelay <= 0 {
		cfg.HalfOpenDelay = 30 * time.Second
	}
	if cfg.FailOpenKinds == nil {
		cfg.FailOpenKinds = []string{"tokens"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}

	return &Breaker{
		threshold:     cfg.FailureThreshold,
		window:        cfg.FailureWindow,
		halfOpenDelay: cfg.HalfOpenDelay,
		policy:        NewPolicy(cfg.FailOpenKinds...),
		onStateChange: cfg.OnStateChange,
		logger:        cfg.Logger.With("component", "breaker"),
		now:           cfg.Now,
		afterFunc:     cfg.AfterFunc,
		state:         StateClosed,
	}
}

// IsOpen reports whether store calls should be skipped.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the state, failure count and last failure time.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state,
		FailureCount:    b.failures,
		LastFailureTime: b.lastFailure,
	}
}

// Behavior returns the fallback for kind while the breaker is open.
func (b *Breaker) Behavior(kind string) Behavior {
	return b.policy.Behavior(kind)
}

// RecordSuccess registers a successful store call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.cancelTimerLocked()
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
	to := b.state
	b.mu.Unlock()

	b.transitioned(from, to)
}

// RecordFailure registers a failed store call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	now := b.now()
	from := b.state

	switch b.state {
	case StateClosed:
		if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.window {
			b.failures = 0
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= b.threshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.failures++
		b.lastFailure = now
		b.openLocked()
	case StateOpen:
		// The half-open timer belongs to this episode and is not rescheduled.
		b.failures++
		b.lastFailure = now
	}
	to := b.state
	b.mu.Unlock()

	b.transitioned(from, to)
}

// Reset closes the breaker and cancels any pending half-open transition.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.cancelTimerLocked()
	b.mu.Unlock()

	b.transitioned(from, StateClosed)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.cancelTimerLocked()
	gen := b.generation
	b.timer = b.afterFunc(b.halfOpenDelay, func() { b.probe(gen) })
}

func (b *Breaker) cancelTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.generation++
}

// probe moves an open breaker to half-open. A stale timer from an earlier
// episode is ignored.
func (b *Breaker) probe(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || b.state != StateOpen {
		b.mu.Unlock()
		return
	}
	b.state = StateHalfOpen
	b.timer = nil
	b.mu.Unlock()

	b.transitioned(StateOpen, StateHalfOpen)
}

func (b *Breaker) transitioned(from, to State) {
	if from == to {
		return
	}

	switch to {
	case StateOpen:
		b.logger.Warn("circuit breaker opened", "from", from.String(), "half_open_delay", b.halfOpenDelay)
	case StateHalfOpen:
		b.logger.Info("circuit breaker half-open, probing store")
	case StateClosed:
		b.logger.Info("circuit breaker closed", "from", from.String())
	}

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
