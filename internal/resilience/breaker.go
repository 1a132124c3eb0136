// Package resilience guards calls to flaky upstreams with a circuit breaker,
// retries with jittered backoff, and transient-error classification.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// State is a breaker state.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cooldown passes.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// Threshold is the consecutive failure count that opens the breaker. Default: 5.
	Threshold int
	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration
	// Probes is the number of half-open successes needed to close. Default: 1.
	Probes int
	// Trips decides whether an error counts as a failure. Nil counts every error.
	Trips func(err error) bool
	// OnStateChange is called with the breaker lock held; keep it short.
	OnStateChange func(from, to State)
}

// NewBreakerConfig builds a BreakerConfig from plain config values; zero
// values keep the defaults.
func NewBreakerConfig(threshold int, cooldown time.Duration) BreakerConfig {
	cfg := BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
	if threshold > 0 {
		cfg.Threshold = threshold
	}
	if cooldown > 0 {
		cfg.Cooldown = cooldown
	}
	return cfg
}

// Breaker is a consecutive-failure circuit breaker for one upstream.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	d := NewBreakerConfig(0, 0)
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// Call runs fn through b. It returns ErrCircuitOpen without calling fn when
// the breaker is open.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// State returns the current state, reporting HalfOpen once an open
// breaker's cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.cooledDown() {
		return HalfOpen
	}
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.moveTo(Closed)
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	if !b.cooledDown() {
		return ErrCircuitOpen
	}
	b.successes = 0
	b.moveTo(HalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.cfg.Trips != nil && !b.cfg.Trips(err) {
		// Neither a success nor a failure: counters and state stay put, and a
		// half-open breaker admits the next trial call.
		return
	}
	if err == nil {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.successes = 0
				b.moveTo(Closed)
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.nowFunc()
		b.moveTo(Open)
	}
}

func (b *Breaker) cooledDown() bool {
	return b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown
}

func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
