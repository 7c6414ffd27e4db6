package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of a breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// SuccessThreshold successes in half-open close it again.
	SuccessThreshold int
	// Cooldown is how long an open breaker waits before probing.
	Cooldown time.Duration
	// MaxProbes caps concurrent calls allowed through while half-open.
	MaxProbes int
}

// DefaultBreakerConfig returns sensible defaults
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		MaxProbes:        3,
	}
}

// Breaker guards calls to an unreliable backend. After a run of failures it
// rejects calls outright for a cooldown, then lets a few probes through and
// closes again once enough of them succeed.
type Breaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{name: name, config: config, state: BreakerClosed}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observe()
}

// observe returns the effective state, accounting for cooldown expiry.
// Caller must hold mu.
func (b *Breaker) observe() BreakerState {
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.config.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Do runs fn under breaker protection. ctx is passed through untouched; the
// breaker adds no timeout of its own.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.observe() {
	case BreakerOpen:
		return ErrBreakerOpen
	case BreakerHalfOpen:
		if b.state == BreakerOpen {
			b.state = BreakerHalfOpen
			b.probes = 0
		}
		if b.probes >= b.config.MaxProbes {
			return ErrBreakerOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.observe() {
		case BreakerClosed:
			b.failures = 0
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.reset()
			}
		}
		return
	}

	b.failures++
	b.successes = 0
	b.lastFailure = time.Now()
	switch b.observe() {
	case BreakerClosed:
		if b.failures >= b.config.FailureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// Any probe failure reopens.
		b.state = BreakerOpen
	}
}

// reset must be called with mu held.
func (b *Breaker) reset() {
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.probes = 0
}
