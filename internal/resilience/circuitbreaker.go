// Package resilience provides a circuit breaker for calls into external
// dependencies, primarily the Postgres cue sheet store.
//
// [CircuitBreaker] is a classic three-state breaker (closed, open,
// half-open). After too many consecutive failures the breaker opens and
// rejects calls immediately; after a reset timeout a limited number of
// probe calls decide whether it closes again.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [CircuitBreaker.Do] while the breaker is open and
// the reset timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call with [ErrOpen] until the reset timeout passes.
	Open

	// HalfOpen lets a limited number of probe calls through. Probes that
	// succeed close the breaker; a single probe failure re-opens it.
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

// Config tunes a [CircuitBreaker]. Zero fields get defaults.
type Config struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures opens the breaker after this many consecutive failures.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// ProbeBudget is how many half-open calls may run before the breaker
	// decides. Default 3.
	ProbeBudget int
}

// CircuitBreaker implements the three-state breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// New creates a breaker from cfg, filling defaults for zero fields.
func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probeBudget:  cfg.ProbeBudget,
	}
}

// Do runs fn if the breaker allows it. While open it returns [ErrOpen]
// without calling fn; in half-open only the probe budget gets through.
func (cb *CircuitBreaker) Do(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case Open:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.state = HalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("resilience: breaker half-open", "name", cb.name)

	case HalfOpen:
		if cb.probes >= cb.probeBudget {
			cb.mu.Unlock()
			return ErrOpen
		}
	}

	probing := cb.state == HalfOpen
	if probing {
		cb.probes++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(probing)
	} else {
		cb.onSuccess(probing)
	}
	return err
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probing bool) {
	cb.lastFailure = time.Now()

	if probing {
		cb.probeFails++
		cb.state = Open
		cb.failures = cb.maxFailures
		slog.Warn("resilience: breaker re-opened", "name", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = Open
		slog.Warn("resilience: breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failures,
		)
	}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probing bool) {
	if probing {
		if cb.probes-cb.probeFails >= cb.probeBudget {
			cb.state = Closed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("resilience: breaker closed", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's state. An open breaker whose reset timeout
// has elapsed reports half-open; the transition itself happens on the next
// [CircuitBreaker.Do].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == Open && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return HalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = Closed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
}
