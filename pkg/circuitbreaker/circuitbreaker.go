// Package circuitbreaker shields the evaluation loop from a failing
// ambient network probe. Repeated probe errors open the breaker; while it
// is open, calls fail immediately and the caller serves its cached reading
// instead of waiting out a timeout every tick.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls rejected until the cooldown elapses
	StateHalfOpen              // limited trial calls while recovery is probed
)

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

// Config tunes the breaker's failure tolerance and recovery pace.
type Config struct {
	FailureThreshold    int           // consecutive failures before opening
	SuccessThreshold    int           // half-open successes needed to close
	Timeout             time.Duration // open duration before trial calls resume
	MaxRequestsHalfOpen int           // trial call budget while half-open
}

// DefaultConfig tolerates five consecutive probe failures and re-tests the
// probe after 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker tracks consecutive call outcomes and gates new calls by
// state. All methods are safe for concurrent use.
type CircuitBreaker struct {
	config Config

	mu             sync.RWMutex
	state          State
	failures       int
	successes      int
	halfOpenCalls  int
	lastFailureAt  time.Time
	stateChangedAt time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// OnStateChange registers a callback invoked on every transition. The
// callback runs on its own goroutine so a slow observer cannot block
// callers.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Do runs fn through the breaker. While the breaker is open it returns
// ErrOpen without invoking fn; otherwise the call's outcome feeds the
// failure and success tallies.
func Do[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T

	if !cb.allow() {
		return zero, fmt.Errorf("%w: rejecting call in %s state", ErrOpen, cb.State())
	}

	result, err := fn()
	if err != nil {
		cb.recordFailure()
		return zero, err
	}

	cb.recordSuccess()
	return result, nil
}

// allow gates one call, moving an expired open breaker to half-open and
// spending the half-open trial budget.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.stateChangedAt) < cb.config.Timeout {
			return false
		}
		cb.transitionTo(StateHalfOpen)
		cb.halfOpenCalls++
		return true
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.MaxRequestsHalfOpen {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	cb.lastFailureAt = time.Now()

	switch {
	case cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold:
		cb.transitionTo(StateOpen)
	case cb.state == StateHalfOpen:
		// A trial call failed; back to waiting out the cooldown.
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	cb.failures = 0

	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.transitionTo(StateClosed)
	}
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(next State) {
	if cb.state == next {
		return
	}

	prev := cb.state
	cb.state = next
	cb.stateChangedAt = time.Now()
	cb.halfOpenCalls = 0
	if next != StateOpen {
		cb.failures = 0
		cb.successes = 0
	}

	if cb.onStateChange != nil {
		go cb.onStateChange(prev, next)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats is a point-in-time snapshot for diagnostics endpoints.
type Stats struct {
	State          State
	Failures       int
	Successes      int
	HalfOpenCalls  int
	LastFailureAt  time.Time
	StateChangedAt time.Time
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:          cb.state,
		Failures:       cb.failures,
		Successes:      cb.successes,
		HalfOpenCalls:  cb.halfOpenCalls,
		LastFailureAt:  cb.lastFailureAt,
		StateChangedAt: cb.stateChangedAt,
	}
}

// Reset forces the breaker closed, clearing all tallies.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
}
