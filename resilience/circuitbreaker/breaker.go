package circuitbreaker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CircuitBreaker guards calls to one named remote dependency.
//
// All state transitions are total functions of (current state, call outcome,
// elapsed time); the open-to-half-open transition is evaluated lazily by
// timestamp comparison on the next Execute call. The zero value is not
// usable; construct with NewBreaker or through a Manager.
type CircuitBreaker struct {
	name   string
	config Config
	clk    clock.Clock

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	lastTransition       time.Time
	trialInFlight        bool

	totalRequests   uint64
	totalSuccesses  uint64
	totalFailures   uint64
	totalRejections uint64

	// onTransition is invoked outside the breaker lock after a state change.
	onTransition func(name string, from, to State)
}

// NewBreaker creates a standalone breaker. Zero fields in config fall back to
// DefaultConfig values. Most callers should go through a Manager instead so
// stats, listeners, and metrics are shared.
func NewBreaker(name string, config Config) *CircuitBreaker {
	return newBreaker(name, config, clock.New(), nil)
}

func newBreaker(name string, config Config, clk clock.Clock, onTransition func(name string, from, to State)) *CircuitBreaker {
	return &CircuitBreaker{
		name:           name,
		config:         config.normalized(),
		clk:            clk,
		state:          StateClosed,
		lastTransition: clk.Now(),
		onTransition:   onTransition,
	}
}

// Name returns the breaker's dependency name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn through the breaker. If the breaker is open and the
// recovery timeout has not elapsed, it returns an *OpenStateError without
// invoking fn. Otherwise fn runs and its result and error are returned
// verbatim after the outcome is recorded; the breaker never wraps fn's error.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	if err := cb.allow(); err != nil {
		return nil, err
	}

	result, err := fn()
	cb.record(err == nil)

	return result, err
}

// allow decides whether a call may proceed, applying the lazy open-to-half-open
// transition. It returns an *OpenStateError for rejected calls.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()

	cb.totalRequests++

	var tr *stateChange

	var rejection error

	switch cb.state {
	case StateOpen:
		remaining := cb.config.RecoveryTimeout - cb.clk.Now().Sub(cb.openedAt)
		if remaining > 0 {
			cb.totalRejections++
			rejection = &OpenStateError{Name: cb.name, RetryAfter: remaining}

			break
		}

		tr = cb.transition(StateHalfOpen)
		cb.trialInFlight = true

	case StateHalfOpen:
		// Only one trial call may be in flight at a time.
		if cb.trialInFlight {
			cb.totalRejections++
			rejection = &OpenStateError{Name: cb.name}

			break
		}

		cb.trialInFlight = true

	default: // StateClosed
	}

	cb.mu.Unlock()
	cb.notify(tr)

	return rejection
}

// record applies the transition table for a completed call.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()

	if success {
		cb.totalSuccesses++
	} else {
		cb.totalFailures++
	}

	var tr *stateChange

	switch cb.state {
	case StateClosed:
		if success {
			cb.consecutiveFailures = 0

			break
		}

		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.openedAt = cb.clk.Now()
			tr = cb.transition(StateOpen)
		}

	case StateHalfOpen:
		cb.trialInFlight = false

		if success {
			cb.consecutiveSuccesses++
			if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
				cb.consecutiveFailures = 0
				cb.consecutiveSuccesses = 0
				tr = cb.transition(StateClosed)
			}

			break
		}

		// A failed trial restarts the recovery window.
		cb.consecutiveSuccesses = 0
		cb.openedAt = cb.clk.Now()
		tr = cb.transition(StateOpen)

	case StateOpen:
		// ForceOpen raced with a call already in flight; bookkeeping only.
		cb.trialInFlight = false
	}

	cb.mu.Unlock()
	cb.notify(tr)
}

// ForceOpen opens the breaker unconditionally, restarting the recovery
// window. Used for maintenance windows.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()

	cb.openedAt = cb.clk.Now()
	cb.trialInFlight = false
	tr := cb.transition(StateOpen)

	cb.mu.Unlock()
	cb.notify(tr)
}

// Reset unconditionally returns the breaker to closed with zero counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.trialInFlight = false
	tr := cb.transition(StateClosed)

	cb.mu.Unlock()
	cb.notify(tr)
}

// State returns the current state. Timed transitions are applied lazily by
// Execute, so an open breaker whose recovery timeout elapsed still reports
// open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// IsHealthy reports whether calls are currently being attempted: the breaker
// is closed, or half-open and probing recovery.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state == StateClosed || cb.state == StateHalfOpen
}

// Stats returns a snapshot of the breaker's counters and state.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:                 cb.name,
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		TotalRequests:        cb.totalRequests,
		TotalSuccesses:       cb.totalSuccesses,
		TotalFailures:        cb.totalFailures,
		TotalRejections:      cb.totalRejections,
		LastTransition:       cb.lastTransition,
	}

	if cb.totalRequests > 0 {
		s.FailureRate = float64(cb.totalFailures) / float64(cb.totalRequests)
	}

	if cb.state == StateOpen {
		if remaining := cb.config.RecoveryTimeout - cb.clk.Now().Sub(cb.openedAt); remaining > 0 {
			s.RetryAfter = remaining
		}
	}

	return s
}

type stateChange struct {
	from State
	to   State
}

// transition moves the breaker to a new state. Must be called with cb.mu
// held; returns the change so callers can notify after unlocking.
func (cb *CircuitBreaker) transition(to State) *stateChange {
	if cb.state == to {
		return nil
	}

	from := cb.state
	cb.state = to
	cb.lastTransition = cb.clk.Now()

	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *stateChange) {
	if tr == nil || cb.onTransition == nil {
		return
	}

	cb.onTransition(cb.name, tr.from, tr.to)
}
