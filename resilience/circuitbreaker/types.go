package circuitbreaker

import (
	"context"
	"time"
)

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Stats is a point-in-time snapshot of one breaker's counters and state.
type Stats struct {
	Name                 string
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	TotalRejections      uint64
	// FailureRate is TotalFailures / TotalRequests, 0 when no requests were made.
	FailureRate float64
	// RetryAfter is the time remaining until the next trial call is
	// permitted. Non-zero only while the breaker is open.
	RetryAfter time.Duration
	// LastTransition is when the breaker last changed state.
	LastTransition time.Time
}

// StateChangeListener is notified when a circuit breaker changes state.
type StateChangeListener interface {
	// OnStateChange is called when a circuit breaker changes state.
	// Listeners are invoked on their own goroutines; ordering across
	// services is not guaranteed.
	OnStateChange(serviceName string, from State, to State)
}

// HealthCheckFunc defines a function that checks service health.
type HealthCheckFunc func(ctx context.Context) error
