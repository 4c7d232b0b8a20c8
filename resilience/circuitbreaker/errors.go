package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOpenState indicates a call was rejected because the breaker is open.
	// Rejections carry an *OpenStateError; match with errors.Is(err, ErrOpenState).
	ErrOpenState = errors.New("circuitbreaker: circuit is open")

	// ErrNilLogger indicates that a nil logger was passed to a constructor.
	ErrNilLogger = errors.New("circuitbreaker: logger must not be nil")

	// ErrBreakerNotFound indicates no breaker exists for the requested name.
	ErrBreakerNotFound = errors.New("circuitbreaker: breaker not found")

	// ErrInvalidConfig indicates a Config with out-of-range fields.
	ErrInvalidConfig = errors.New("circuitbreaker: invalid config")
)

// OpenStateError is returned by Execute when the breaker rejects a call
// without attempting it. RetryAfter is how long until the next trial call is
// permitted; it is zero when the rejection was caused by a concurrent
// half-open trial already being in flight.
type OpenStateError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenStateError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuitbreaker: circuit %q is open, retry after %s", e.Name, e.RetryAfter)
	}

	return fmt.Sprintf("circuitbreaker: circuit %q is open", e.Name)
}

// Is makes errors.Is(err, ErrOpenState) match rejections.
func (e *OpenStateError) Is(target error) bool {
	return target == ErrOpenState
}
