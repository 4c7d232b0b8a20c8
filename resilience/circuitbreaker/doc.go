// Package circuitbreaker provides per-dependency circuit breakers with a
// name-keyed manager and health-check-driven recovery helpers.
//
// Each CircuitBreaker is a three-state machine (closed, open, half-open)
// guarding calls to one named remote dependency: repeated failures open the
// breaker, open breakers reject calls without attempting them, and after the
// recovery timeout a limited trial probes whether the dependency healed.
// Timed transitions are evaluated lazily on the next Execute call, so no
// background timer is required.
//
// Use NewManager to create and manage per-service breakers, then run calls
// through Manager.Execute so failures are tracked consistently across
// callers. Optional health-check integration (HealthChecker) can
// automatically reset breakers after downstream services recover.
//
// The breaker never retries and never wraps the guarded operation's error;
// retry policy and timeouts belong to the caller.
package circuitbreaker
