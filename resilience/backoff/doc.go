// Package backoff provides exponential backoff utilities with jitter support
// for probe scheduling and caller-side retry loops.
//
// The circuit breaker health checker uses Policy to space out probes against
// services that keep failing their checks.
package backoff
