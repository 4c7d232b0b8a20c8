package circuitbreaker

import (
	"github.com/benbjohnson/clock"

	"github.com/foliometrics/lib-resilience/resilience/backoff"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

// Option configures a Manager.
type Option func(*Manager)

// WithMetricsFactory attaches an OpenTelemetry metrics factory. A nil factory
// disables metrics without error.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(m *Manager) {
		m.metricsFactory = factory
	}
}

// WithClock overrides the wall clock used by the manager and every breaker it
// creates. Intended for tests.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		if clk != nil {
			m.clk = clk
		}
	}
}

// HealthCheckerOption configures a HealthChecker.
type HealthCheckerOption func(*HealthChecker)

// WithProbeBackoff sets the backoff policy applied to health probes of a
// service whose checks keep failing.
func WithProbeBackoff(policy backoff.Policy) HealthCheckerOption {
	return func(hc *HealthChecker) {
		hc.probeBackoff = policy
	}
}
