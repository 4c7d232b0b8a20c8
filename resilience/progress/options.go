package progress

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

// GracePeriods is how long a terminal record stays readable before the
// sweeper removes it. Failures linger longest so the error can be read.
type GracePeriods struct {
	Completed time.Duration
	Error     time.Duration
	Cancelled time.Duration
}

// DefaultGracePeriods returns the standard per-outcome grace windows.
func DefaultGracePeriods() GracePeriods {
	return GracePeriods{
		Completed: 2 * time.Second,
		Error:     5 * time.Second,
		Cancelled: time.Second,
	}
}

// DefaultSweepInterval is how often the sweeper scans for expired terminal
// records. It is deliberately decoupled from the grace periods themselves.
const DefaultSweepInterval = 500 * time.Millisecond

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock and sweep ticker source. Intended for
// tests.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) {
		if clk != nil {
			r.clk = clk
		}
	}
}

// WithMetricsFactory attaches an OpenTelemetry metrics factory. A nil factory
// disables metrics without error.
func WithMetricsFactory(factory *metrics.MetricsFactory) Option {
	return func(r *Registry) {
		r.metricsFactory = factory
	}
}

// WithSweepInterval overrides how often expired terminal records are swept.
// Non-positive values are ignored.
func WithSweepInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.sweepInterval = interval
		}
	}
}

// WithGracePeriods overrides the per-outcome grace windows. Non-positive
// fields keep their defaults.
func WithGracePeriods(grace GracePeriods) Option {
	return func(r *Registry) {
		if grace.Completed > 0 {
			r.grace.Completed = grace.Completed
		}

		if grace.Error > 0 {
			r.grace.Error = grace.Error
		}

		if grace.Cancelled > 0 {
			r.grace.Cancelled = grace.Cancelled
		}
	}
}

// UpdateOption adjusts fields beyond the percentage in an Update call.
type UpdateOption func(*updateParams)

type updateParams struct {
	message  string
	hasMsg   bool
	stage    Stage
	hasStage bool
	metadata map[string]any
}

// WithMessage replaces the record's status message.
func WithMessage(message string) UpdateOption {
	return func(p *updateParams) {
		p.message = message
		p.hasMsg = true
	}
}

// WithStage sets a non-terminal stage label. Terminal stages are reserved for
// Complete, Fail, and Cancel; passing one here is ignored with a log entry.
func WithStage(stage Stage) UpdateOption {
	return func(p *updateParams) {
		p.stage = stage
		p.hasStage = true
	}
}

// WithMetadata merges entries into the record's metadata bag. Existing keys
// are overwritten, absent keys are kept.
func WithMetadata(metadata map[string]any) UpdateOption {
	return func(p *updateParams) {
		if p.metadata == nil {
			p.metadata = make(map[string]any, len(metadata))
		}

		for k, v := range metadata {
			p.metadata[k] = v
		}
	}
}
