package progress

import (
	"context"
	"time"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

// durationMetric is the duration preset with the standard buckets attached.
var durationMetric = func() metrics.Metric {
	m := metrics.MetricProgressDuration
	m.Buckets = metrics.DefaultDurationBuckets

	return m
}()

// recordTerminal counts a finished operation and measures its wall-clock
// duration. Metrics are best-effort: failures are logged, never surfaced.
func (r *Registry) recordTerminal(stage Stage, duration time.Duration) {
	if r.metricsFactory == nil {
		return
	}

	counter, err := r.metricsFactory.Counter(metrics.MetricProgressOperations)
	if err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to build operations counter", log.Err(err))
	} else if err = counter.WithLabels(map[string]string{"outcome": string(stage)}).AddOne(context.Background()); err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to record operation metric", log.Err(err))
	}

	histogram, err := r.metricsFactory.Histogram(durationMetric)
	if err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to build duration histogram", log.Err(err))

		return
	}

	err = histogram.WithLabels(map[string]string{"outcome": string(stage)}).
		Record(context.Background(), duration.Milliseconds())
	if err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to record duration metric", log.Err(err))
	}
}

// recordActive gauges the current number of non-terminal operations.
func (r *Registry) recordActive() {
	if r.metricsFactory == nil {
		return
	}

	gauge, err := r.metricsFactory.Gauge(metrics.MetricProgressActive)
	if err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to build active gauge", log.Err(err))

		return
	}

	if err = gauge.Record(context.Background(), r.activeCount.Load()); err != nil {
		r.logger.Log(context.Background(), log.LevelDebug, "failed to record active gauge", log.Err(err))
	}
}
