package circuitbreaker

import (
	"context"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

// recordExecution counts one routed call. result is success, error, or
// rejected_open. Metrics are best-effort: failures are logged, never surfaced.
func (m *Manager) recordExecution(name, result string) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(metrics.MetricBreakerExecutions)
	if err != nil {
		m.logger.Log(context.Background(), log.LevelDebug, "failed to build execution counter", log.Err(err))

		return
	}

	err = counter.WithLabels(map[string]string{
		"service": name,
		"result":  result,
	}).AddOne(context.Background())
	if err != nil {
		m.logger.Log(context.Background(), log.LevelDebug, "failed to record execution metric", log.Err(err))
	}
}

// recordTransition counts one breaker state change.
func (m *Manager) recordTransition(name string, from, to State) {
	if m.metricsFactory == nil {
		return
	}

	counter, err := m.metricsFactory.Counter(metrics.MetricBreakerTransitions)
	if err != nil {
		m.logger.Log(context.Background(), log.LevelDebug, "failed to build transition counter", log.Err(err))

		return
	}

	err = counter.WithLabels(map[string]string{
		"service": name,
		"from":    string(from),
		"to":      string(to),
	}).AddOne(context.Background())
	if err != nil {
		m.logger.Log(context.Background(), log.LevelDebug, "failed to record transition metric", log.Err(err))
	}
}
