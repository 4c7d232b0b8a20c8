//go:build unit

package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

func newMeteredRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	factory, err := metrics.NewMetricsFactory(provider.Meter("progress_test"), log.NewNop())
	require.NoError(t, err)

	registry, err := NewRegistry(log.NewNop(), WithMetricsFactory(factory))
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	return registry, reader
}

func metricByName(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func TestRegistry_TerminalOutcomeMetrics(t *testing.T) {
	registry, reader := newMeteredRegistry(t)

	for id, finish := range map[string]func(){
		"a": func() { registry.Complete("a", "") },
		"b": func() { registry.Fail("b", "boom") },
		"c": func() { registry.Cancel("c") },
	} {
		_, err := registry.Start(id, "", true, nil)
		require.NoError(t, err)
		finish()
	}

	operations := metricByName(t, reader, "progress_operations_total")
	require.NotNil(t, operations)

	sum, ok := operations.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	outcomes := make(map[string]int64)

	for _, dp := range sum.DataPoints {
		if outcome, found := dp.Attributes.Value(attribute.Key("outcome")); found {
			outcomes[outcome.AsString()] += dp.Value
		}
	}

	assert.Equal(t, int64(1), outcomes[string(StageCompleted)])
	assert.Equal(t, int64(1), outcomes[string(StageError)])
	assert.Equal(t, int64(1), outcomes[string(StageCancelled)])
}

func TestRegistry_ActiveGaugeMetrics(t *testing.T) {
	registry, reader := newMeteredRegistry(t)

	_, err := registry.Start("a", "", false, nil)
	require.NoError(t, err)
	_, err = registry.Start("b", "", false, nil)
	require.NoError(t, err)

	active := metricByName(t, reader, "progress_active_operations")
	require.NotNil(t, active)

	gauge, ok := active.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.NotEmpty(t, gauge.DataPoints)
	assert.Equal(t, int64(2), gauge.DataPoints[len(gauge.DataPoints)-1].Value)

	registry.Complete("a", "")

	active = metricByName(t, reader, "progress_active_operations")
	require.NotNil(t, active)

	gauge, ok = active.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.NotEmpty(t, gauge.DataPoints)
	assert.Equal(t, int64(1), gauge.DataPoints[len(gauge.DataPoints)-1].Value)
}

func TestRegistry_DurationHistogramMetrics(t *testing.T) {
	registry, reader := newMeteredRegistry(t)

	_, err := registry.Start("a", "", false, nil)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	registry.Complete("a", "")

	duration := metricByName(t, reader, "progress_operation_duration_ms")
	require.NotNil(t, duration)

	histogram, ok := duration.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.NotEmpty(t, histogram.DataPoints)
	assert.Equal(t, uint64(1), histogram.DataPoints[0].Count)
}
