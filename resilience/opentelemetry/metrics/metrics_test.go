//go:build unit

package metrics

import (
	"context"
	"testing"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestFactory(t *testing.T) (*MetricsFactory, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test-metrics")

	factory, err := NewMetricsFactory(meter, &log.NopLogger{})
	require.NoError(t, err)

	return factory, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}

	return nil
}

func TestNewMetricsFactory_NilMeter(t *testing.T) {
	_, err := NewMetricsFactory(nil, &log.NopLogger{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestCounter_AddWithLabels(t *testing.T) {
	factory, reader := newTestFactory(t)

	counter, err := factory.Counter(MetricBreakerExecutions)
	require.NoError(t, err)

	err = counter.WithLabels(map[string]string{"service": "quotes", "result": "success"}).Add(context.Background(), 2)
	require.NoError(t, err)

	rm := collect(t, reader)
	m := findMetric(rm, "circuit_breaker_executions_total")
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestCounter_SameNameReusesInstrument(t *testing.T) {
	factory, reader := newTestFactory(t)

	first, err := factory.Counter(MetricProgressOperations)
	require.NoError(t, err)
	second, err := factory.Counter(MetricProgressOperations)
	require.NoError(t, err)

	require.NoError(t, first.AddOne(context.Background()))
	require.NoError(t, second.AddOne(context.Background()))

	rm := collect(t, reader)
	m := findMetric(rm, "progress_operations_total")
	require.NotNil(t, m)

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestGauge_Record(t *testing.T) {
	factory, reader := newTestFactory(t)

	gauge, err := factory.Gauge(MetricProgressActive)
	require.NoError(t, err)

	require.NoError(t, gauge.Record(context.Background(), 5))
	require.NoError(t, gauge.Record(context.Background(), 3))

	rm := collect(t, reader)
	m := findMetric(rm, "progress_active_operations")
	require.NotNil(t, m)

	g, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, g.DataPoints, 1)
	assert.Equal(t, int64(3), g.DataPoints[0].Value)
}

func TestHistogram_DefaultBuckets(t *testing.T) {
	factory, reader := newTestFactory(t)

	hist, err := factory.Histogram(MetricProgressDuration)
	require.NoError(t, err)

	require.NoError(t, hist.WithLabels(map[string]string{"outcome": "completed"}).Record(context.Background(), 1200))

	rm := collect(t, reader)
	m := findMetric(rm, "progress_operation_duration_ms")
	require.NotNil(t, m)

	h, ok := m.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, h.DataPoints, 1)
	assert.Equal(t, uint64(1), h.DataPoints[0].Count)
	assert.Equal(t, DefaultDurationBuckets, h.DataPoints[0].Bounds)
}

func TestHistogramCacheKey_DistinguishesBuckets(t *testing.T) {
	a := histogramCacheKey("latency", []float64{1, 2})
	b := histogramCacheKey("latency", []float64{1, 3})
	c := histogramCacheKey("latency", nil)

	assert.NotEqual(t, a, b)
	assert.Equal(t, "latency", c)
}

func TestNopFactory_IsUsable(t *testing.T) {
	factory := NewNopFactory()

	counter, err := factory.Counter(MetricBreakerTransitions)
	require.NoError(t, err)
	assert.NoError(t, counter.AddOne(context.Background()))
}

func TestNilInstrumentBuilders(t *testing.T) {
	assert.ErrorIs(t, (&CounterBuilder{}).AddOne(context.Background()), ErrNilCounter)
	assert.ErrorIs(t, (&GaugeBuilder{}).Record(context.Background(), 1), ErrNilGauge)
	assert.ErrorIs(t, (&HistogramBuilder{}).Record(context.Background(), 1), ErrNilHistogram)
}
