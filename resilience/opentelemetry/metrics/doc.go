// Package metrics provides a thread-safe OpenTelemetry instrument factory
// with lazy creation and a fluent builder API.
//
// Library components accept an optional *MetricsFactory; a nil factory means
// no telemetry is recorded and is always safe. Pre-configured Metric values
// for the circuit breaker and progress registry instruments live in this
// package so metric names stay consistent across services.
package metrics
