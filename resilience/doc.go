// Package resilience hosts the shared reliability primitives used by
// FolioMetrics services that call failure-prone external dependencies
// (market-data providers, backend health endpoints) and run long
// asynchronous workloads.
//
// The two load-bearing subpackages are circuitbreaker, which gates calls to
// named remote dependencies and recovers automatically, and progress, which
// tracks percentage completion, timing, and cancellation for concurrent
// long-running operations and broadcasts updates to observers.
//
// Supporting subpackages (log, zap, backoff, opentelemetry/metrics) provide
// the cross-cutting infrastructure the cores are built on. Everything here is
// an in-process library boundary: no wire protocol, no CLI, no environment
// variables read directly.
package resilience
