// Package log defines the structured logging interface and typed logging
// fields shared across lib-resilience.
//
// Adapters (such as the zap package) implement Logger so library components
// can keep logging calls consistent across backends. Components accept a
// Logger explicitly; use NewNop when no logging is wanted.
package log
