// Package zap provides adapters and helpers around zap-based logging.
//
// It bridges the resilience/log abstraction to zap while preserving
// structured fields and correlating log events with active OpenTelemetry
// spans. Use New to build a logger from an environment profile.
package zap
