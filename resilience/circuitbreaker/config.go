package circuitbreaker

import (
	"fmt"
	"time"
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker blocks calls before
	// allowing a trial.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive trial successes in the
	// half-open state required to close the breaker.
	SuccessThreshold int
	// MonitoringPeriod is the reserved sliding-window size. It is currently
	// informational only and does not affect breaker behavior.
	MonitoringPeriod time.Duration
}

// DefaultConfig provides standard settings for general third-party APIs.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  5 * time.Minute,
		SuccessThreshold: 2,
		MonitoringPeriod: time.Minute,
	}
}

// ConservativeConfig is tuned for rate-limited third-party quote APIs, where
// hammering a throttled provider extends the outage.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold: 2,
		RecoveryTimeout:  10 * time.Minute,
		SuccessThreshold: 3,
		MonitoringPeriod: time.Minute,
	}
}

// FastRecoveryConfig is tuned for same-deployment backend APIs, where
// failures are usually short deploy blips.
func FastRecoveryConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  2 * time.Minute,
		SuccessThreshold: 1,
		MonitoringPeriod: 30 * time.Second,
	}
}

// Validate rejects configs with negative fields. Zero fields are allowed and
// filled from DefaultConfig by normalized.
func (c Config) Validate() error {
	if c.FailureThreshold < 0 {
		return fmt.Errorf("%w: FailureThreshold must not be negative", ErrInvalidConfig)
	}

	if c.RecoveryTimeout < 0 {
		return fmt.Errorf("%w: RecoveryTimeout must not be negative", ErrInvalidConfig)
	}

	if c.SuccessThreshold < 0 {
		return fmt.Errorf("%w: SuccessThreshold must not be negative", ErrInvalidConfig)
	}

	if c.MonitoringPeriod < 0 {
		return fmt.Errorf("%w: MonitoringPeriod must not be negative", ErrInvalidConfig)
	}

	return nil
}

// normalized fills zero fields from DefaultConfig so Config{} means defaults.
func (c Config) normalized() Config {
	defaults := DefaultConfig()

	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}

	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = defaults.RecoveryTimeout
	}

	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}

	return c
}
