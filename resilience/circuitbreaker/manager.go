package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/foliometrics/lib-resilience/resilience/log"
	"github.com/foliometrics/lib-resilience/resilience/opentelemetry/metrics"
)

// Manager is a name-keyed registry of circuit breakers with per-name
// configuration. Construct one per application root and pass it to the
// adapters that need it; there is no package-level singleton.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	configs   map[string]Config
	listeners []StateChangeListener

	logger         log.Logger
	clk            clock.Clock
	metricsFactory *metrics.MetricsFactory
}

// NewManager creates a new circuit breaker manager.
func NewManager(logger log.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		return nil, ErrNilLogger
	}

	m := &Manager{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]Config),
		logger:   logger,
		clk:      clock.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// GetOrCreate returns the existing breaker for name or constructs one with
// config and stores it. Creation is first-writer-wins: subsequent calls for
// the same name ignore a differing config, which is logged as misuse rather
// than treated as an error. A zero config means DefaultConfig.
func (m *Manager) GetOrCreate(name string, config Config) (*CircuitBreaker, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	breaker, exists := m.breakers[name]
	stored := m.configs[name]
	m.mu.RUnlock()

	if exists {
		m.warnOnConfigMismatch(name, stored, config)
		return breaker, nil
	}

	m.mu.Lock()

	// Double-check after acquiring the write lock.
	if breaker, exists = m.breakers[name]; exists {
		stored = m.configs[name]
		m.mu.Unlock()
		m.warnOnConfigMismatch(name, stored, config)

		return breaker, nil
	}

	breaker = newBreaker(name, config, m.clk, m.handleStateChange)
	m.breakers[name] = breaker
	m.configs[name] = config

	m.mu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.String("service", name))

	return breaker, nil
}

func (m *Manager) warnOnConfigMismatch(name string, stored, requested Config) {
	if requested == (Config{}) || requested == stored {
		return
	}

	m.logger.Log(context.Background(), log.LevelWarn,
		"ignoring differing config for existing circuit breaker (first-writer-wins)",
		log.String("service", name))
}

// Get returns the breaker for name, if one exists.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, exists := m.breakers[name]

	return breaker, exists
}

// Execute runs fn through the breaker for name. The breaker must have been
// created with GetOrCreate first. fn's own error is returned verbatim;
// rejections are an *OpenStateError.
func (m *Manager) Execute(name string, fn func() (any, error)) (any, error) {
	breaker, exists := m.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: %q (call GetOrCreate first)", ErrBreakerNotFound, name)
	}

	result, err := breaker.Execute(fn)

	var open *OpenStateError

	switch {
	case err == nil:
		m.recordExecution(name, "success")
	case errors.As(err, &open):
		m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker rejected request",
			log.String("service", name),
			log.Duration("retry_after", open.RetryAfter))
		m.recordExecution(name, "rejected_open")
	default:
		m.recordExecution(name, "error")
	}

	return result, err
}

// GetState returns the current state for name, or StateUnknown if no breaker
// exists.
func (m *Manager) GetState(name string) State {
	breaker, exists := m.Get(name)
	if !exists {
		return StateUnknown
	}

	return breaker.State()
}

// Stats returns the stats snapshot for name.
func (m *Manager) Stats(name string) (Stats, bool) {
	breaker, exists := m.Get(name)
	if !exists {
		return Stats{}, false
	}

	return breaker.Stats(), true
}

// AllStats returns a snapshot map of stats for every known breaker.
func (m *Manager) AllStats() map[string]Stats {
	snapshot := m.snapshot()

	stats := make(map[string]Stats, len(snapshot))
	for name, breaker := range snapshot {
		stats[name] = breaker.Stats()
	}

	return stats
}

// IsHealthy reports whether the breaker for name is attempting calls.
// Unknown names report unhealthy.
func (m *Manager) IsHealthy(name string) bool {
	breaker, exists := m.Get(name)
	if !exists {
		return false
	}

	return breaker.IsHealthy()
}

// OverallHealthy is the logical AND of IsHealthy across all known breakers.
// A manager with no breakers is healthy.
func (m *Manager) OverallHealthy() bool {
	for _, breaker := range m.snapshot() {
		if !breaker.IsHealthy() {
			return false
		}
	}

	return true
}

// Reset returns the breaker for name to closed with zero counters. Unknown
// names are a no-op.
func (m *Manager) Reset(name string) {
	breaker, exists := m.Get(name)
	if !exists {
		return
	}

	m.logger.Log(context.Background(), log.LevelInfo, "resetting circuit breaker",
		log.String("service", name))
	breaker.Reset()
}

// ResetAll resets every known breaker to closed.
func (m *Manager) ResetAll() {
	for _, breaker := range m.snapshot() {
		breaker.Reset()
	}
}

// ForceOpen opens the breaker for name unconditionally, bypassing the failure
// counter. Unknown names are a no-op with a warning.
func (m *Manager) ForceOpen(name string) {
	breaker, exists := m.Get(name)
	if !exists {
		m.logger.Log(context.Background(), log.LevelWarn, "cannot force-open unknown circuit breaker",
			log.String("service", name))

		return
	}

	breaker.ForceOpen()
}

// Remove deletes the breaker for name from the registry. Callers still
// holding the breaker can keep using it, but it is no longer shared.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.breakers, name)
	delete(m.configs, name)
}

// RegisterStateChangeListener registers a listener for state change notifications.
func (m *Manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

// snapshot copies the breaker map so callers can iterate without holding the
// registry lock while touching individual breakers.
func (m *Manager) snapshot() map[string]*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breakers := make(map[string]*CircuitBreaker, len(m.breakers))
	for name, breaker := range m.breakers {
		breakers[name] = breaker
	}

	return breakers
}

// handleStateChange processes breaker state changes and notifies listeners.
// It is invoked by breakers outside their own lock.
func (m *Manager) handleStateChange(name string, from, to State) {
	ctx := context.Background()

	switch to {
	case StateOpen:
		m.logger.Log(ctx, log.LevelError, "circuit breaker opened, requests will fast-fail",
			log.String("service", name), log.String("from", string(from)))
	case StateHalfOpen:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, testing recovery",
			log.String("service", name))
	case StateClosed:
		m.logger.Log(ctx, log.LevelInfo, "circuit breaker closed, service is healthy",
			log.String("service", name))
	}

	m.recordTransition(name, from, to)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		// Notify on a separate goroutine so a slow listener cannot block
		// breaker operations.
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Log(context.Background(), log.LevelError, "state change listener panicked",
						log.String("service", name), log.Any("panic", r))
				}
			}()

			l.OnStateChange(name, from, to)
		}(listener)
	}
}
