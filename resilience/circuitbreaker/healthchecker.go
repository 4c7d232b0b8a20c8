package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/foliometrics/lib-resilience/resilience/backoff"
	"github.com/foliometrics/lib-resilience/resilience/log"
)

var (
	// ErrInvalidHealthCheckInterval indicates that the health check interval must be positive.
	ErrInvalidHealthCheckInterval = errors.New("circuitbreaker: health check interval must be positive")
	// ErrInvalidHealthCheckTimeout indicates that the health check timeout must be positive.
	ErrInvalidHealthCheckTimeout = errors.New("circuitbreaker: health check timeout must be positive")
)

// HealthChecker performs periodic health checks on services whose breakers
// are open and resets the breaker once the service recovers. Probes against a
// service that keeps failing its checks are spaced out with exponential
// backoff so a struggling dependency is not hammered.
type HealthChecker struct {
	manager      *Manager
	interval     time.Duration
	checkTimeout time.Duration
	probeBackoff backoff.Policy
	logger       log.Logger

	stopChan       chan struct{}
	immediateCheck chan string
	wg             sync.WaitGroup

	mu        sync.RWMutex
	services  map[string]HealthCheckFunc
	attempts  map[string]int
	nextProbe map[string]time.Time
}

// NewHealthChecker creates a health checker bound to manager.
// interval is how often the probe loop wakes up; checkTimeout bounds each
// individual health check call.
func NewHealthChecker(manager *Manager, interval, checkTimeout time.Duration, logger log.Logger, opts ...HealthCheckerOption) (*HealthChecker, error) {
	if interval <= 0 {
		return nil, ErrInvalidHealthCheckInterval
	}

	if checkTimeout <= 0 {
		return nil, ErrInvalidHealthCheckTimeout
	}

	if logger == nil {
		return nil, ErrNilLogger
	}

	hc := &HealthChecker{
		manager:        manager,
		interval:       interval,
		checkTimeout:   checkTimeout,
		probeBackoff:   backoff.Policy{Base: interval, Max: 10 * interval},
		logger:         logger,
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan string, 10),
		services:       make(map[string]HealthCheckFunc),
		attempts:       make(map[string]int),
		nextProbe:      make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc, nil
}

// Register adds a service to health check.
func (hc *HealthChecker) Register(serviceName string, healthCheckFn HealthCheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.services[serviceName] = healthCheckFn
	hc.logger.Log(context.Background(), log.LevelInfo, "registered health check",
		log.String("service", serviceName))
}

// Start begins the health check loop in a separate goroutine.
func (hc *HealthChecker) Start() {
	hc.wg.Add(1)

	go hc.loop()

	hc.logger.Log(context.Background(), log.LevelInfo, "health checker started",
		log.Duration("interval", hc.interval))
}

// Stop gracefully stops the health checker.
func (hc *HealthChecker) Stop() {
	close(hc.stopChan)
	hc.wg.Wait()
	hc.logger.Log(context.Background(), log.LevelInfo, "health checker stopped")
}

func (hc *HealthChecker) loop() {
	defer hc.wg.Done()

	ticker := hc.manager.clk.Ticker(hc.interval)
	defer ticker.Stop()

	// Entering the select immediately keeps the checker responsive to
	// immediate checks from the moment it starts.
	for {
		select {
		case <-ticker.C:
			hc.performHealthChecks()
		case serviceName := <-hc.immediateCheck:
			hc.checkService(serviceName)
		case <-hc.stopChan:
			return
		}
	}
}

// performHealthChecks probes every registered service whose breaker is
// unhealthy and whose backoff window has elapsed.
func (hc *HealthChecker) performHealthChecks() {
	hc.mu.RLock()
	services := make(map[string]HealthCheckFunc, len(hc.services))
	for name, fn := range hc.services {
		services[name] = fn
	}
	hc.mu.RUnlock()

	for serviceName, healthCheckFn := range services {
		if hc.manager.IsHealthy(serviceName) {
			continue
		}

		if !hc.probeDue(serviceName) {
			continue
		}

		hc.probe(serviceName, healthCheckFn)
	}
}

// checkService performs an immediate health check on a specific service.
func (hc *HealthChecker) checkService(serviceName string) {
	hc.mu.RLock()
	healthCheckFn, exists := hc.services[serviceName]
	hc.mu.RUnlock()

	if !exists {
		hc.logger.Log(context.Background(), log.LevelWarn, "no health check registered",
			log.String("service", serviceName))

		return
	}

	if hc.manager.IsHealthy(serviceName) {
		return
	}

	hc.probe(serviceName, healthCheckFn)
}

func (hc *HealthChecker) probe(serviceName string, healthCheckFn HealthCheckFunc) {
	hc.logger.Log(context.Background(), log.LevelInfo, "attempting to heal service",
		log.String("service", serviceName))

	ctx, cancel := context.WithTimeout(context.Background(), hc.checkTimeout)
	err := healthCheckFn(ctx)

	cancel()

	if err == nil {
		hc.logger.Log(context.Background(), log.LevelInfo, "service recovered, resetting circuit breaker",
			log.String("service", serviceName))
		hc.manager.Reset(serviceName)
		hc.clearBackoff(serviceName)

		return
	}

	delay := hc.deferNextProbe(serviceName)
	hc.logger.Log(context.Background(), log.LevelWarn, "service still unhealthy",
		log.String("service", serviceName),
		log.Err(err),
		log.Duration("next_probe_in", delay))
}

// probeDue reports whether the backoff window for serviceName has elapsed.
func (hc *HealthChecker) probeDue(serviceName string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	next, exists := hc.nextProbe[serviceName]
	if !exists {
		return true
	}

	return !hc.manager.clk.Now().Before(next)
}

// deferNextProbe pushes the next probe out by the policy's jittered delay and
// returns that delay.
func (hc *HealthChecker) deferNextProbe(serviceName string) time.Duration {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	attempt := hc.attempts[serviceName]
	hc.attempts[serviceName] = attempt + 1

	delay := hc.probeBackoff.Delay(attempt)
	hc.nextProbe[serviceName] = hc.manager.clk.Now().Add(delay)

	return delay
}

func (hc *HealthChecker) clearBackoff(serviceName string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	delete(hc.attempts, serviceName)
	delete(hc.nextProbe, serviceName)
}

// GetHealthStatus returns the current breaker state of all registered services.
func (hc *HealthChecker) GetHealthStatus() map[string]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	status := make(map[string]string, len(hc.services))

	for serviceName := range hc.services {
		status[serviceName] = string(hc.manager.GetState(serviceName))
	}

	return status
}

// OnStateChange implements StateChangeListener. When a circuit opens, an
// immediate health check is scheduled instead of waiting for the next tick.
func (hc *HealthChecker) OnStateChange(serviceName string, _ State, to State) {
	if to != StateOpen {
		return
	}

	// Non-blocking send to avoid stalling the notifier.
	select {
	case hc.immediateCheck <- serviceName:
	default:
		hc.logger.Log(context.Background(), log.LevelWarn, "immediate health check channel full",
			log.String("service", serviceName))
	}
}
