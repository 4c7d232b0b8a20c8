//go:build unit

package circuitbreaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliometrics/lib-resilience/resilience/log"
)

// capturedEntry is one log call recorded by captureLogger.
type capturedEntry struct {
	level log.Level
	msg   string
}

// captureLogger records every Log call for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []capturedEntry
}

func (c *captureLogger) Log(_ context.Context, level log.Level, msg string, _ ...log.Field) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, capturedEntry{level: level, msg: msg})
}

func (c *captureLogger) With(_ ...log.Field) log.Logger { return c }
func (c *captureLogger) WithGroup(_ string) log.Logger  { return c }
func (c *captureLogger) Enabled(_ log.Level) bool       { return true }
func (c *captureLogger) Sync(_ context.Context) error   { return nil }

func (c *captureLogger) hasEntry(level log.Level, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}

	return false
}

// chanListener forwards state changes to a channel so tests can wait for the
// asynchronous notification.
type chanListener struct {
	changes chan [3]string
}

func (l *chanListener) OnStateChange(name string, from, to State) {
	l.changes <- [3]string{name, string(from), string(to)}
}

// panicListener always panics; used to verify listener isolation.
type panicListener struct{}

func (panicListener) OnStateChange(string, State, State) {
	panic("listener exploded")
}

func newTestManager(t *testing.T) (*Manager, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	manager, err := NewManager(log.NewNop(), WithClock(mock))
	require.NoError(t, err)

	return manager, mock
}

func TestNewManager_NilLogger(t *testing.T) {
	manager, err := NewManager(nil)
	assert.Nil(t, manager)
	assert.ErrorIs(t, err, ErrNilLogger)
}

func TestManager_GetOrCreate(t *testing.T) {
	manager, _ := newTestManager(t)

	breaker, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, breaker)

	again, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)
	assert.Same(t, breaker, again)

	other, err := manager.GetOrCreate("alpha-vantage", FastRecoveryConfig())
	require.NoError(t, err)
	assert.NotSame(t, breaker, other)
}

func TestManager_GetOrCreate_EmptyName(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetOrCreate("", DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManager_GetOrCreate_InvalidConfig(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetOrCreate("yahoo-finance", Config{FailureThreshold: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestManager_GetOrCreate_FirstWriterWins(t *testing.T) {
	logger := &captureLogger{}
	manager, err := NewManager(logger)
	require.NoError(t, err)

	first, err := manager.GetOrCreate("yahoo-finance", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 2})
	require.NoError(t, err)

	// A differing config is ignored, the stored breaker wins, and the misuse
	// is logged as a warning.
	second, err := manager.GetOrCreate("yahoo-finance", Config{FailureThreshold: 9, RecoveryTimeout: time.Hour, SuccessThreshold: 1})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 3, first.config.FailureThreshold)
	assert.True(t, logger.hasEntry(log.LevelWarn,
		"ignoring differing config for existing circuit breaker (first-writer-wins)"))

	// A zero config means "use whatever exists" and does not warn.
	logger.entries = nil
	_, err = manager.GetOrCreate("yahoo-finance", Config{})
	require.NoError(t, err)
	assert.Empty(t, logger.entries)
}

func TestManager_Execute(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)

	result, err := manager.Execute("yahoo-finance", succeedingCall)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = manager.Execute("yahoo-finance", failingCall)
	assert.ErrorIs(t, err, errUpstream)
}

func TestManager_Execute_UnknownBreaker(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.Execute("never-created", succeedingCall)
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestManager_Execute_RejectionLogged(t *testing.T) {
	logger := &captureLogger{}
	manager, err := NewManager(logger)
	require.NoError(t, err)

	_, err = manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)

	manager.ForceOpen("yahoo-finance")

	_, err = manager.Execute("yahoo-finance", succeedingCall)
	assert.ErrorIs(t, err, ErrOpenState)
	assert.True(t, logger.hasEntry(log.LevelWarn, "circuit breaker rejected request"))
}

func TestManager_GetState(t *testing.T) {
	manager, _ := newTestManager(t)

	assert.Equal(t, StateUnknown, manager.GetState("never-created"))

	_, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StateClosed, manager.GetState("yahoo-finance"))

	manager.ForceOpen("yahoo-finance")
	assert.Equal(t, StateOpen, manager.GetState("yahoo-finance"))
}

func TestManager_StatsAndAllStats(t *testing.T) {
	manager, _ := newTestManager(t)

	_, ok := manager.Stats("never-created")
	assert.False(t, ok)

	_, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)
	_, err = manager.GetOrCreate("alpha-vantage", DefaultConfig())
	require.NoError(t, err)

	_, _ = manager.Execute("yahoo-finance", succeedingCall)
	_, _ = manager.Execute("yahoo-finance", failingCall)

	stats, ok := manager.Stats("yahoo-finance")
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.TotalFailures)

	all := manager.AllStats()
	require.Len(t, all, 2)
	assert.Equal(t, "yahoo-finance", all["yahoo-finance"].Name)
	assert.Equal(t, uint64(0), all["alpha-vantage"].TotalRequests)
}

func TestManager_Health(t *testing.T) {
	manager, _ := newTestManager(t)

	// No breakers yet: overall healthy, unknown names unhealthy.
	assert.True(t, manager.OverallHealthy())
	assert.False(t, manager.IsHealthy("never-created"))

	_, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)
	_, err = manager.GetOrCreate("alpha-vantage", DefaultConfig())
	require.NoError(t, err)

	assert.True(t, manager.IsHealthy("yahoo-finance"))
	assert.True(t, manager.OverallHealthy())

	manager.ForceOpen("alpha-vantage")
	assert.False(t, manager.IsHealthy("alpha-vantage"))
	assert.False(t, manager.OverallHealthy())

	manager.Reset("alpha-vantage")
	assert.True(t, manager.OverallHealthy())
}

func TestManager_ResetAll(t *testing.T) {
	manager, _ := newTestManager(t)

	for _, name := range []string{"yahoo-finance", "alpha-vantage", "finnhub"} {
		_, err := manager.GetOrCreate(name, DefaultConfig())
		require.NoError(t, err)
		manager.ForceOpen(name)
	}

	assert.False(t, manager.OverallHealthy())

	manager.ResetAll()

	for _, name := range []string{"yahoo-finance", "alpha-vantage", "finnhub"} {
		assert.Equal(t, StateClosed, manager.GetState(name))
	}
}

func TestManager_Remove(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)

	manager.Remove("yahoo-finance")

	_, exists := manager.Get("yahoo-finance")
	assert.False(t, exists)
	assert.Equal(t, StateUnknown, manager.GetState("yahoo-finance"))

	// Removing an unknown name is a no-op.
	manager.Remove("never-created")
}

func TestManager_StateChangeListener(t *testing.T) {
	manager, _ := newTestManager(t)

	listener := &chanListener{changes: make(chan [3]string, 4)}
	manager.RegisterStateChangeListener(listener)

	_, err := manager.GetOrCreate("yahoo-finance", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 1})
	require.NoError(t, err)

	_, _ = manager.Execute("yahoo-finance", failingCall)

	select {
	case change := <-listener.changes:
		assert.Equal(t, [3]string{"yahoo-finance", string(StateClosed), string(StateOpen)}, change)
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not notified of the transition")
	}
}

func TestManager_NilListenerIgnored(t *testing.T) {
	logger := &captureLogger{}
	manager, err := NewManager(logger)
	require.NoError(t, err)

	manager.RegisterStateChangeListener(nil)
	assert.True(t, logger.hasEntry(log.LevelWarn, "attempted to register a nil state change listener"))
}

func TestManager_PanickingListenerDoesNotPropagate(t *testing.T) {
	logger := &captureLogger{}
	manager, err := NewManager(logger)
	require.NoError(t, err)

	manager.RegisterStateChangeListener(panicListener{})

	listener := &chanListener{changes: make(chan [3]string, 4)}
	manager.RegisterStateChangeListener(listener)

	_, err = manager.GetOrCreate("yahoo-finance", DefaultConfig())
	require.NoError(t, err)

	manager.ForceOpen("yahoo-finance")

	// The well-behaved listener still hears the change while the panicking
	// one is recovered and logged.
	select {
	case <-listener.changes:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not notified of the transition")
	}

	assert.Eventually(t, func() bool {
		return logger.hasEntry(log.LevelError, "state change listener panicked")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ConcurrentGetOrCreate(t *testing.T) {
	manager, _ := newTestManager(t)

	const goroutines = 16

	var wg sync.WaitGroup

	breakers := make([]*CircuitBreaker, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			breaker, err := manager.GetOrCreate("yahoo-finance", DefaultConfig())
			assert.NoError(t, err)
			breakers[i] = breaker
		}(i)
	}

	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
}
