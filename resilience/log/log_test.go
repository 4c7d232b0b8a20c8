//go:build unit

package log

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    Level
		expectError bool
	}{
		{name: "parse error level", input: "error", expected: LevelError},
		{name: "parse warn level", input: "warn", expected: LevelWarn},
		{name: "parse warning alias", input: "warning", expected: LevelWarn},
		{name: "parse info level", input: "info", expected: LevelInfo},
		{name: "parse debug level", input: "debug", expected: LevelDebug},
		{name: "parse mixed case", input: "InFo", expected: LevelInfo},
		{name: "reject unknown level", input: "verbose", expectError: true},
		{name: "reject empty string", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "warn", LevelWarn.String())
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "debug", LevelDebug.String())
	assert.Equal(t, "unknown", Level(42).String())
}

func TestFieldConstructors(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, Field{Key: "s", Value: "v"}, String("s", "v"))
	assert.Equal(t, Field{Key: "i", Value: 7}, Int("i", 7))
	assert.Equal(t, Field{Key: "f", Value: 1.5}, Float64("f", 1.5))
	assert.Equal(t, Field{Key: "b", Value: true}, Bool("b", true))
	assert.Equal(t, Field{Key: "d", Value: time.Second}, Duration("d", time.Second))
	assert.Equal(t, Field{Key: "error", Value: err}, Err(err))
	assert.Equal(t, Field{Key: "a", Value: []int{1}}, Any("a", []int{1}))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()

	// Every method must be callable without side effects or panics.
	logger.Log(context.Background(), LevelError, "ignored", Err(errors.New("x")))
	assert.False(t, logger.Enabled(LevelError))
	assert.Same(t, logger, logger.With(String("k", "v")))
	assert.Same(t, logger, logger.WithGroup("g"))
	assert.NoError(t, logger.Sync(context.Background()))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, `line1\nline2`, SanitizeString("line1\nline2"))
	assert.Equal(t, `a\rb\tc`, SanitizeString("a\rb\tc"))
	assert.Equal(t, "clean", SanitizeString("clean"))
}

// captureLogger records log calls for assertions.
type captureLogger struct {
	level  Level
	msgs   []string
	fields [][]Field
}

func (c *captureLogger) Log(_ context.Context, _ Level, msg string, fields ...Field) {
	c.msgs = append(c.msgs, msg)
	c.fields = append(c.fields, fields)
}

func (c *captureLogger) With(_ ...Field) Logger     { return c }
func (c *captureLogger) WithGroup(_ string) Logger  { return c }
func (c *captureLogger) Enabled(level Level) bool   { return c.level >= level }
func (c *captureLogger) Sync(context.Context) error { return nil }

func TestSafeError_Production(t *testing.T) {
	logger := &captureLogger{level: LevelDebug}

	SafeError(logger, context.Background(), "call failed", errors.New("secret detail"), true)

	require.Len(t, logger.msgs, 1)
	require.Len(t, logger.fields[0], 1)
	assert.Equal(t, "error_type", logger.fields[0][0].Key)
	assert.Equal(t, "*errors.errorString", logger.fields[0][0].Value)
}

func TestSafeError_Development(t *testing.T) {
	logger := &captureLogger{level: LevelDebug}
	err := errors.New("full detail")

	SafeError(logger, context.Background(), "call failed", err, false)

	require.Len(t, logger.msgs, 1)
	assert.Equal(t, Err(err), logger.fields[0][0])
}

func TestSafeError_NilInputsAreNoops(t *testing.T) {
	logger := &captureLogger{level: LevelDebug}

	SafeError(nil, context.Background(), "ignored", errors.New("x"), false)
	SafeError(logger, context.Background(), "ignored", nil, false)

	// A logger that reports the level disabled suppresses the event entirely.
	disabled := &disabledLogger{}
	SafeError(disabled, context.Background(), "ignored", errors.New("x"), false)

	assert.Empty(t, logger.msgs)
	assert.Empty(t, disabled.msgs)
}

type disabledLogger struct{ captureLogger }

func (d *disabledLogger) Enabled(Level) bool { return false }
