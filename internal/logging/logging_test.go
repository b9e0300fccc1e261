package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	logger.Info("hello", "key", "value")
}

func TestNewLoggerJSONConfig(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelDebug, JSON: true})
	require.NotNil(t, logger)
	logger.Debug("debug message", "n", 1)
}

func TestLevelZapLevelMapping(t *testing.T) {
	assert.NotPanics(t, func() {
		for _, l := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError} {
			_ = l.zapLevel()
		}
	})
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}

func TestSetDefaultReplacesGlobal(t *testing.T) {
	original := Default()
	replacement := NewLogger(&Config{Level: LevelWarn})
	SetDefault(replacement)
	t.Cleanup(func() { SetDefault(original) })

	assert.Same(t, replacement, Default())
}
