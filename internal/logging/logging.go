// Package logging provides level-gated, key-value structured logging for
// vecpipe, backed by zap.SugaredLogger. The call shape (Debug/Info/Warn/
// Error with trailing key-value pairs, a package-level Default logger,
// SetDefault to swap it) matches how the rest of this codebase is wired,
// but the engine underneath is zap rather than a hand-rolled stdlib
// wrapper, following how sakateka-yanet2's balancer command builds its
// logger.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger with the level-gated key-value call
// shape the rest of the pipeline uses.
type Logger struct {
	sugar *zap.SugaredLogger
}

// LogLevel mirrors zapcore.Level so callers don't need to import zap
// directly just to build a Config.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config selects the log level and output encoding.
type Config struct {
	Level LogLevel
	// JSON selects zap's JSON encoder; otherwise a human-readable
	// console encoder is used. Production deployments want JSON for log
	// aggregation; local development wants console.
	JSON bool
}

// DefaultConfig returns console-encoded output at info level.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo}
}

// NewLogger builds a Logger from config, defaulting to DefaultConfig()
// when config is nil.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	zapConfig := zap.NewProductionConfig()
	if !config.JSON {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(config.Level.zapLevel())

	base, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap's own config construction failing means something is
		// deeply wrong with the process (can't open stderr, etc.); fall
		// back to a no-frills logger so callers still get output.
		base = zap.NewExample(zap.IncreaseLevel(config.Level.zapLevel()))
	}
	return &Logger{sugar: base.Sugar()}
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Default returns the process-wide default logger, constructing one with
// DefaultConfig() on first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger, used by
// cmd/vecpipe-server once CLI flags are parsed.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// Sync flushes any buffered log entries; call it before process exit.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...) }

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
