// Package log provides the structured logger shared by the mock server
// runtime, CLI, and embedding callers.
package log

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogPath  = "MOCKAPI_LOG_PATH"
	envLogLevel = "MOCKAPI_LOG_LEVEL"
)

// Logger is the subset of zap's sugared API used across the codebase.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
	Sync() error
}

var (
	once       sync.Once
	logger     *zap.SugaredLogger
	syncLogger = func() error { return nil }
)

// Shared returns a lazily initialised structured logger.
func Shared() Logger {
	return sugared()
}

// Sugared exposes the underlying zap logger for callers that need the full API.
func Sugared() *zap.SugaredLogger {
	return sugared()
}

func sugared() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

		if level := strings.TrimSpace(os.Getenv(envLogLevel)); level != "" {
			if parsed, err := zapcore.ParseLevel(level); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(parsed)
			}
		}
		if path := strings.TrimSpace(os.Getenv(envLogPath)); path != "" {
			cfg.OutputPaths = append(cfg.OutputPaths, path)
			cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, path)
		}

		base, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		logger = base.Sugar()
		syncLogger = base.Sync
	})

	return logger
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() Logger {
	return zap.NewNop().Sugar()
}

// Sync flushes any buffered log entries.
func Sync() error {
	if err := syncLogger(); err != nil {
		if strings.Contains(err.Error(), "bad file descriptor") || strings.Contains(err.Error(), "invalid argument") {
			return nil
		}
		return err
	}
	return nil
}
