package debug

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.Mutex
	logger   *zap.Logger
)

// Logger returns the process-wide structured logger. It writes development
// style lines to stderr when debugging is enabled and is a no-op otherwise,
// so library code can log unconditionally.
func Logger() *zap.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = build(Enabled(), os.Getenv("RD_LOG_LEVEL"))
	}
	return logger
}

// Named returns the logger tagged with a component name.
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// SetLogger replaces the process-wide logger. Tests use it with
// zaptest/observer to assert on log output.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// Sync flushes any buffered log entries.
func Sync() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func resetLogger() {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger != nil {
		_ = logger.Sync()
	}
	logger = nil
}

func build(on bool, level string) *zap.Logger {
	if !on {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}
