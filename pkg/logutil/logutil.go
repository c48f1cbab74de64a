package logutil

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	mu     sync.RWMutex
)

// InitLogger builds the process logger. The level comes from
// SCATTER_LOG_LEVEL and defaults to info.
func InitLogger() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		l = zap.NewExample()
	}
	SetLogger(l)
}

// SetLogger replaces the process logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// levelFromEnv falls back to info for unset or unknown levels.
func levelFromEnv() zapcore.Level {
	lvl, err := zapcore.ParseLevel(os.Getenv("SCATTER_LOG_LEVEL"))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
