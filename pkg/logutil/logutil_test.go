package logutil

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGetLoggerDefaultsToNop(t *testing.T) {
	SetLogger(nil)
	if GetLogger() == nil {
		t.Fatal("nil logger")
	}
	GetLogger().Info("dropped")
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	GetLogger().Info("hello", zap.Int("device", 2))
	if logs.FilterMessage("hello").Len() != 1 {
		t.Error("message not routed to the installed logger")
	}
}

func TestLevelFromEnv(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":       zapcore.InfoLevel,
		"debug":  zapcore.DebugLevel,
		"WARN":   zapcore.WarnLevel,
		"error":  zapcore.ErrorLevel,
		"dpanic": zapcore.DPanicLevel,
		"panic":  zapcore.PanicLevel,
		"FATAL":  zapcore.FatalLevel,
		"bogus":  zapcore.InfoLevel,
	}
	for value, expected := range tests {
		t.Setenv("SCATTER_LOG_LEVEL", value)
		if actual := levelFromEnv(); actual != expected {
			t.Errorf("%q: expected %v but got %v", value, expected, actual)
		}
	}
}
