package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/mottlarbe/mottlarbe-api/internal/config"
)

func TestNew(t *testing.T) {
	for _, env := range []config.Environment{config.EnvDevelopment, config.EnvProduction, "staging"} {
		logger, err := New(env, "")
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", env, err)
		}
		if logger == nil {
			t.Fatalf("expected logger instance for %s", env)
		}
		_ = logger.Sync()
	}
}

func TestNewAppliesLevel(t *testing.T) {
	logger, err := New(config.EnvProduction, "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("expected warn to be enabled")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.EnvDevelopment, "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
