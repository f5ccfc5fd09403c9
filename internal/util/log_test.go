package util

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug", "prod")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid", "prod")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}

	// The dev console writer must not disturb level handling.
	logger = NewLogger("warn", "dev")
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level in dev, got %s", logger.GetLevel())
	}
}
