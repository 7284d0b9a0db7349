package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger_UnknownEnv(t *testing.T) {
	if _, err := NewLogger("staging-42"); err == nil {
		t.Fatal("expected error for unknown env")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger("local", "loud"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("prod", "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Core().Enabled(zap.InfoLevel) {
		t.Error("info must be disabled with warn override")
	}
}

func TestFromContextOr(t *testing.T) {
	fallback := zap.NewExample()
	if got := FromContextOr(context.Background(), fallback); got != fallback {
		t.Error("expected fallback logger")
	}

	reqLogger := zap.NewNop()
	ctx := ContextWithLogger(context.Background(), reqLogger)
	if got := FromContextOr(ctx, fallback); got != reqLogger {
		t.Error("expected request logger")
	}
	if got := FromContext(ctx); got != reqLogger {
		t.Error("expected request logger from FromContext")
	}
}
