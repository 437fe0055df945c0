package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestFrom(t *testing.T) {
	fallback := zap.NewExample()
	stored := zap.NewNop()

	if got := From(context.Background(), fallback); got != fallback {
		t.Fatalf("expected fallback logger")
	}
	if got := From(With(context.Background(), stored), fallback); got != stored {
		t.Fatalf("expected stored logger")
	}
	if got := From(nil, nil); got == nil {
		t.Fatalf("expected no-op logger, got nil")
	}
}

func TestWithTrace_NoSpan(t *testing.T) {
	l := zap.NewNop()
	if got := WithTrace(context.Background(), l); got != l {
		t.Fatalf("expected logger unchanged without a span")
	}
}

func TestNew(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	l, err := New("poolprobe")
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	if !l.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected LOG_LEVEL=debug to enable debug")
	}
}
