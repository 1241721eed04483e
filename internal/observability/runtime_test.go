package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/millatvt/millat-backend/internal/config"
)

func TestInitRuntimeWithEverythingDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{OTELServiceName: "millat-backend", AppEnv: "test"}

	rt, err := InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	if rt.Enabled() {
		t.Fatal("expected no exported signals")
	}
	if rt.MeterProvider == nil || rt.TracerProvider == nil || rt.LoggerProvider != nil {
		t.Fatalf("unexpected providers %+v", rt)
	}
	if rt.Logger != logger {
		t.Fatal("expected fallback logger to be kept")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNilRuntimeIsSafe(t *testing.T) {
	var rt *Runtime
	if rt.Enabled() {
		t.Fatal("nil runtime must not report enabled")
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown nil runtime: %v", err)
	}
}
