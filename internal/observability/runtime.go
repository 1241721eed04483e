package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/millatvt/millat-backend/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime holds the OpenTelemetry providers started for the process. Metric
// and trace providers always exist; LoggerProvider is nil unless log export is on.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
	Logger         *slog.Logger

	exporting bool
}

// InitRuntime starts metrics, tracing and log export in that order. If a later
// signal fails, providers already started are shut down before returning.
func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Logger:    logger,
		exporting: cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled || cfg.OTELLogsEnabled,
	}
	var err error
	if rt.MeterProvider, err = InitMetrics(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if rt.TracerProvider, err = InitTracing(ctx, cfg, logger); err != nil {
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	bridged, lp, err := InitLogs(ctx, cfg, logger)
	if err != nil {
		return nil, errors.Join(err, rt.Shutdown(ctx))
	}
	rt.LoggerProvider, rt.Logger = lp, bridged
	return rt, nil
}

// Enabled reports whether any signal is exported.
func (r *Runtime) Enabled() bool {
	return r != nil && r.exporting
}

// Shutdown flushes logs first so records emitted while stopping metrics and
// traces are not lost.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.LoggerProvider != nil {
		errs = append(errs, r.LoggerProvider.Shutdown(ctx))
	}
	if r.TracerProvider != nil {
		errs = append(errs, r.TracerProvider.Shutdown(ctx))
	}
	if r.MeterProvider != nil {
		errs = append(errs, r.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
