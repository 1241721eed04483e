package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/millatvt/millat-backend/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "millat-backend"

type AppMetrics struct {
	authLoginCounter        metric.Int64Counter
	authRefreshCounter      metric.Int64Counter
	authLogoutCounter       metric.Int64Counter
	tokenValidationCounter  metric.Int64Counter
	repositoryOpCounter     metric.Int64Counter
	rateLimitCounter        metric.Int64Counter
	principalStatusCounter  metric.Int64Counter
	principalCacheCounter   metric.Int64Counter
	realtimeConnections     metric.Int64UpDownCounter
	realtimeHandshakeCount  metric.Int64Counter
	realtimeEventCounter    metric.Int64Counter
	realtimeBroadcastCounts metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"auth.access_token.validations", &m.tokenValidationCounter},
		{"repository.operations", &m.repositoryOpCounter},
		{"http.rate_limit.decisions", &m.rateLimitCounter},
		{"admin.principal.status_changes", &m.principalStatusCounter},
		{"principal.cache.events", &m.principalCacheCounter},
		{"realtime.handshakes", &m.realtimeHandshakeCount},
		{"realtime.events", &m.realtimeEventCounter},
		{"realtime.broadcasts", &m.realtimeBroadcastCounts},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name); err != nil {
			return nil, err
		}
	}
	if m.realtimeConnections, err = meter.Int64UpDownCounter("realtime.connections.active"); err != nil {
		return nil, err
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(kind, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenValidationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func RecordRepositoryOperation(ctx context.Context, repo, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("repository", repo),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("outcome", outcome),
		attribute.String("key_type", keyType),
	))
}

func RecordPrincipalStatusChange(kind string, active bool) {
	m := current()
	if m == nil {
		return
	}
	m.principalStatusCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("active", active),
	))
}

func RecordPrincipalCacheEvent(ctx context.Context, backend, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.principalCacheCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

func RecordRealtimeHandshake(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.realtimeHandshakeCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRealtimeConnection adjusts the live connection gauge by delta.
func RecordRealtimeConnection(ctx context.Context, kind string, delta int64) {
	m := current()
	if m == nil {
		return
	}
	m.realtimeConnections.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordRealtimeEvent(ctx context.Context, event, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.realtimeEventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

func RecordRealtimeBroadcast(ctx context.Context, event, transport string, recipients int) {
	m := current()
	if m == nil {
		return
	}
	m.realtimeBroadcastCounts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("transport", transport),
		attribute.Bool("delivered", recipients > 0),
	))
}
