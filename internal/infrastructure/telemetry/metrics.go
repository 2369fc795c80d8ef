package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// MeterName is the meter name for sync-engine instruments
const MeterName = "wmsync-backend"

// MeterProvider wraps the OpenTelemetry MeterProvider with lifecycle management
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider creates and configures a MeterProvider. If telemetry is
// disabled it returns a provider that wraps the no-op global meter.
func NewMeterProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}

	if !cfg.Enabled {
		logger.Info("Metrics disabled, using no-op meter provider")
		return mp, nil
	}

	exporterOpts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(60*time.Second)),
		),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("OpenTelemetry MeterProvider initialized",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.String("service_name", cfg.ServiceName),
	)
	return mp, nil
}

// Shutdown flushes remaining metrics and releases resources
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}

// SyncMetrics holds the engine's core instruments
type SyncMetrics struct {
	SyncPasses      metric.Int64Counter
	SyncErrors      metric.Int64Counter
	SyncDuration    metric.Float64Histogram
	RecordsUpserted metric.Int64Counter

	WebhooksReceived  metric.Int64Counter
	WebhooksDuplicate metric.Int64Counter
	WebhooksFailed    metric.Int64Counter
	WebhookLatency    metric.Float64Histogram

	BreakerTransitions metric.Int64Counter
}

// NewSyncMetrics registers the engine's instruments on the global meter
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.GetMeterProvider().Meter(MeterName)
	m := &SyncMetrics{}

	var err error
	if m.SyncPasses, err = meter.Int64Counter("sync.passes",
		metric.WithDescription("Completed sync passes by kind and resource")); err != nil {
		return nil, err
	}
	if m.SyncErrors, err = meter.Int64Counter("sync.errors",
		metric.WithDescription("Failed sync passes by kind")); err != nil {
		return nil, err
	}
	if m.SyncDuration, err = meter.Float64Histogram("sync.duration",
		metric.WithDescription("Sync pass duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.RecordsUpserted, err = meter.Int64Counter("sync.records_upserted",
		metric.WithDescription("Canonical records written by resource type")); err != nil {
		return nil, err
	}
	if m.WebhooksReceived, err = meter.Int64Counter("webhook.received",
		metric.WithDescription("Webhook deliveries accepted for processing")); err != nil {
		return nil, err
	}
	if m.WebhooksDuplicate, err = meter.Int64Counter("webhook.duplicate",
		metric.WithDescription("Webhook deliveries short-circuited as already processed")); err != nil {
		return nil, err
	}
	if m.WebhooksFailed, err = meter.Int64Counter("webhook.failed",
		metric.WithDescription("Webhook deliveries that failed processing")); err != nil {
		return nil, err
	}
	if m.WebhookLatency, err = meter.Float64Histogram("webhook.latency",
		metric.WithDescription("Webhook processing time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.BreakerTransitions, err = meter.Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions")); err != nil {
		return nil, err
	}
	return m, nil
}

// Common metric attribute keys
var (
	AttrTaskKind  = attribute.Key("task_kind")
	AttrResource  = attribute.Key("resource")
	AttrEventType = attribute.Key("event_type")
	AttrProvider  = attribute.Key("provider")
)
