// Package telemetry exports projector run metrics over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/PratikDhanave/event-projector/internal/config"
)

const instrumentationName = "github.com/PratikDhanave/event-projector"

// Provider owns the meter provider. Without an OTLP endpoint measurements
// are aggregated and dropped.
type Provider struct {
	mp *sdkmetric.MeterProvider
}

// Setup builds the meter provider from cfg. Extra readers are attached as
// well (tests pass a ManualReader).
func Setup(ctx context.Context, cfg config.TelemetryConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	if cfg.OTLPEndpoint != "" {
		expOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			expOpts = append(expOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, expOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		interval := cfg.Interval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}

	return &Provider{mp: sdkmetric.NewMeterProvider(opts...)}, nil
}

func (p *Provider) Meter() metric.Meter {
	return p.mp.Meter(instrumentationName)
}

// Shutdown flushes pending measurements.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Metrics are the projector's instruments.
type Metrics struct {
	appended    metric.Int64Counter
	projected   metric.Int64Counter
	filtered    metric.Int64Counter
	quarantined metric.Int64Counter
	runs        metric.Int64Counter
	duration    metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.appended, err = meter.Int64Counter("projector.events.appended",
		metric.WithDescription("Events appended to the event log"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.projected, err = meter.Int64Counter("projector.rows.projected",
		metric.WithDescription("Staging rows inserted, by kind"),
		metric.WithUnit("{row}")); err != nil {
		return nil, err
	}
	if m.filtered, err = meter.Int64Counter("projector.rows.filtered",
		metric.WithDescription("Rows excluded by a kind's row filter"),
		metric.WithUnit("{row}")); err != nil {
		return nil, err
	}
	if m.quarantined, err = meter.Int64Counter("projector.records.quarantined",
		metric.WithDescription("Records diverted to quarantine, by stage"),
		metric.WithUnit("{record}")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("projector.runs",
		metric.WithDescription("Completed runs, by result"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("projector.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900)); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordFetch records one catch-up.
func (m *Metrics) RecordFetch(ctx context.Context, appended, quarantined int) {
	m.appended.Add(ctx, int64(appended))
	if quarantined > 0 {
		m.quarantined.Add(ctx, int64(quarantined), metric.WithAttributes(attribute.String("stage", "fetch")))
	}
}

// RecordProjection records one committed projection.
func (m *Metrics) RecordProjection(ctx context.Context, inserted, filtered map[string]int, quarantined int) {
	for kind, n := range inserted {
		m.projected.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
	for kind, n := range filtered {
		m.filtered.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
	if quarantined > 0 {
		m.quarantined.Add(ctx, int64(quarantined), metric.WithAttributes(attribute.String("stage", "projection")))
	}
}

// RecordRun records a finished run. result is "ok", "locked" or "error".
func (m *Metrics) RecordRun(ctx context.Context, d time.Duration, result string) {
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}
