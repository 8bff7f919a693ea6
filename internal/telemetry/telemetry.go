// Package telemetry builds the OpenTelemetry providers the CLI hands to
// every result store and logger.
//
// Metrics and logs are exported over OTLP/HTTP. When an endpoint is not
// configured the matching provider is a noop, so instrumented code pays
// nothing.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otellog "go.opentelemetry.io/otel/log"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// DefaultInterval is how often metrics are pushed to the collector.
const DefaultInterval = 15 * time.Second

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// MetricsEndpoint is a full OTLP/HTTP URL, e.g.
	// http://localhost:4318/v1/metrics. Empty disables metric export.
	MetricsEndpoint string

	// LogsEndpoint is a full OTLP/HTTP URL, e.g.
	// http://localhost:4318/v1/logs. Empty disables log export.
	LogsEndpoint string

	// Interval between metric pushes. Zero uses [DefaultInterval].
	Interval time.Duration
}

// Providers holds the configured providers.
type Providers struct {
	Meter  metric.MeterProvider
	Logger otellog.LoggerProvider

	shutdowns []func(context.Context) error
}

// Shutdown flushes and stops every SDK provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdowns {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup creates the meter and logger providers described by cfg.
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	p := &Providers{
		Meter:  noop.NewMeterProvider(),
		Logger: lognoop.NewLoggerProvider(),
	}
	if cfg.MetricsEndpoint == "" && cfg.LogsEndpoint == "" {
		return p, nil
	}
	if cfg.ServiceName == "" {
		return nil, errors.New("service name cannot be empty")
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MetricsEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(cfg.MetricsEndpoint))
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}

		interval := cfg.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}

		mp := NewMeterProvider(res, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
		p.Meter = mp
		p.shutdowns = append(p.shutdowns, mp.Shutdown)
	}

	if cfg.LogsEndpoint != "" {
		exporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(cfg.LogsEndpoint))
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create log exporter: %w", err)
		}

		lp := NewLoggerProvider(res, sdklog.NewBatchProcessor(exporter))
		p.Logger = lp
		p.shutdowns = append(p.shutdowns, lp.Shutdown)
	}

	return p, nil
}

// NewMeterProvider wires a reader to an SDK meter provider carrying res.
// Tests pass a manual reader here.
func NewMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
}

// NewLoggerProvider wires a processor to an SDK logger provider carrying res.
func NewLoggerProvider(res *resource.Resource, processor sdklog.Processor) *sdklog.LoggerProvider {
	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(processor),
	)
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{attribute.String("service.name", cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
