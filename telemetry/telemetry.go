// Package telemetry installs the OpenTelemetry meter provider that engine
// counters report to. When disabled the global provider stays a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config holds metrics export settings
type Config struct {
	Enabled     bool
	ServiceName string
	Interval    time.Duration
	Writer      io.Writer // where metric batches are written (required when enabled)
}

// Provider owns the SDK meter provider, if any.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	config        Config
}

// New builds a provider from cfg. A disabled config returns a provider
// whose MeterProvider is a no-op.
func New(cfg Config, opts ...sdkmetric.Option) (*Provider, error) {
	p := &Provider{config: cfg}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.Writer == nil {
		return nil, errors.New("telemetry enabled but no writer configured")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("telemetry interval must be positive, got %s", cfg.Interval)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(cfg.Writer),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	opts = append([]sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	}, opts...)
	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	return p, nil
}

// MeterProvider returns the provider to record on.
func (p *Provider) MeterProvider() metric.MeterProvider {
	if p.meterProvider == nil {
		return noop.NewMeterProvider()
	}
	return p.meterProvider
}

// Install makes this provider the global one.
func (p *Provider) Install() {
	if p.meterProvider != nil {
		otel.SetMeterProvider(p.meterProvider)
	}
}

// Flush exports pending metrics now.
func (p *Provider) Flush(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("metric flush failed: %w", err)
	}
	return nil
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("metric shutdown failed: %w", err)
	}
	return nil
}

// Enabled reports whether metrics are exported.
func (p *Provider) Enabled() bool {
	return p.config.Enabled
}
