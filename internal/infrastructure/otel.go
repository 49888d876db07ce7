package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "entitled"

// OTelProviders bundles the configured OpenTelemetry providers so the
// application can shut them down cleanly.
type OTelProviders struct {
	MeterProvider *sdkmetric.MeterProvider
	Registry      *prometheus.Registry
}

// InitializeOTel wires an OpenTelemetry meter provider backed by a Prometheus
// registry. Metrics are pull-based: the transport layer exposes the registry
// on /metrics.
func InitializeOTel(version string, logger *slog.Logger) (*OTelProviders, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	if logger != nil {
		logger.Info("OpenTelemetry metrics initialized",
			slog.String("service", serviceName),
			slog.String("exporter", "prometheus"),
		)
	}

	return &OTelProviders{MeterProvider: provider, Registry: registry}, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}
