// Package observability boots the OpenTelemetry trace pipeline for the
// dispatch subsystem. The pipeline and tracker create their spans through the
// global tracer, so running without Setup leaves them as no-ops.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config controls the trace exporter
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// DefaultConfig returns a disabled local-collector configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "sendflow",
		Environment:  "development",
		OTLPEndpoint: "localhost:4318",
		SampleRate:   1.0,
	}
}

// Provider owns the installed tracer provider
type Provider struct {
	traceProvider *sdktrace.TracerProvider
}

// Setup installs a global tracer provider exporting over OTLP HTTP. With
// tracing disabled it returns a provider whose Shutdown is a no-op.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %v", err)
	}

	exporter, err := otlptrace.New(ctx,
		otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %v", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{traceProvider: provider}, nil
}

// Shutdown flushes and stops the exporter
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.traceProvider == nil {
		return nil
	}
	return p.traceProvider.Shutdown(ctx)
}
