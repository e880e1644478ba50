// Package tracing installs the OpenTelemetry tracer provider. When disabled,
// the global no-op provider stays in place and spans cost nothing.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "docreview"

// Config holds tracing configuration.
type Config struct {
	Enabled  bool
	Exporter string
	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// Provider owns the installed tracer provider.
type Provider struct {
	shutdown func(context.Context) error
}

// Init installs a tracer provider for cfg and returns a Provider that must be
// shut down on exit.
func Init(_ context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{shutdown: func(context.Context) error { return nil }}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return &Provider{shutdown: tp.Shutdown}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		opts := []stdouttrace.Option{}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		return stdouttrace.New(opts...)
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: stdout)", cfg.Exporter)
	}
}
