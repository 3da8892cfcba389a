package tracing

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/sorrel/pkg/tracing/exporters"
)

// Config selects where finished spans go.
type Config struct {
	ServiceName string
	// Exporter is "none", "log" or "otlp".
	Exporter string
	OTLP     exporters.OTLPConfig
}

// Setup installs a tracer provider and returns a shutdown function that flushes it.
// With the "none" exporter spans are no-ops.
func Setup(ctx context.Context, cfg Config, log ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "log":
		exporter = exporters.NewLogExporter(log)
	case "otlp":
		otlp, err := exporters.NewOTLPExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, err
		}
		exporter = otlp
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s (use 'none', 'log' or 'otlp')", cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	SetTracer(provider.Tracer(cfg.ServiceName))

	return provider.Shutdown, nil
}
