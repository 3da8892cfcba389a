package exporters

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to the debug log. Useful for batch runs
// where no collector is available.
type LogExporter struct {
	log ectologger.Logger
}

func NewLogExporter(log ectologger.Logger) *LogExporter {
	return &LogExporter{log: log}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := map[string]any{
			"span":        span.Name(),
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
		}
		if parent := span.Parent(); parent.IsValid() {
			fields["parent_span_id"] = parent.SpanID().String()
		}
		if status := span.Status(); status.Description != "" {
			fields["status"] = status.Description
		}
		e.log.WithContext(ctx).WithFields(fields).Debug("Span finished")
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
