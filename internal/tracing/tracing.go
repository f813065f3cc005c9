// Package tracing builds the tracer used by the orchestrator. Finished
// spans are written to the debug log rather than shipped to a collector.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/logging"
)

// InstrumentationName names the tracer handed to the orchestrator.
const InstrumentationName = "github.com/Iron-Ham/relay"

// LogExporter writes each finished span as one debug log record.
type LogExporter struct {
	logger *logging.Logger

	mu      sync.Mutex
	stopped bool
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates an exporter writing to logger.
func NewLogExporter(logger *logging.Logger) *LogExporter {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LogExporter{logger: logger.WithPhase("tracing")}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		args := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration", s.EndTime().Sub(s.StartTime()).String(),
			"status", s.Status().Code.String(),
		}
		if s.Parent().IsValid() {
			args = append(args, "parent_id", s.Parent().SpanID().String())
		}
		if desc := s.Status().Description; desc != "" {
			args = append(args, "status_description", desc)
		}
		args = append(args, attrArgs(s.Attributes())...)
		e.logger.Debug("span finished", args...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func attrArgs(attrs []attribute.KeyValue) []any {
	args := make([]any, 0, len(attrs)*2)
	for _, kv := range attrs {
		args = append(args, string(kv.Key), kv.Value.Emit())
	}
	return args
}

// Provider pairs a tracer with the function that flushes it.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// New returns a provider exporting to logger when cfg.Enabled, and a
// noop provider otherwise.
func New(cfg config.TracingConfig, logger *logging.Logger) *Provider {
	if !cfg.Enabled {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(NewLogExporter(logger)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return &Provider{tp: sdk, shutdown: sdk.Shutdown}
}

// Tracer returns the relay tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
