package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the spans SPEC_FULL.md's
// orchestrator emits around LLM calls and tool dispatch. Trimmed from the
// teacher's exporter-backed version: no OTLP collector endpoint is part
// of this spec's surface, so the SDK provider here has no exporter wired
// in and spans are recorded but not shipped anywhere — the instrumentation
// points themselves are what matters for anyone wiring one in later.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer backed by a local, exporter-less SDK
// TracerProvider and installs it as the global provider.
func NewTracer(serviceName string) *Tracer {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(serviceName)}
}

// StartLLMCall starts a span for one LLM completion request.
func (t *Tracer) StartLLMCall(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("llm.model", model)))
}

// StartToolDispatch starts a span for one tool or sub-agent dispatch.
func (t *Tracer) StartToolDispatch(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.dispatch", trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tool.name", name)))
}

// End records err (if any) on span and closes it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
