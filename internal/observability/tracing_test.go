package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTracerStartsAndEndsSpans(t *testing.T) {
	tr := NewTracer("test-service")

	ctx, span := tr.StartLLMCall(context.Background(), "test-model")
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("expected StartLLMCall to produce a valid span context")
	}
	End(span, nil)

	_, span2 := tr.StartToolDispatch(context.Background(), "echo")
	End(span2, errors.New("boom"))
}
