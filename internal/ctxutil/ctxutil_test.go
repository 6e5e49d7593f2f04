package ctxutil

import (
	"context"
	"testing"
)

func TestCorrelationID_StorageAndRetrieval(t *testing.T) {
	ctx := NewCorrelationIDContext(context.Background(), "corr-123")
	if got := CorrelationIDFromContext(ctx); got != "corr-123" {
		t.Errorf("CorrelationIDFromContext() = %q, want %q", got, "corr-123")
	}
}

func TestCorrelationID_Missing(t *testing.T) {
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("CorrelationIDFromContext() = %q, want empty string", got)
	}
}

func TestTrace_StorageAndRetrieval(t *testing.T) {
	ctx := NewTraceContext(context.Background(), "trace-abc", "span-def")
	if got := TraceIDFromContext(ctx); got != "trace-abc" {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, "trace-abc")
	}
	if got := SpanIDFromContext(ctx); got != "span-def" {
		t.Errorf("SpanIDFromContext() = %q, want %q", got, "span-def")
	}
}

func TestTrace_Missing(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext() = %q, want empty string", got)
	}
	if got := SpanIDFromContext(context.Background()); got != "" {
		t.Errorf("SpanIDFromContext() = %q, want empty string", got)
	}
}
