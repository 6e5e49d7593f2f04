// Package ctxutil provides cross-cutting context utilities for propagating
// the correlation id and trace/span ids every public operation accepts and
// echoes back (spec §6: "All take an optional correlation id header; all
// return a correlation id in error status messages"; spec §6 structured
// log schema: "correlation_id?, trace_id?, span_id?"). This package can be
// imported from any layer.
package ctxutil

import "context"

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	traceIDKey       contextKey = "trace_id"
	spanIDKey        contextKey = "span_id"
)

// NewCorrelationIDContext returns a new context carrying the given
// correlation id.
func NewCorrelationIDContext(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation id from context.
// Returns an empty string if none is set.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// NewTraceContext returns a new context carrying the given trace and span
// ids, sourced from whatever distributed-tracing system the deployment
// uses; this package only propagates the ids, it does not generate spans.
func NewTraceContext(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceIDFromContext retrieves the trace id from context, if any.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// SpanIDFromContext retrieves the span id from context, if any.
func SpanIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(spanIDKey).(string)
	return id
}
