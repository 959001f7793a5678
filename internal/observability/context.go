package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	runIDKey     contextKey = "run_id"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithRunID adds a harvest run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext retrieves the harvest run ID from context.
// Returns empty string if not present.
func RunIDFromContext(ctx context.Context) string {
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	if v := ctx.Value(traceIDKey); v != nil {
		if id, ok := v.(string); ok {
			traceID = id
		}
	}
	if v := ctx.Value(spanIDKey); v != nil {
		if id, ok := v.(string); ok {
			spanID = id
		}
	}
	return traceID, spanID
}

// HarvestContext contains all the context data for a harvest run.
type HarvestContext struct {
	RequestID string
	RunID     string
	TraceID   string
	SpanID    string
}

// WithHarvestContext adds all harvest context to the context.
func WithHarvestContext(ctx context.Context, hc HarvestContext) context.Context {
	if hc.RequestID != "" {
		ctx = WithRequestID(ctx, hc.RequestID)
	}
	if hc.RunID != "" {
		ctx = WithRunID(ctx, hc.RunID)
	}
	if hc.TraceID != "" || hc.SpanID != "" {
		ctx = WithTraceSpan(ctx, hc.TraceID, hc.SpanID)
	}
	return ctx
}

// HarvestContextFromContext extracts all harvest context from the context.
func HarvestContextFromContext(ctx context.Context) HarvestContext {
	traceID, spanID := TraceSpanFromContext(ctx)

	return HarvestContext{
		RequestID: RequestIDFromContext(ctx),
		RunID:     RunIDFromContext(ctx),
		TraceID:   traceID,
		SpanID:    spanID,
	}
}
