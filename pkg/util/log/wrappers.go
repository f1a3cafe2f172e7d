package log

import (
	"context"

	"github.com/go-kit/log"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
)

type requestIDContextKey struct{}

// ContextWithRequestID returns a derived context carrying the query request id.
func ContextWithRequestID(ctx context.Context, requestID int64) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the query request id stored in the context, if any.
func RequestIDFromContext(ctx context.Context) (int64, bool) {
	requestID, ok := ctx.Value(requestIDContextKey{}).(int64)
	return requestID, ok
}

// WithRequestID returns a Logger that has information about the current
// query request in its details.
func WithRequestID(requestID int64, l log.Logger) log.Logger {
	return log.With(l, "request_id", requestID)
}

// WithTraceID returns a Logger that has information about the traceID in
// its details.
func WithTraceID(traceID string, l log.Logger) log.Logger {
	return log.With(l, "traceID", traceID)
}

// WithContext returns a Logger that has information about the current
// request and trace in its details.
func WithContext(ctx context.Context, l log.Logger) log.Logger {
	if requestID, ok := RequestIDFromContext(ctx); ok {
		l = WithRequestID(requestID, l)
	}

	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return l
	}
	sctx, ok := span.Context().(jaeger.SpanContext)
	if !ok {
		return l
	}
	return WithTraceID(sctx.TraceID().String(), l)
}
