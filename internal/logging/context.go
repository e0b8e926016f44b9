package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	runIDCtxKey     struct{}
	methodIDCtxKey  struct{}
	phaseIDCtxKey   struct{}
	requestIDCtxKey struct{}
	loggerCtxKey    struct{}
)

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := RunIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("run.id", v))
	}
	if v := stringValue(ctx, methodIDCtxKey{}); v != "" {
		fields = append(fields, zap.String("method.id", v))
	}
	if v := stringValue(ctx, phaseIDCtxKey{}); v != "" {
		fields = append(fields, zap.String("phase.id", v))
	}
	if v := RequestIDFromContext(ctx); v != "" {
		fields = append(fields, zap.String("request.id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key any) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithRunID tags ctx with the pipeline run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// RunIDFromContext returns the run id, or "".
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runIDCtxKey{})
}

// WithMethodID tags ctx with the method id being executed.
func WithMethodID(ctx context.Context, methodID string) context.Context {
	return context.WithValue(ctx, methodIDCtxKey{}, methodID)
}

// WithPhaseID tags ctx with the phase currently executing.
func WithPhaseID(ctx context.Context, phaseID string) context.Context {
	return context.WithValue(ctx, phaseIDCtxKey{}, phaseID)
}

// WithRequestID tags ctx with the transport request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDCtxKey{})
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
