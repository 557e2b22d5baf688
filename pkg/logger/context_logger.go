package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey string

const (
	socketIDKey ctxKey = "socket_id"
	connIDKey   ctxKey = "conn_id"
	hubKey      ctxKey = "hub"
)

// WithSocket returns a context carrying the relay socket id.
func WithSocket(ctx context.Context, socketID string) context.Context {
	return context.WithValue(ctx, socketIDKey, socketID)
}

// WithPeer returns a context carrying the registered connection id and hub.
func WithPeer(ctx context.Context, connID, hub string) context.Context {
	ctx = context.WithValue(ctx, connIDKey, connID)
	return context.WithValue(ctx, hubKey, hub)
}

// ContextLogger decorates log lines with the socket, peer and trace
// found in a context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns the base logger with the fields carried by ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	for _, key := range []ctxKey{socketIDKey, connIDKey, hubKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.WithContext(ctx).Sugar()
}
