package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "hubcom/relay"

// Span attributes of relay traffic.
var (
	HubKey         = attribute.Key("hub.name")
	SocketIDKey    = attribute.Key("relay.socket_id")
	MessageTypeKey = attribute.Key("message.type")
	RouteModeKey   = attribute.Key("message.route")
	RecipientsKey  = attribute.Key("message.recipients")
)

// Config selects the Jaeger collector the relay reports to.
type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "hubcom-relay",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// TracerProvider owns the exporter pipeline installed by Init.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a global Jaeger-backed provider. A disabled config leaves the
// global no-op tracer in place and returns a provider whose Shutdown does
// nothing.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}
	if cfg.Version == "" {
		cfg.Version = DefaultConfig().Version
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TraceHTTPRequest starts the span of one REST or upgrade request. The
// caller's headers are honoured as the parent context.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "http "+method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceRelayMessage starts the span of one envelope read from a socket.
func TraceRelayMessage(ctx context.Context, msgType, hub, socketID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "relay."+msgType,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			MessageTypeKey.String(msgType),
			HubKey.String(hub),
			SocketIDKey.String(socketID),
		),
	)
}

// MarkRoute records how a forwarded envelope left the relay.
func MarkRoute(span trace.Span, mode string, recipients int) {
	span.SetAttributes(RouteModeKey.String(mode), RecipientsKey.Int(recipients))
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
