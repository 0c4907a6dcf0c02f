package interceptors

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const tracerName = "contextd.grpc"

// TierAttribute is the span attribute naming the tier a health RPC asks
// about, using the same values as the metrics tier label.
const TierAttribute = "contextd.tier"

// TracingUnaryInterceptor starts a server span per RPC, continuing the
// caller's trace when one is propagated.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, span := startServerSpan(ctx, info.FullMethod)
		defer span.End()
		span.SetAttributes(attribute.String(TierAttribute, requestTier(req)))

		resp, err := handler(ctx, req)
		endSpan(span, err)
		return resp, err
	}
}

// TracingStreamInterceptor spans a whole stream. For Watch the tier
// attribute is set once the request has been read.
func TracingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, span := startServerSpan(ss.Context(), info.FullMethod)
		defer span.End()

		updates := 0
		wrapped := &observedStream{
			ServerStream: ss,
			ctx:          ctx,
			onRecv: func(service string) {
				span.SetAttributes(attribute.String(TierAttribute, tierLabel(service)))
			},
			onSend: func() { updates++ },
		}
		err := handler(srv, wrapped)
		span.SetAttributes(attribute.Int("rpc.grpc.messages_sent", updates))
		endSpan(span, err)
		return err
	}
}

func startServerSpan(ctx context.Context, fullMethod string) (context.Context, trace.Span) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))

	service, method := "unknown", "unknown"
	if s, m, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/"); ok {
		service, method = s, m
	}
	return otel.Tracer(tracerName).Start(ctx, fullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		),
	)
}

func endSpan(span trace.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", code.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, code.String())
	}
}

// metadataCarrier reads propagation headers from incoming metadata.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = metadataCarrier{}
