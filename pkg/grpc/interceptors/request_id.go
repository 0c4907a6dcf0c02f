package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key carrying the request id, the gRPC
// spelling of the HTTP X-Request-ID header.
const RequestIDKey = "x-request-id"

// maxRequestIDLength matches the HTTP middleware: longer ids are replaced.
const maxRequestIDLength = 128

// RequestIDUnaryInterceptor adopts the caller's request id or mints one and
// echoes it back in the response header.
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := incomingRequestID(ctx)
		// Fails only without a transport stream, i.e. in direct calls.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
		return handler(withRequestID(ctx, id), req)
	}
}

// RequestIDStreamInterceptor does the same for streams.
func RequestIDStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		id := incomingRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDKey, id))
		return handler(srv, &observedStream{ServerStream: ss, ctx: withRequestID(ss.Context(), id)})
	}
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 && ids[0] != "" && len(ids[0]) <= maxRequestIDLength {
			return ids[0]
		}
	}
	return uuid.NewString()
}
