package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/familyhub/contextd/pkg/logger"
)

// LoggingUnaryInterceptor logs every Check once it completes.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, info.FullMethod, requestTier(req), start, err)
		return resp, err
	}
}

// LoggingStreamInterceptor logs a Watch when its stream ends, with the
// number of status updates it was sent.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		tier, updates := tierNone, 0
		err := handler(srv, &observedStream{
			ServerStream: ss,
			onRecv:       func(service string) { tier = tierLabel(service) },
			onSend:       func() { updates++ },
		})
		logRPC(ss.Context(), log, info.FullMethod, tier, start, err, "updates", updates)
		return err
	}
}

func logRPC(ctx context.Context, log logger.Logger, method, tier string, start time.Time, err error, extra ...any) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		requestID = "unknown"
	}
	code := codes.OK
	if err != nil {
		code = status.Code(err)
	}
	args := []any{
		"request_id", requestID,
		"method", method,
		"tier", tier,
		"code", code.String(),
		"duration", time.Since(start),
	}
	args = append(args, extra...)
	switch code {
	case codes.OK, codes.Canceled:
		log.DebugContext(ctx, "grpc call", args...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		log.ErrorContext(ctx, "grpc call", append(args, "error", err)...)
	default:
		log.WarnContext(ctx, "grpc call", append(args, "error", err)...)
	}
}
