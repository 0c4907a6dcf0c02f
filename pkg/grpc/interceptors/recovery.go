package interceptors

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/familyhub/contextd/pkg/logger"
)

var errPanic = status.Error(codes.Internal, "internal server error")

// RecoveryUnaryInterceptor turns a panicking handler into codes.Internal.
func RecoveryUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverRPC(ctx, log, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// RecoveryStreamInterceptor is RecoveryUnaryInterceptor for Watch.
func RecoveryStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	if log == nil {
		log = logger.Nop()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverRPC(ss.Context(), log, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

func recoverRPC(ctx context.Context, log logger.Logger, method string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	log.ErrorContext(ctx, "grpc handler panicked",
		"method", method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	*err = errPanic
}
