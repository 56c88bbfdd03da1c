package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"schedulr/internal/identity"
	"schedulr/internal/logging"
)

func logCall(ctx context.Context, l zerolog.Logger, method string, start time.Time, err error) {
	ev := l.Debug()
	if err != nil {
		ev = l.Warn().Err(err).Str("code", status.Code(err).String())
	}
	if id, ok := identity.FromContext(ctx); ok {
		ev = ev.Str(logging.UID, id.UID)
	}
	ev.Str("method", method).Dur("took", time.Since(start)).Msg("grpc call")
}

// Logging records every unary call. Put it after Auth to get the uid.
func Logging() grpc.UnaryServerInterceptor {
	l := logging.For("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logCall(ctx, l, info.FullMethod, start, err)
		return resp, err
	}
}

func StreamLogging() grpc.StreamServerInterceptor {
	l := logging.For("grpc")
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		start := time.Now()
		err := next(srv, ss)
		logCall(ss.Context(), l, info.FullMethod, start, err)
		return err
	}
}
