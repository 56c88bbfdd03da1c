package middleware

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"schedulr/internal/auth"
	"schedulr/internal/identity"
)

// BearerToken strips the scheme from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func authenticate(ctx context.Context, secret string) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	raw := ""
	if vals := md.Get("authorization"); len(vals) > 0 {
		raw = BearerToken(vals[0])
	}
	if raw == "" {
		return nil, status.Error(codes.Unauthenticated, "no token")
	}

	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "bad token")
	}
	return identity.ContextWithIdentity(ctx, claims.Identity()), nil
}

func set(methods []string) map[string]bool {
	m := make(map[string]bool, len(methods))
	for _, s := range methods {
		m[s] = true
	}
	return m
}

// Auth requires a valid access token on every unary call except the open
// methods, and puts the caller's identity on the context.
func Auth(secret string, open ...string) grpc.UnaryServerInterceptor {
	skip := set(open)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if skip[info.FullMethod] {
			return next(ctx, req)
		}
		ctx, err := authenticate(ctx, secret)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

// StreamAuth is Auth for streaming calls.
func StreamAuth(secret string, open ...string) grpc.StreamServerInterceptor {
	skip := set(open)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		if skip[info.FullMethod] {
			return next(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), secret)
		if err != nil {
			return err
		}
		return next(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}
