package grpc

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// LocaleMetadataKey carries the caller's preferred locale for error messages.
const LocaleMetadataKey = "accept-language"

// DefaultServerOptions returns the options every trainer gRPC server uses:
// otelgrpc stats plus domain error translation.
func DefaultServerOptions() []gogrpc.ServerOption {
	return []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(ErrorStatusInterceptor()),
	}
}

// ErrorStatusInterceptor converts domain errors returned by handlers into
// gRPC statuses with ErrorInfo and a localised message.
func ErrorStatusInterceptor() gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok && apperrors.CodeOf(err) == apperrors.CodeUnknown {
			return resp, err
		}
		return resp, apperrors.ToStatus(err, LocaleFromContext(ctx))
	}
}

// LocaleFromContext reads the caller locale from incoming metadata.
func LocaleFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(LocaleMetadataKey)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// WithLocale attaches a locale to outgoing metadata.
func WithLocale(ctx context.Context, locale string) context.Context {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, LocaleMetadataKey, locale)
}
