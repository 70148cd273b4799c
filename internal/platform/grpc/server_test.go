package grpc

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestErrorStatusInterceptorTranslatesDomainErrors(t *testing.T) {
	interceptor := ErrorStatusInterceptor()
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(LocaleMetadataKey, "pt-BR"))

	_, err := interceptor(ctx, nil, &gogrpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		return nil, apperrors.WithMetadata(apperrors.CodeSessionNotFound, "missing", map[string]string{"SessionID": "s1"})
	})
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected status error, got %T", err)
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %v, want %v", st.Code(), codes.NotFound)
	}
}

func TestErrorStatusInterceptorPassesStatusErrors(t *testing.T) {
	interceptor := ErrorStatusInterceptor()
	want := status.Error(codes.Unavailable, "draining")
	_, err := interceptor(context.Background(), nil, &gogrpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestLocaleRoundTripsThroughMetadata(t *testing.T) {
	out := WithLocale(context.Background(), " pt-BR ")
	md, _ := metadata.FromOutgoingContext(out)
	in := metadata.NewIncomingContext(context.Background(), md)
	if got := LocaleFromContext(in); got != "pt-BR" {
		t.Fatalf("LocaleFromContext = %q, want pt-BR", got)
	}
	if got := LocaleFromContext(context.Background()); got != "" {
		t.Fatalf("LocaleFromContext(empty) = %q, want empty", got)
	}
}
