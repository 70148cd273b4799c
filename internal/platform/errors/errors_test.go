package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeStaleRound, "stale round")
	annotated := sentinel.Annotate(map[string]string{"RoundIndex": "4"})
	wrapped := fmt.Errorf("submit: %w", annotated)

	if !stderrors.Is(wrapped, sentinel) {
		t.Fatal("expected wrapped annotated error to match sentinel")
	}
	if stderrors.Is(wrapped, New(CodeInvalidPhaseInput, "other")) {
		t.Fatal("expected different code not to match")
	}
	if sentinel.Metadata != nil {
		t.Fatal("expected Annotate to leave the sentinel untouched")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil) = %q, want empty", got)
	}
	if got := CodeOf(stderrors.New("boom")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
	err := fmt.Errorf("ctx: %w", Wrap(CodeVersionMismatch, "mismatch", stderrors.New("cause")))
	if got := CodeOf(err); got != CodeVersionMismatch {
		t.Fatalf("CodeOf(wrapped) = %q, want %q", got, CodeVersionMismatch)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidPhaseInput, codes.FailedPrecondition},
		{CodeStaleRound, codes.FailedPrecondition},
		{CodeVersionMismatch, codes.FailedPrecondition},
		{CodeConfiguration, codes.InvalidArgument},
		{CodeSessionNotFound, codes.NotFound},
		{CodeSessionExists, codes.AlreadyExists},
		{CodeResumeTokenInvalid, codes.Unauthenticated},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s.GRPCCode() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestRecoverable(t *testing.T) {
	if CodeConfiguration.Recoverable() {
		t.Fatal("expected configuration errors to be fatal")
	}
	if !CodeStaleRound.Recoverable() {
		t.Fatal("expected stale round to be recoverable")
	}
}

func TestToStatusLocalizesMessage(t *testing.T) {
	err := WithMetadata(CodeSessionNotFound, "session missing", map[string]string{"SessionID": "abc"})
	st, ok := status.FromError(ToStatus(err, "pt-BR"))
	if !ok {
		t.Fatal("expected grpc status")
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %v, want %v", st.Code(), codes.NotFound)
	}
	if st.Message() != "session missing" {
		t.Fatalf("message = %q, want internal message", st.Message())
	}

	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.GetReason() != string(CodeSessionNotFound) || info.GetDomain() != Domain {
		t.Fatalf("error info = %v", info)
	}
	if localized == nil || localized.GetLocale() != "pt-BR" {
		t.Fatalf("localized = %v", localized)
	}
	if want := "A sessão de treino abc não foi encontrada."; localized.GetMessage() != want {
		t.Fatalf("localized message = %q, want %q", localized.GetMessage(), want)
	}
}

func TestToStatusPlainError(t *testing.T) {
	if ToStatus(nil, "en-US") != nil {
		t.Fatal("expected nil status for nil error")
	}
	st, _ := status.FromError(ToStatus(stderrors.New("boom"), "en-US"))
	if st.Code() != codes.Internal {
		t.Fatalf("code = %v, want %v", st.Code(), codes.Internal)
	}
}
