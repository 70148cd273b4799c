package errors

import (
	stderrors "errors"

	"github.com/louisbranch/mindtrain/internal/platform/errors/i18n"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC ErrorInfo details.
const Domain = "github.com/louisbranch/mindtrain"

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs/telemetry)
	Metadata map[string]string // Additional context for templating
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code, so sentinels declared
// by domain packages compare equal to annotated copies of themselves.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WithMetadata creates a domain error with metadata for i18n templating.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Metadata: metadata,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Annotate returns a copy of e carrying the given metadata merged over the
// existing metadata. The copy still matches e under errors.Is.
func (e *Error) Annotate(metadata map[string]string) *Error {
	merged := make(map[string]string, len(e.Metadata)+len(metadata))
	for k, v := range e.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	return &Error{
		Code:     e.Code,
		Message:  e.Message,
		Metadata: merged,
		Cause:    e.Cause,
	}
}

// CodeOf extracts the domain code from any error chain. Errors that carry no
// domain error report CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var target *Error
	if stderrors.As(err, &target) {
		return target.Code
	}
	return CodeUnknown
}

// ToGRPCStatus converts the error to a gRPC status with errdetails.
// The status message contains the internal message for logging.
// The LocalizedMessage contains the user-facing translated message.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	grpcCode := e.Code.GRPCCode()
	st := status.New(grpcCode, e.Message)

	st, err := st.WithDetails(
		&errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   Domain,
			Metadata: e.Metadata,
		},
		&errdetails.LocalizedMessage{
			Locale:  locale,
			Message: userMessage,
		},
	)
	if err != nil {
		return status.New(grpcCode, e.Message).Err()
	}
	return st.Err()
}

// ToStatus converts any error into a gRPC status error. Domain errors carry a
// message localised for the requested locale; other errors become Internal.
func ToStatus(err error, locale string) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if !stderrors.As(err, &domainErr) {
		return status.Error(codes.Internal, err.Error())
	}
	catalog := i18n.GetCatalog(locale)
	return domainErr.ToGRPCStatus(catalog.Locale(), catalog.Format(string(domainErr.Code), domainErr.Metadata))
}
