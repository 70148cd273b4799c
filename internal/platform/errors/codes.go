// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Phase machine errors
	CodeInvalidPhaseInput Code = "INVALID_PHASE_INPUT"
	CodeStaleRound        Code = "STALE_ROUND"
	CodeSessionStopped    Code = "SESSION_STOPPED"

	// Delta protocol errors
	CodeVersionMismatch Code = "VERSION_MISMATCH"

	// Configuration errors
	CodeConfiguration Code = "CONFIGURATION_ERROR"

	// Session registry errors
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeSessionExists      Code = "SESSION_EXISTS"
	CodeUnknownExercise    Code = "UNKNOWN_EXERCISE"
	CodeResumeTokenInvalid Code = "RESUME_TOKEN_INVALID"

	// Generic request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidArgument,
		CodeUnknownExercise,
		CodeConfiguration:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeInvalidPhaseInput,
		CodeStaleRound,
		CodeSessionStopped,
		CodeVersionMismatch:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeSessionNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeSessionExists:
		return codes.AlreadyExists

	case CodeResumeTokenInvalid:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}

// Recoverable reports whether the caller may drop the offending request and keep
// the session running. Only configuration failures are fatal to a session.
func (c Code) Recoverable() bool {
	return c != CodeConfiguration
}
