// Package errors defines the coded domain errors shared by the engine and its
// transports.
package errors

import stderrors "errors"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNoTaskAvailable   Code = "NO_TASK_AVAILABLE"
	CodeUnknownFeatureKey Code = "UNKNOWN_FEATURE_KEY"
	CodeSpawnConflict     Code = "SPAWN_CONFLICT"
	CodeStorageConflict   Code = "STORAGE_CONFLICT"
	CodeStatsInconsistent Code = "STATS_INCONSISTENT"
)

// Sentinels for errors.Is; matching is by code.
var (
	ErrInvalidArgument   = New(CodeInvalidArgument, "invalid argument")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrForbidden         = New(CodeForbidden, "forbidden")
	ErrNoTaskAvailable   = New(CodeNoTaskAvailable, "nothing to claim")
	ErrUnknownFeatureKey = New(CodeUnknownFeatureKey, "unknown feature key")
	ErrSpawnConflict     = New(CodeSpawnConflict, "review already spawned")
	ErrStorageConflict   = New(CodeStorageConflict, "storage conflict")
	ErrStatsInconsistent = New(CodeStatsInconsistent, "statistics inconsistent")
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the outermost domain error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// MetadataOf returns metadata of the outermost domain error in err's chain.
func MetadataOf(err error) map[string]string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	return stderrors.Is(err, ErrStorageConflict)
}
