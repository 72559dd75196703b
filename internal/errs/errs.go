// Package errs defines the error taxonomy shared by every hub component.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the rest of the hub reasons about
// retries, HTTP status mapping, and audit logging.
type Kind string

const (
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	InvalidInput    Kind = "invalid_input"
	Unauthorized    Kind = "unauthorized"
	Timeout         Kind = "timeout"
	TransientIO     Kind = "transient_io"
	PolicyViolation Kind = "policy_violation"
	Fatal           Kind = "fatal"
)

// Error wraps an underlying cause with a Kind and a correlation id so
// every API response can carry {success, error, message, correlationId}
// per spec.md §7.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, correlationID, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), CorrelationID: correlationID}
}

// Wrap attaches a Kind and correlation id to an existing error.
func Wrap(kind Kind, correlationID string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), CorrelationID: correlationID, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to Fatal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Fatal
}
