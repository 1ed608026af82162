// Package ruleerr defines the engine's single structured error type.
// Every error an operation returns to a caller (as opposed to errors
// captured inside a firing's result record, which never propagate)
// carries one of the Kind values below, so a transport layer can map it
// to a status code without inspecting message text.
package ruleerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the engine reports.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindValidation         Kind = "Validation"
	KindConflict           Kind = "Conflict"
	KindBadRequest         Kind = "BadRequest"
	KindServiceUnavailable Kind = "ServiceUnavailable"
	KindInternal           Kind = "Internal"
)

// StatusHint returns the HTTP-style status code a transport should use
// for this kind. The engine itself never speaks HTTP; this is just the
// stable mapping transports are expected to apply.
func (k Kind) StatusHint() int {
	switch k {
	case KindNotFound:
		return 404
	case KindValidation, KindBadRequest:
		return 400
	case KindConflict:
		return 409
	case KindServiceUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the engine's structured error. Details carries
// machine-readable context (rule id, field name, ...); Cause wraps a
// lower-level error for errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, msg string, details map[string]string) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func NotFound(msg string, details map[string]string) *Error {
	return new(KindNotFound, msg, details)
}

func Validation(msg string, details map[string]string) *Error {
	return new(KindValidation, msg, details)
}

func Conflict(msg string, details map[string]string) *Error {
	return new(KindConflict, msg, details)
}

func BadRequest(msg string, details map[string]string) *Error {
	return new(KindBadRequest, msg, details)
}

func ServiceUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Cause: cause}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Cause: cause}
}

// Is reports whether err wraps an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
