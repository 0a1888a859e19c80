// Package apperrors defines the domain error taxonomy shared by the identity core
// and the transport layers. Every error carries a stable machine-readable code so
// transports can map it without inspecting messages.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation   Kind = "Validation"
	KindNotFound     Kind = "NotFound"
	KindUnauthorized Kind = "Unauthorized"
	KindForbidden    Kind = "Forbidden"
	KindConflict     Kind = "Conflict"
	KindInternal     Kind = "InternalServer"
	KindRateLimited  Kind = "RateLimit"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_SERVER_ERROR"
	CodeRateLimited  Code = "RATE_LIMIT_EXCEEDED"
)

var kindCodes = map[Kind]Code{
	KindValidation:   CodeValidation,
	KindNotFound:     CodeNotFound,
	KindUnauthorized: CodeUnauthorized,
	KindForbidden:    CodeForbidden,
	KindConflict:     CodeConflict,
	KindInternal:     CodeInternal,
	KindRateLimited:  CodeRateLimited,
}

// Error is the domain error type.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// Field names the offending input for validation errors.
	Field string
	// Resource names the missing or conflicting entity.
	Resource string
	Details  map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so errors.Is(err, apperrors.Unauthorized(""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Name is the error class name exposed to clients, e.g. "UnauthorizedError".
func (e *Error) Name() string {
	return string(e.Kind) + "Error"
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kindCodes[kind], Message: message}
}

func Validation(message, field string) *Error {
	err := newError(KindValidation, message)
	err.Field = field
	return err
}

func NotFound(message, resource string) *Error {
	err := newError(KindNotFound, message)
	err.Resource = resource
	return err
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Unauthorized"
	}
	return newError(KindUnauthorized, message)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "Forbidden"
	}
	return newError(KindForbidden, message)
}

func Conflict(message, resource string) *Error {
	err := newError(KindConflict, message)
	err.Resource = resource
	return err
}

func Internal(message string, cause error) *Error {
	if message == "" {
		message = "Internal server error"
	}
	err := newError(KindInternal, message)
	err.Cause = cause
	return err
}

func RateLimited(message string) *Error {
	if message == "" {
		message = "Rate limit exceeded. Please try again later."
	}
	return newError(KindRateLimited, message)
}

// WithDetails returns a copy of e carrying the given details.
func (e *Error) WithDetails(details map[string]string) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// As extracts an *Error from err. Errors that are not domain errors come back
// as an internal error wrapping the original.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("", err)
}
