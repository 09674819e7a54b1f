// Package apperr defines the error taxonomy shared by every service in the
// core: services return *Error instead of raw strings so the HTTP layer can
// map a single, stable vocabulary to status codes.
package apperr

import "net/http"

// Code is one of the taxonomy values from the error handling design.
type Code string

const (
	Unauthorized        Code = "UNAUTHORIZED"
	Forbidden           Code = "FORBIDDEN"
	ForbiddenProtected  Code = "FORBIDDEN_PROTECTED"
	NotFound            Code = "NOT_FOUND"
	ValidationError     Code = "VALIDATION_ERROR"
	Conflict            Code = "CONFLICT"
	Duplicate           Code = "DUPLICATE"
	Cycle               Code = "CYCLE"
	NotEmpty            Code = "NOT_EMPTY"
	SelfShare           Code = "SELF_SHARE"
	RateLimited         Code = "RATE_LIMITED"
	Internal            Code = "INTERNAL_ERROR"
)

// FieldError is one field-scoped validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the canonical error type returned by every service package.
// Handlers never need to inspect anything but Code and Fields.
type Error struct {
	Code    Code
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// New builds a plain error of the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Validation builds a VALIDATION_ERROR carrying one or more field failures.
func Validation(fields ...FieldError) *Error {
	return &Error{Code: ValidationError, Message: "validation failed", Fields: fields}
}

// Status maps a taxonomy code to its HTTP status, per the error handling design.
func Status(code Code) int {
	switch code {
	case ValidationError:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, ForbiddenProtected:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict, Duplicate, Cycle, NotEmpty, SelfShare:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error, defaulting to an opaque INTERNAL_ERROR for anything
// a service did not wrap. Services are expected to always return *Error; this
// is the last-resort fallback the propagation policy calls for.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	return &Error{Code: Internal, Message: err.Error()}
}
