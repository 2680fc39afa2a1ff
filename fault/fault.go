// Package fault defines the shared error taxonomy for BoardBridge.
// Every error that crosses a transport boundary carries a stable
// machine-readable code and a human-readable message, never a stack trace.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	// CodeNotFound is returned when a tool, resource, or session is unknown.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidRequest is returned when a request is malformed at the
	// protocol level (unmatched resource URI, uninitialized session).
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeInvalidArgument is returned when tool arguments or a webhook
	// payload violate their declared shape.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeUnauthenticated is returned for a missing or mismatched bearer
	// credential or webhook signature.
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// CodeMethodNotAllowed is returned when the webhook endpoint receives
	// a non-probe, non-delivery HTTP method.
	CodeMethodNotAllowed Code = "METHOD_NOT_ALLOWED"

	// CodeQuotaExceeded classifies remote rate-limit responses. It is the
	// only retryable code: the scheduler retries it up to its attempt cap.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"

	// CodeInternal is the fallback for uncaught handler failures. The
	// scheduler never retries it.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a structured failure that can flow across the dispatcher,
// scheduler, and transports without losing its classification.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code and message that unwraps to cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails attaches detail fields to the error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		e.Details[key] = value
	}
	return e
}

// From extracts a *Error from err's chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// CodeOf returns the code classified on err, or CodeInternal when the
// error carries no classification.
func CodeOf(err error) Code {
	if fe, ok := From(err); ok && fe != nil {
		return fe.Code
	}
	return CodeInternal
}

// IsQuotaExceeded reports whether err is classified as a remote rate limit.
func IsQuotaExceeded(err error) bool {
	return CodeOf(err) == CodeQuotaExceeded
}

// AsInternal returns err unchanged when it already carries a taxonomy code,
// otherwise wraps it as CodeInternal with the given context message.
func AsInternal(err error, format string, args ...any) *Error {
	if fe, ok := From(err); ok {
		return fe
	}
	return Wrap(CodeInternal, err, format, args...)
}

// HTTPStatus maps a taxonomy code to the HTTP status used by the
// webhook and message endpoints.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidRequest, CodeInvalidArgument:
		return 400
	case CodeUnauthenticated:
		return 401
	case CodeMethodNotAllowed:
		return 405
	case CodeQuotaExceeded:
		return 429
	default:
		return 500
	}
}
