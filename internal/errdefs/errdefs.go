// Package errdefs defines the stable error kinds returned by Bay.
//
// Every error carries a machine-readable code and the HTTP status it maps
// to, so the API layer can render the envelope without knowing which
// component produced the failure.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, stable across releases.
const (
	CodeValidation             = "validation_error"
	CodeCapabilityNotSupported = "capability_not_supported"
	CodeUnauthorized           = "unauthorized"
	CodeForbidden              = "forbidden"
	CodeNotFound               = "not_found"
	CodeFileNotFound           = "file_not_found"
	CodeConflict               = "conflict"
	CodeQuotaExceeded          = "quota_exceeded"
	CodeSessionNotReady        = "session_not_ready"
	CodeTimeout                = "timeout"
	CodeRuntime                = "ship_error"
	CodeInternal               = "internal_error"
)

// Error is a Bay error with a stable code and HTTP mapping.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error for %w-style chains.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, fmt.Sprintf(format, args...), http.StatusNotFound)
}

func FileNotFound(format string, args ...any) *Error {
	return newError(CodeFileNotFound, fmt.Sprintf(format, args...), http.StatusNotFound)
}

func Validation(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func Unauthorized(message string) *Error {
	return newError(CodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *Error {
	return newError(CodeForbidden, message, http.StatusForbidden)
}

func Conflict(message string, details map[string]any) *Error {
	e := newError(CodeConflict, message, http.StatusConflict)
	e.Details = details
	return e
}

func QuotaExceeded(message string) *Error {
	return newError(CodeQuotaExceeded, message, http.StatusTooManyRequests)
}

// SessionNotReady signals the session is still starting; the client should
// retry after retryAfterMs.
func SessionNotReady(message, sandboxID string, retryAfterMs int) *Error {
	e := newError(CodeSessionNotReady, message, http.StatusServiceUnavailable)
	e.Details = map[string]any{}
	if sandboxID != "" {
		e.Details["sandbox_id"] = sandboxID
	}
	if retryAfterMs > 0 {
		e.Details["retry_after_ms"] = retryAfterMs
	}
	return e
}

func Timeout(format string, args ...any) *Error {
	return newError(CodeTimeout, fmt.Sprintf(format, args...), http.StatusGatewayTimeout)
}

// Runtime reports a non-2xx answer from the in-sandbox runtime.
func Runtime(format string, args ...any) *Error {
	return newError(CodeRuntime, fmt.Sprintf(format, args...), http.StatusBadGateway)
}

// CapabilityNotSupported reports a capability missing from the runtime's
// /meta handshake, including what is available.
func CapabilityNotSupported(capability string, available []string) *Error {
	e := newError(
		CodeCapabilityNotSupported,
		fmt.Sprintf("runtime does not support capability: %s", capability),
		http.StatusBadRequest,
	)
	e.Details = map[string]any{
		"capability": capability,
		"available":  available,
	}
	return e
}

func Internal(format string, args ...any) *Error {
	return newError(CodeInternal, fmt.Sprintf(format, args...), http.StatusInternalServerError)
}

// As unwraps err into *Error if possible.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is a Bay error with the given code.
func IsCode(err error, code string) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

func IsNotFound(err error) bool        { return IsCode(err, CodeNotFound) }
func IsConflict(err error) bool        { return IsCode(err, CodeConflict) }
func IsSessionNotReady(err error) bool { return IsCode(err, CodeSessionNotReady) }
