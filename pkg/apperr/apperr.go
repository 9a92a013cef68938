// Package apperr provides the coded error type shared by the transcription
// pipeline and the HTTP boundary. Every failure that can reach a caller or a
// job record carries a machine-readable code and a message that is preserved
// verbatim end to end.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeConfiguration     Code = "CONFIGURATION"
	CodeValidation        Code = "VALIDATION"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeConversionFailed  Code = "CONVERSION_FAILED"
	CodeConversionTimeout Code = "CONVERSION_TIMEOUT"
	CodeBackendRejected   Code = "BACKEND_REJECTED"
	CodeBackendTimeout    Code = "BACKEND_TIMEOUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternal          Code = "INTERNAL"
)

// Error is the application error type.
type Error struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Cause      error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on the code so callers can compare against sentinel-style errors.
func (e *Error) Is(target error) bool {
	var ae *Error
	if errors.As(target, &ae) {
		return e.Code == ae.Code
	}
	return false
}

// WithCause attaches the underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// New creates an Error with an explicit code and HTTP status.
func New(code Code, httpStatus int, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: httpStatus,
	}
}

func Configuration(format string, args ...any) *Error {
	return New(CodeConfiguration, http.StatusInternalServerError, format, args...)
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, http.StatusBadRequest, format, args...)
}

func PayloadTooLarge(format string, args ...any) *Error {
	return New(CodePayloadTooLarge, http.StatusRequestEntityTooLarge, format, args...)
}

func ConversionFailed(format string, args ...any) *Error {
	return New(CodeConversionFailed, http.StatusUnprocessableEntity, format, args...)
}

func ConversionTimeout(format string, args ...any) *Error {
	return New(CodeConversionTimeout, http.StatusGatewayTimeout, format, args...)
}

func BackendRejected(format string, args ...any) *Error {
	return New(CodeBackendRejected, http.StatusBadGateway, format, args...)
}

func BackendTimeout(format string, args ...any) *Error {
	return New(CodeBackendTimeout, http.StatusGatewayTimeout, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, http.StatusNotFound, format, args...)
}

func Internal(format string, args ...any) *Error {
	return New(CodeInternal, http.StatusInternalServerError, format, args...)
}

// CodeOf returns the code of err, or CodeInternal for anything unanticipated.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatusOf maps err to a response status for the boundary layer.
func HTTPStatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) && ae.HTTPStatus != 0 {
		return ae.HTTPStatus
	}
	return http.StatusInternalServerError
}
