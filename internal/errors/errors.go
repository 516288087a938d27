// Package errors provides unified error handling with structured error codes.
// Codes classify failures across the capture pipeline, the local store, and
// the verification backend so callers can branch without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidOption
	CodeNotFound
	CodeUnavailable
	CodeTimeout
	CodeCancelled
	CodeStreamCapture
	CodeRecorderFormat
	CodeSessionClosed
	CodeContextUnreachable
	CodeSnapshotStore
)

var codeNames = map[Code]string{
	CodeUnknown:            "UNKNOWN",
	CodeInternal:           "INTERNAL",
	CodeInvalidOption:      "INVALID_OPTION",
	CodeNotFound:           "NOT_FOUND",
	CodeUnavailable:        "UNAVAILABLE",
	CodeTimeout:            "TIMEOUT",
	CodeCancelled:          "CANCELLED",
	CodeStreamCapture:      "STREAM_CAPTURE_FAILED",
	CodeRecorderFormat:     "RECORDER_FORMAT_UNSUPPORTED",
	CodeSessionClosed:      "SESSION_CLOSED",
	CodeContextUnreachable: "CONTEXT_UNREACHABLE",
	CodeSnapshotStore:      "SNAPSHOT_STORE_FAILED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// httpStatusMap maps codes to HTTP status codes for the control surface.
var httpStatusMap = map[Code]int{
	CodeUnknown:            http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
	CodeInvalidOption:      http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeCancelled:          http.StatusConflict,
	CodeStreamCapture:      http.StatusFailedDependency,
	CodeRecorderFormat:     http.StatusUnprocessableEntity,
	CodeSessionClosed:      http.StatusConflict,
	CodeContextUnreachable: http.StatusBadGateway,
	CodeSnapshotStore:      http.StatusInternalServerError,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from any error, walking the unwrap chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}
