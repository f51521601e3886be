package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Workflow error codes
const (
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrGenerationFailed   ErrorCode = "GENERATION_FAILED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrMissingInput       ErrorCode = "MISSING_INPUT"
	ErrAssembly           ErrorCode = "ASSEMBLY_ERROR"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// Registry and optimizer error codes
const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrDuplicateName       ErrorCode = "DUPLICATE_NAME"
	ErrImmutable           ErrorCode = "IMMUTABLE"
	ErrInvalidGoal         ErrorCode = "INVALID_GOAL"
	ErrInvalidHardwareTier ErrorCode = "INVALID_HARDWARE_TIER"
	ErrInvalidParameter    ErrorCode = "INVALID_PARAMETER"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Backend    string    `json:"backend,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == ErrServiceUnavailable}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code reported by the backend.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithBackend sets the backend name.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithStage sets the stage the error was observed in.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusFor maps an error code to the status the API answers with.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrValidation, ErrInvalidGoal, ErrInvalidHardwareTier, ErrInvalidParameter:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrDuplicateName, ErrImmutable:
		return http.StatusConflict
	case ErrMissingInput:
		return http.StatusUnprocessableEntity
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrGenerationFailed, ErrAssembly:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
