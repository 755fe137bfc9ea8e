package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeTransport   ErrorType = "transport"
	ErrorTypeClient      ErrorType = "client"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeRecovery    ErrorType = "recovery"
	ErrorTypeInternal    ErrorType = "internal"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

// NewTimeoutError indicates an operation exceeded its deadline. Timeouts are
// retryable and count against the dependency's circuit breaker.
func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// NewTransportError indicates the dependency was unreachable (connection
// refused/reset) or answered with a server-side failure. Retryable and
// breaker-counted.
func NewTransportError(dependency, message string) *AppError {
	return NewAppError(ErrorTypeTransport, "TRANSPORT_ERROR", message).
		WithDetail("dependency", dependency)
}

// NewClientError indicates a 4xx-equivalent response. Client errors are not
// retryable and do not count against the dependency's health.
func NewClientError(dependency string, statusCode int) *AppError {
	return NewAppError(ErrorTypeClient, "CLIENT_ERROR",
		fmt.Sprintf("dependency %s rejected the request with status %d", dependency, statusCode)).
		WithDetail("dependency", dependency).
		WithDetail("status_code", fmt.Sprintf("%d", statusCode))
}

// NewCircuitOpenError indicates the call was rejected by an open circuit
// breaker without a network attempt.
func NewCircuitOpenError(name string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit breaker '%s' is open", name)).
		WithDetail("breaker", name)
}

// NewRecoveryError indicates the orchestration collaborator rejected or
// failed a recovery action.
func NewRecoveryError(instanceID, message string) *AppError {
	return NewAppError(ErrorTypeRecovery, "RECOVERY_ACTION_FAILED", message).
		WithDetail("instance", instanceID)
}

// AsAppError unwraps err into target, mirroring errors.As
func AsAppError(err error, target **AppError) bool {
	return errors.As(err, target)
}

// IsType checks if the error is of a specific type, unwrapping as needed
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsUnavailable reports whether the error means the dependency could not be
// reached at all: circuit open, timeout, or transport failure. Callers use
// this to keep "dependency unavailable" distinct from a confirmed-negative
// answer.
func IsUnavailable(err error) bool {
	switch GetType(err) {
	case ErrorTypeCircuitOpen, ErrorTypeTimeout, ErrorTypeTransport:
		return true
	}
	return false
}

// IsRetryable reports whether a guarded call may retry after this error.
// Timeouts and transport failures are retryable; client errors and circuit
// rejections are not.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrorTypeTimeout, ErrorTypeTransport:
		return true
	}
	return false
}
