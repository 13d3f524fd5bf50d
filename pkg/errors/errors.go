package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeTimeout        ErrorType = "timeout"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id"`
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

// WithRequestID adds a request ID to the error
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTHENTICATION_ERROR", message)
}

func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "AUTHORIZATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// NewDownstreamError wraps a transient failure of a named downstream dependency
func NewDownstreamError(dependency, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "DOWNSTREAM_ERROR", message).
		WithDetail("dependency", dependency)
}

// NewUpstreamStatusError maps an HTTP status from a downstream dependency onto
// the error taxonomy so resilience predicates can classify it.
func NewUpstreamStatusError(dependency string, statusCode int, message string) *AppError {
	errType := ErrorTypeExternal
	code := "UPSTREAM_STATUS"
	switch {
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		code = "UPSTREAM_THROTTLED"
	case statusCode == 401:
		errType = ErrorTypeAuthentication
		code = "UPSTREAM_UNAUTHORIZED"
	case statusCode == 403:
		errType = ErrorTypeAuthorization
		code = "UPSTREAM_FORBIDDEN"
	case statusCode == 404:
		errType = ErrorTypeNotFound
		code = "UPSTREAM_NOT_FOUND"
	case statusCode == 409:
		errType = ErrorTypeConflict
		code = "UPSTREAM_CONFLICT"
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeValidation
		code = "UPSTREAM_REJECTED"
	}
	return NewAppError(errType, code, message).
		WithDetail("dependency", dependency).
		WithDetail("status_code", fmt.Sprintf("%d", statusCode))
}

// AsAppError extracts an AppError from anywhere in the error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error (or any error it wraps) is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether the error represents a transient condition that
// is safe to retry (timeouts, throttling, downstream failures). Validation,
// auth, and not-found style errors are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetType(err) {
	case ErrorTypeTimeout, ErrorTypeExternal, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}
