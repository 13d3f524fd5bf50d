package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewValidationError("field is required")
	assert.Equal(t, "VALIDATION_ERROR: field is required", err.Error())

	cause := errors.New("underlying problem")
	err = NewInternalError("something broke").WithCause(cause)
	assert.Contains(t, err.Error(), "INTERNAL_ERROR")
	assert.Contains(t, err.Error(), "underlying problem")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewExternalError("ocr", "call failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewExternalError("ocr", "boom").WithDetail("attempt", "3")

	assert.Equal(t, "ocr", err.Details["service"])
	assert.Equal(t, "3", err.Details["attempt"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err      *AppError
		errType  ErrorType
		code     string
	}{
		{NewValidationError("x"), ErrorTypeValidation, "VALIDATION_ERROR"},
		{NewAuthenticationError("x"), ErrorTypeAuthentication, "AUTHENTICATION_ERROR"},
		{NewAuthorizationError("x"), ErrorTypeAuthorization, "AUTHORIZATION_ERROR"},
		{NewNotFoundError("document"), ErrorTypeNotFound, "NOT_FOUND"},
		{NewConflictError("x"), ErrorTypeConflict, "CONFLICT"},
		{NewRateLimitError("x"), ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED"},
		{NewInternalError("x"), ErrorTypeInternal, "INTERNAL_ERROR"},
		{NewExternalError("svc", "x"), ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR"},
		{NewTimeoutError("op"), ErrorTypeTimeout, "TIMEOUT"},
		{NewDownstreamError("ocr", "x"), ErrorTypeExternal, "DOWNSTREAM_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestNewUpstreamStatusError(t *testing.T) {
	tests := []struct {
		status  int
		errType ErrorType
		code    string
	}{
		{429, ErrorTypeRateLimit, "UPSTREAM_THROTTLED"},
		{401, ErrorTypeAuthentication, "UPSTREAM_UNAUTHORIZED"},
		{403, ErrorTypeAuthorization, "UPSTREAM_FORBIDDEN"},
		{404, ErrorTypeNotFound, "UPSTREAM_NOT_FOUND"},
		{409, ErrorTypeConflict, "UPSTREAM_CONFLICT"},
		{422, ErrorTypeValidation, "UPSTREAM_REJECTED"},
		{500, ErrorTypeExternal, "UPSTREAM_STATUS"},
		{503, ErrorTypeExternal, "UPSTREAM_STATUS"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := NewUpstreamStatusError("ocr", tt.status, "boom")
			assert.Equal(t, tt.errType, err.Type)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, "ocr", err.Details["dependency"])
			assert.Equal(t, fmt.Sprintf("%d", tt.status), err.Details["status_code"])
		})
	}
}

func TestAsAppError(t *testing.T) {
	appErr := NewTimeoutError("op")

	extracted, ok := AsAppError(appErr)
	require.True(t, ok)
	assert.Equal(t, appErr, extracted)

	// Through a wrapping chain
	wrapped := fmt.Errorf("outer: %w", appErr)
	extracted, ok = AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeTimeout, extracted.Type)

	_, ok = AsAppError(errors.New("plain"))
	assert.False(t, ok)

	_, ok = AsAppError(nil)
	assert.False(t, ok)
}

func TestIsTypeAndGetters(t *testing.T) {
	err := NewRateLimitError("slow down")

	assert.True(t, IsType(err, ErrorTypeRateLimit))
	assert.False(t, IsType(err, ErrorTypeTimeout))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", GetCode(err))
	assert.Equal(t, ErrorTypeRateLimit, GetType(err))

	// Classification works through wrapping
	wrapped := fmt.Errorf("while calling ocr: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeRateLimit))
	assert.Equal(t, ErrorTypeRateLimit, GetType(wrapped))

	plain := errors.New("plain")
	assert.False(t, IsType(plain, ErrorTypeRateLimit))
	assert.Equal(t, "UNKNOWN_ERROR", GetCode(plain))
	assert.Equal(t, ErrorTypeInternal, GetType(plain))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTimeoutError("op")))
	assert.True(t, IsRetryable(NewExternalError("ocr", "boom")))
	assert.True(t, IsRetryable(NewRateLimitError("throttled")))

	assert.False(t, IsRetryable(NewValidationError("bad")))
	assert.False(t, IsRetryable(NewAuthenticationError("denied")))
	assert.False(t, IsRetryable(NewAuthorizationError("forbidden")))
	assert.False(t, IsRetryable(NewNotFoundError("document")))
	assert.False(t, IsRetryable(NewConflictError("exists")))
	assert.False(t, IsRetryable(nil))

	// Retryability is decided by the wrapped AppError
	wrapped := fmt.Errorf("attempt 3: %w", NewTimeoutError("op"))
	assert.True(t, IsRetryable(wrapped))
}
