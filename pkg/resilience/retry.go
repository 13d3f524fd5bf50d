package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt, so the
	// operation runs at most 1+MaxRetries times
	MaxRetries int
	// InitialDelay is the backoff delay after the first failed attempt
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff growth
	MaxDelay time.Duration
	// ExponentialBase is the backoff growth factor
	ExponentialBase float64
	// Jitter scales each delay by a uniform random factor in [0.5, 1.5) to
	// avoid synchronized retry storms
	Jitter bool
	// RetryableErrors classifies an error as retryable. Non-retryable errors
	// propagate immediately without consuming retry budget.
	RetryableErrors func(error) bool
	// OnRetry is called before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		RetryableErrors: DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors determines if an error is retryable by default.
// Transient downstream conditions (timeouts, throttling, external failures)
// are retryable; circuit rejections and permanent classes (validation, auth,
// not-found) are not. Errors outside the taxonomy are assumed transient.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	if IsCircuitOpen(err) {
		return false
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return apperrors.IsRetryable(err)
	}
	return true
}

// RetryExhaustedError signals that every attempt failed with a retryable
// error. It wraps the last cause for diagnosability.
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap returns the last error that triggered exhaustion
func (e *RetryExhaustedError) Unwrap() error {
	return e.Cause
}

// IsRetryExhausted checks if an error signals exhausted retries
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}

// Retrier handles retry logic with exponential backoff. It is stateless per
// call; a single Retrier may be shared by any number of goroutines.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.ExponentialBase <= 1 {
		config.ExponentialBase = 2.0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs the operation with retry semantics. Retryable failures are
// retried up to MaxRetries times with exponentially growing, optionally
// jittered delays; after exhaustion a RetryExhaustedError wrapping the last
// cause is returned. Non-retryable failures and context cancellation abort
// immediately.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt+1,
					"max_attempts", r.config.MaxRetries+1,
				)
			}
			return nil
		}

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt+1,
			)
			return err
		}

		lastErr = err

		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.DelayForAttempt(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", r.config.MaxRetries+1,
			"delay", delay,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxRetries+1,
	)

	return &RetryExhaustedError{Attempts: r.config.MaxRetries + 1, Cause: lastErr}
}

// ExecuteWithResult runs the operation with retry semantics and returns its result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DelayForAttempt computes the backoff delay after the given zero-based
// attempt: min(MaxDelay, InitialDelay * ExponentialBase^attempt), scaled by
// the jitter factor when enabled.
func (r *Retrier) DelayForAttempt(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.ExponentialBase, float64(attempt))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay *= 0.5 + rand.Float64()
	}

	return time.Duration(delay)
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}

// RetryWithResult is a convenience function to execute an operation with result and default retry configuration
func RetryWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	return NewRetrier(DefaultRetryConfig()).ExecuteWithResult(ctx, operation)
}
