package resilience

import (
	"context"
)

// Operation is the unit of work the resilience layer protects, typically a
// call into a pooled network client.
type Operation func(ctx context.Context) (interface{}, error)

// Protection selects which primitives to apply around an operation. Any
// subset may be nil.
type Protection struct {
	// Limiter throttles admission before anything else runs
	Limiter *TokenBucketLimiter
	// LimiterTokens is the number of tokens each invocation consumes
	// (default 1)
	LimiterTokens int
	// Breaker fails fast when the dependency is known-bad
	Breaker *CircuitBreaker
	// Retry retries the innermost attempt with exponential backoff
	Retry *RetryConfig
}

// Wrap composes the configured protections around an operation in a fixed
// order: rate limit, then circuit breaker, then retry, then the operation
// itself. Limiting before breaking keeps self-inflicted throttling out of the
// breaker's failure counts; breaking before retrying keeps an open circuit
// from burning retry budget.
func Wrap(op Operation, p Protection) Operation {
	wrapped := op

	if p.Retry != nil {
		retrier := NewRetrier(*p.Retry)
		inner := wrapped
		wrapped = func(ctx context.Context) (interface{}, error) {
			return retrier.ExecuteWithResult(ctx, inner)
		}
	}

	if p.Breaker != nil {
		breaker := p.Breaker
		inner := wrapped
		wrapped = func(ctx context.Context) (interface{}, error) {
			return breaker.Execute(ctx, inner)
		}
	}

	if p.Limiter != nil {
		limiter := p.Limiter
		tokens := p.LimiterTokens
		if tokens <= 0 {
			tokens = 1
		}
		inner := wrapped
		wrapped = func(ctx context.Context) (interface{}, error) {
			if _, err := limiter.AcquireN(ctx, tokens); err != nil {
				return nil, err
			}
			return inner(ctx)
		}
	}

	return wrapped
}

// Protect is a convenience that wraps and immediately invokes the operation
func Protect(ctx context.Context, op Operation, p Protection) (interface{}, error) {
	return Wrap(op, p)(ctx)
}
