// Package resilience protects DocuFlow's outbound calls to unreliable
// downstream dependencies (the OCR vendor, the scoring API, the analytics
// store) with three cooperating primitives:
//
// # Token Bucket Rate Limiting
//
// A per-resource token bucket throttles admission. Callers either wait for a
// refill or are answered immediately:
//
//	limiters := resilience.NewLimiterRegistry(resilience.DefaultLimiterConfig(""))
//	limiter := limiters.Get("ocr", resilience.LimiterConfig{RatePerSecond: 5, BurstCapacity: 10})
//
//	waited, err := limiter.Acquire(ctx)
//	if limiter.TryAcquire() { ... }
//
// # Circuit Breaking
//
// A per-resource state machine stops forwarding calls after repeated
// failures and probes for recovery after a cooldown:
//
//	breakers := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(""))
//	cb := breakers.Get("scoring", resilience.BreakerConfig{
//		FailureThreshold: 3,
//		OpenTimeout:      30 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return scoringClient.Score(ctx, doc)
//	})
//
// # Retry with Exponential Backoff
//
// Failed operations are retried with exponential backoff and jitter; only
// errors the configured predicate classifies as transient consume retry
// budget:
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return ocrClient.Submit(ctx, page)
//	})
//
// # Composition
//
// Wrap builds a composite protection stack in a fixed order (rate limit,
// circuit breaker, retry, operation):
//
//	protected := resilience.Wrap(callDownstream, resilience.Protection{
//		Limiter: limiters.Get("ocr"),
//		Breaker: breakers.Get("ocr"),
//		Retry:   &retryCfg,
//	})
//	result, err := protected(ctx)
//
// All primitives are safe for concurrent use; registries create instances
// lazily and keep one per named resource for the process lifetime.
package resilience
