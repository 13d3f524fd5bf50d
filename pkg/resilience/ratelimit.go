package resilience

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/logging"
)

// LimiterConfig holds configuration for a token bucket rate limiter
type LimiterConfig struct {
	// Name identifies the limiter for registry lookup and logging
	Name string
	// RatePerSecond is the token refill rate
	RatePerSecond float64
	// BurstCapacity is the maximum number of tokens the bucket can hold.
	// Defaults to ceil(RatePerSecond) when zero.
	BurstCapacity int
	// OnWait is called when a caller has to wait for tokens
	OnWait func(name string, wait time.Duration)
}

// DefaultLimiterConfig returns a default limiter configuration
func DefaultLimiterConfig(name string) LimiterConfig {
	return LimiterConfig{
		Name:          name,
		RatePerSecond: 10.0,
	}
}

// LimiterStats is a serializable snapshot of limiter state and counters,
// suitable for a monitoring endpoint.
type LimiterStats struct {
	Name               string  `json:"name"`
	RatePerSecond      float64 `json:"rate_per_second"`
	BurstCapacity      int     `json:"burst_capacity"`
	AvailableTokens    int     `json:"available_tokens"`
	TotalRequests      uint64  `json:"total_requests"`
	TotalWaited        uint64  `json:"total_waited"`
	TotalWaitSeconds   float64 `json:"total_wait_seconds"`
	WaitRatePercent    float64 `json:"wait_rate_percent"`
	AverageWaitSeconds float64 `json:"average_wait_seconds"`
}

// TokenBucketLimiter is a per-resource token bucket. Tokens refill at a fixed
// rate up to a burst cap; callers either wait for tokens (AcquireN) or are
// answered immediately (TryAcquireN). All mutable state is guarded by a single
// mutex; waiting happens with the lock released, and each waiter re-derives
// the token count after waking, so no strict FIFO ordering among waiters is
// guaranteed.
type TokenBucketLimiter struct {
	name   string
	rate   float64
	burst  int
	onWait func(name string, wait time.Duration)

	mu            sync.Mutex
	tokens        float64
	lastRefill    time.Time
	totalRequests uint64
	totalWaited   uint64
	totalWaitTime time.Duration

	logger *logging.Logger
}

// NewTokenBucketLimiter creates a new token bucket limiter. The bucket starts
// full.
func NewTokenBucketLimiter(config LimiterConfig) *TokenBucketLimiter {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 10.0
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = int(math.Ceil(config.RatePerSecond))
	}

	return &TokenBucketLimiter{
		name:       config.Name,
		rate:       config.RatePerSecond,
		burst:      config.BurstCapacity,
		onWait:     config.OnWait,
		tokens:     float64(config.BurstCapacity),
		lastRefill: time.Now(),
		logger:     logging.GetLogger(),
	}
}

// Name returns the limiter name
func (l *TokenBucketLimiter) Name() string {
	return l.name
}

// Rate returns the configured refill rate in tokens per second
func (l *TokenBucketLimiter) Rate() float64 {
	return l.rate
}

// Burst returns the configured burst capacity
func (l *TokenBucketLimiter) Burst() int {
	return l.burst
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Must be called with the mutex held.
func (l *TokenBucketLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens = math.Min(float64(l.burst), l.tokens+elapsed*l.rate)
	}
	l.lastRefill = now
}

// Acquire acquires a single token, waiting for a refill if necessary.
// It returns the time actually waited.
func (l *TokenBucketLimiter) Acquire(ctx context.Context) (time.Duration, error) {
	return l.AcquireN(ctx, 1)
}

// AcquireN acquires n tokens, waiting cooperatively for refills if necessary.
// It returns the time actually waited (zero if the tokens were immediately
// available). If the context is cancelled while waiting, no tokens are
// consumed and the context error is returned.
func (l *TokenBucketLimiter) AcquireN(ctx context.Context, n int) (time.Duration, error) {
	if n <= 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("token count must be positive, got %d", n))
	}
	if n > l.burst {
		return 0, apperrors.NewValidationError(fmt.Sprintf("requested %d tokens exceeds burst capacity %d", n, l.burst))
	}

	var waited time.Duration
	first := true

	for {
		l.mu.Lock()
		now := time.Now()
		l.refillLocked(now)

		if first {
			l.totalRequests++
			first = false
		}

		if l.tokens >= float64(n) {
			l.tokens -= float64(n)
			if waited > 0 {
				l.totalWaited++
				l.totalWaitTime += waited
			}
			l.mu.Unlock()
			return waited, nil
		}

		needed := float64(n) - l.tokens
		wait := time.Duration(needed / l.rate * float64(time.Second))
		l.mu.Unlock()

		if waited == 0 {
			if l.onWait != nil {
				l.onWait(l.name, wait)
			}
			l.logger.Debug("Rate limiter waiting for tokens",
				"limiter", l.name,
				"requested", n,
				"wait", wait,
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waited, ctx.Err()
		case <-timer.C:
			waited += wait
		}
	}
}

// TryAcquire attempts to acquire a single token without blocking
func (l *TokenBucketLimiter) TryAcquire() bool {
	ok, _ := l.TryAcquireN(1)
	return ok
}

// TryAcquireN attempts to acquire n tokens without blocking. It reports
// whether the tokens were available and consumed.
func (l *TokenBucketLimiter) TryAcquireN(n int) (bool, error) {
	if n <= 0 {
		return false, apperrors.NewValidationError(fmt.Sprintf("token count must be positive, got %d", n))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())
	l.totalRequests++

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true, nil
	}
	return false, nil
}

// Reset refills the bucket to full capacity and clears all counters
func (l *TokenBucketLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = float64(l.burst)
	l.lastRefill = time.Now()
	l.totalRequests = 0
	l.totalWaited = 0
	l.totalWaitTime = 0
}

// GetStats returns a snapshot of the limiter state and counters
func (l *TokenBucketLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked(time.Now())

	stats := LimiterStats{
		Name:             l.name,
		RatePerSecond:    l.rate,
		BurstCapacity:    l.burst,
		AvailableTokens:  int(math.Round(l.tokens)),
		TotalRequests:    l.totalRequests,
		TotalWaited:      l.totalWaited,
		TotalWaitSeconds: l.totalWaitTime.Seconds(),
	}

	if l.totalRequests > 0 {
		stats.WaitRatePercent = float64(l.totalWaited) / float64(l.totalRequests) * 100
	}
	if l.totalWaited > 0 {
		stats.AverageWaitSeconds = l.totalWaitTime.Seconds() / float64(l.totalWaited)
	}

	return stats
}

// LimiterRegistry is a process-wide named registry of token bucket limiters.
// Instances are created lazily on first lookup and live for the process
// lifetime. The registry owns the limiters it creates; callers hold borrowed
// references and should not construct limiters directly for named resources.
type LimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*TokenBucketLimiter
	defaults LimiterConfig
	logger   *logging.Logger
}

// NewLimiterRegistry creates a limiter registry. The defaults are applied to
// limiters created without explicit configuration.
func NewLimiterRegistry(defaults LimiterConfig) *LimiterRegistry {
	return &LimiterRegistry{
		limiters: make(map[string]*TokenBucketLimiter),
		defaults: defaults,
		logger:   logging.GetLogger(),
	}
}

// Get returns the limiter registered under name, creating it on first use.
// The first registration wins: configuration passed for an already-registered
// name does not alter the live instance, and differing parameters are logged
// as a warning so inconsistent call sites can be found.
func (r *LimiterRegistry) Get(name string, config ...LimiterConfig) *TokenBucketLimiter {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()

	if ok {
		r.warnOnMismatch(limiter, config)
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it between the two lookups
	if limiter, ok := r.limiters[name]; ok {
		r.warnOnMismatch(limiter, config)
		return limiter
	}

	cfg := r.defaults
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Name = name

	limiter = NewTokenBucketLimiter(cfg)
	r.limiters[name] = limiter

	r.logger.Info("Rate limiter created",
		"limiter", name,
		"rate_per_second", limiter.Rate(),
		"burst_capacity", limiter.Burst(),
	)

	return limiter
}

func (r *LimiterRegistry) warnOnMismatch(limiter *TokenBucketLimiter, config []LimiterConfig) {
	if len(config) == 0 {
		return
	}
	cfg := config[0]
	if cfg.RatePerSecond != 0 && cfg.RatePerSecond != limiter.Rate() ||
		cfg.BurstCapacity != 0 && cfg.BurstCapacity != limiter.Burst() {
		r.logger.Warn("Rate limiter already registered, ignoring differing parameters",
			"limiter", limiter.Name(),
			"registered_rate", limiter.Rate(),
			"registered_burst", limiter.Burst(),
			"requested_rate", cfg.RatePerSecond,
			"requested_burst", cfg.BurstCapacity,
		)
	}
}

// Names returns the names of all registered limiters
func (r *LimiterRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	return names
}

// Stats returns snapshots for all registered limiters
func (r *LimiterRegistry) Stats() []LimiterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]LimiterStats, 0, len(r.limiters))
	for _, limiter := range r.limiters {
		stats = append(stats, limiter.GetStats())
	}
	return stats
}

// ResetAll resets every registered limiter in place. Intended for tests and
// operational tooling; it discards accumulated counters.
func (r *LimiterRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, limiter := range r.limiters {
		limiter.Reset()
	}
}
