package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	// Name identifies the breaker for registry lookup and logging
	Name string
	// FailureThreshold is the number of consecutive classified failures that
	// trips the breaker from CLOSED to OPEN
	FailureThreshold int
	// OpenTimeout is the cooldown period in OPEN before a probe is allowed
	OpenTimeout time.Duration
	// HalfOpenTimeout bounds the half-open probe call via a context deadline
	HalfOpenTimeout time.Duration
	// FailureClasses are the error types that count as circuit failures.
	// Errors outside these classes propagate without moving the state machine.
	FailureClasses []apperrors.ErrorType
	// IsFailure overrides FailureClasses with an arbitrary predicate
	IsFailure func(error) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultBreakerConfig returns a default breaker configuration
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenTimeout:  10 * time.Second,
	}
}

// BreakerStats is a serializable snapshot of breaker state and counters
type BreakerStats struct {
	Name                   string     `json:"name"`
	State                  string     `json:"state"`
	FailureThreshold       int        `json:"failure_threshold"`
	OpenTimeoutSeconds     float64    `json:"open_timeout_seconds"`
	HalfOpenTimeoutSeconds float64    `json:"half_open_timeout_seconds"`
	ConsecutiveFailures    int        `json:"consecutive_failures"`
	OpenedAt               *time.Time `json:"opened_at,omitempty"`
	TotalRequests          uint64     `json:"total_requests"`
	TotalSuccesses         uint64     `json:"total_successes"`
	TotalFailures          uint64     `json:"total_failures"`
	TotalRejections        uint64     `json:"total_rejections"`
}

// CircuitOpenError is returned when a call is rejected because the circuit is
// open. RetryAfter carries the remaining cooldown until the next probe is
// eligible.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker '%s' is open, retry after %s", e.Name, e.RetryAfter)
	}
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var openErr *CircuitOpenError
	return errors.As(err, &openErr)
}

// CircuitBreaker is a per-resource failure-counting state machine. It starts
// CLOSED, trips to OPEN after FailureThreshold consecutive classified
// failures, rejects calls immediately while OPEN, and allows exactly one
// probe call after the open timeout elapses (HALF_OPEN). The probe result
// decides between CLOSED and a fresh OPEN window. The breaker never sleeps;
// rejections are immediate.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration
	halfOpenTimeout  time.Duration
	isFailure        func(error) bool
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
	totalRequests       uint64
	totalSuccesses      uint64
	totalFailures       uint64
	totalRejections     uint64

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.HalfOpenTimeout < 0 {
		config.HalfOpenTimeout = 0
	}

	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		openTimeout:      config.OpenTimeout,
		halfOpenTimeout:  config.HalfOpenTimeout,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}

	switch {
	case config.IsFailure != nil:
		cb.isFailure = config.IsFailure
	case len(config.FailureClasses) > 0:
		classes := make(map[apperrors.ErrorType]bool, len(config.FailureClasses))
		for _, class := range config.FailureClasses {
			classes[class] = true
		}
		cb.isFailure = func(err error) bool {
			appErr, ok := apperrors.AsAppError(err)
			return ok && classes[appErr.Type]
		}
	default:
		cb.isFailure = DefaultFailureClassifier
	}

	return cb
}

// DefaultFailureClassifier counts transient downstream errors (timeouts,
// throttling, external failures) as circuit failures. Errors that are not
// part of the taxonomy are treated as dependency faults and counted too;
// permanent classes like validation and auth pass through uncounted.
func DefaultFailureClassifier(err error) bool {
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

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count. The
// value is only meaningful while the breaker is CLOSED or HALF_OPEN.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Execute runs the operation if the circuit breaker accepts the call. While
// OPEN it rejects immediately with a CircuitOpenError carrying the remaining
// cooldown; after the cooldown it lets exactly one probe through. The
// original operation error is always returned to the caller regardless of
// breaker bookkeeping.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	probe, err := cb.beforeCall()
	if err != nil {
		return nil, err
	}

	opCtx := ctx
	if probe && cb.halfOpenTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, cb.halfOpenTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(probe, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	result, opErr := op(opCtx)
	cb.afterCall(probe, opErr)
	if opErr != nil {
		return nil, opErr
	}
	return result, nil
}

// Call is a convenience method for operations that don't need a context
func (cb *CircuitBreaker) Call(op func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return op()
	})
}

// beforeCall decides whether the call may proceed and whether it runs as the
// half-open probe.
func (cb *CircuitBreaker) beforeCall() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	now := time.Now()

	switch cb.state {
	case StateOpen:
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.openTimeout {
			cb.totalRejections++
			return false, &CircuitOpenError{Name: cb.name, RetryAfter: cb.openTimeout - elapsed}
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probing = true
		return true, nil
	case StateHalfOpen:
		if cb.probing {
			// a probe is already in flight; reject the rest fast
			cb.totalRejections++
			return false, &CircuitOpenError{Name: cb.name}
		}
		cb.probing = true
		return true, nil
	default:
		return false, nil
	}
}

// afterCall records the outcome and performs the state transition
func (cb *CircuitBreaker) afterCall(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}

	if err == nil {
		cb.totalSuccesses++
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setStateLocked(StateClosed)
		}
		return
	}

	if !cb.isFailure(err) {
		// unclassified errors propagate but do not move the state machine
		return
	}

	cb.totalFailures++

	switch cb.state {
	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.setStateLocked(StateOpen)
		}
	}
}

// setStateLocked performs a state transition with its side effects.
// Must be called with the mutex held.
func (cb *CircuitBreaker) setStateLocked(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.consecutiveFailures = 0
	case StateClosed:
		cb.openedAt = time.Time{}
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"breaker", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
	)
}

// Reset forces the breaker back to CLOSED and clears all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.probing = false
	cb.totalRequests = 0
	cb.totalSuccesses = 0
	cb.totalFailures = 0
	cb.totalRejections = 0
}

// GetStats returns a snapshot of the breaker state and counters
func (cb *CircuitBreaker) GetStats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := BreakerStats{
		Name:                   cb.name,
		State:                  cb.state.String(),
		FailureThreshold:       cb.failureThreshold,
		OpenTimeoutSeconds:     cb.openTimeout.Seconds(),
		HalfOpenTimeoutSeconds: cb.halfOpenTimeout.Seconds(),
		ConsecutiveFailures:    cb.consecutiveFailures,
		TotalRequests:          cb.totalRequests,
		TotalSuccesses:         cb.totalSuccesses,
		TotalFailures:          cb.totalFailures,
		TotalRejections:        cb.totalRejections,
	}

	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		stats.OpenedAt = &openedAt
	}

	return stats
}

// BreakerRegistry is a process-wide named registry of circuit breakers with
// the same lazy-creation and first-registration-wins semantics as
// LimiterRegistry.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults BreakerConfig
	logger   *logging.Logger
}

// NewBreakerRegistry creates a breaker registry. The defaults are applied to
// breakers created without explicit configuration.
func NewBreakerRegistry(defaults BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   logging.GetLogger(),
	}
}

// Get returns the breaker registered under name, creating it on first use.
// Configuration passed for an already-registered name is ignored; differing
// parameters are logged as a warning.
func (r *BreakerRegistry) Get(name string, config ...BreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		r.warnOnMismatch(breaker, config)
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[name]; ok {
		r.warnOnMismatch(breaker, config)
		return breaker
	}

	cfg := r.defaults
	if len(config) > 0 {
		cfg = config[0]
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = r.defaults.OnStateChange
		}
	}
	cfg.Name = name

	breaker = NewCircuitBreaker(cfg)
	r.breakers[name] = breaker

	r.logger.Info("Circuit breaker created",
		"breaker", name,
		"failure_threshold", breaker.failureThreshold,
		"open_timeout", breaker.openTimeout,
	)

	return breaker
}

func (r *BreakerRegistry) warnOnMismatch(breaker *CircuitBreaker, config []BreakerConfig) {
	if len(config) == 0 {
		return
	}
	cfg := config[0]
	if cfg.FailureThreshold != 0 && cfg.FailureThreshold != breaker.failureThreshold ||
		cfg.OpenTimeout != 0 && cfg.OpenTimeout != breaker.openTimeout {
		r.logger.Warn("Circuit breaker already registered, ignoring differing parameters",
			"breaker", breaker.name,
			"registered_threshold", breaker.failureThreshold,
			"registered_open_timeout", breaker.openTimeout,
			"requested_threshold", cfg.FailureThreshold,
			"requested_open_timeout", cfg.OpenTimeout,
		)
	}
}

// Names returns the names of all registered breakers
func (r *BreakerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// Stats returns snapshots for all registered breakers
func (r *BreakerRegistry) Stats() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		stats = append(stats, breaker.GetStats())
	}
	return stats
}

// ResetAll resets every registered breaker in place. Intended for tests and
// operational tooling; it discards accumulated counters.
func (r *BreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, breaker := range r.breakers {
		breaker.Reset()
	}
}
