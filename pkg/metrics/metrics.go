package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docuflow/docuflow/pkg/resilience"
)

// Metrics holds all Prometheus metrics for the resilience layer
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Rate limiter metrics
	LimiterRequestsTotal *prometheus.CounterVec
	LimiterWaitSeconds   *prometheus.HistogramVec
	LimiterTokens        *prometheus.GaugeVec

	// Circuit breaker metrics
	BreakerState            *prometheus.GaugeVec
	BreakerTransitionsTotal *prometheus.CounterVec
	BreakerRequestsTotal    *prometheus.GaugeVec

	// Retry metrics
	RetryAttemptsTotal  *prometheus.CounterVec
	RetryExhaustedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "docuflow",
		Subsystem: "resilience",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a dedicated
// registry so isolated instances can be constructed in tests
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),

		LimiterRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "limiter_requests_total",
				Help:      "Total number of token requests per rate limiter",
			},
			[]string{"limiter", "outcome"},
		),
		LimiterWaitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "limiter_wait_seconds",
				Help:      "Time callers spent waiting for rate limiter tokens",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"limiter"},
		),
		LimiterTokens: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "limiter_available_tokens",
				Help:      "Tokens currently available per rate limiter",
			},
			[]string{"limiter"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		BreakerRequestsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_requests_total",
				Help:      "Request counters per circuit breaker by outcome",
			},
			[]string{"breaker", "outcome"},
		),

		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		RetryExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_exhausted_total",
				Help:      "Total number of operations that exhausted their retry budget",
			},
			[]string{"operation"},
		),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LimiterRequestsTotal,
		m.LimiterWaitSeconds,
		m.LimiterTokens,
		m.BreakerState,
		m.BreakerTransitionsTotal,
		m.BreakerRequestsTotal,
		m.RetryAttemptsTotal,
		m.RetryExhaustedTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}
	status := http.StatusText(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordLimiterWait records a rate limiter wait
func (m *Metrics) RecordLimiterWait(limiter string, wait time.Duration) {
	if m.LimiterWaitSeconds == nil {
		return
	}
	m.LimiterRequestsTotal.WithLabelValues(limiter, "waited").Inc()
	m.LimiterWaitSeconds.WithLabelValues(limiter).Observe(wait.Seconds())
}

// RecordBreakerTransition records a circuit breaker state change
func (m *Metrics) RecordBreakerTransition(breaker, from, to string) {
	if m.BreakerTransitionsTotal == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(breaker, from, to).Inc()
	m.BreakerState.WithLabelValues(breaker).Set(stateValue(to))
}

// RecordRetryAttempt records a single retry attempt
func (m *Metrics) RecordRetryAttempt(operation string) {
	if m.RetryAttemptsTotal == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordRetryExhausted records an operation that ran out of retry budget
func (m *Metrics) RecordRetryExhausted(operation string) {
	if m.RetryExhaustedTotal == nil {
		return
	}
	m.RetryExhaustedTotal.WithLabelValues(operation).Inc()
}

// SyncLimiters refreshes limiter gauges and counters from registry snapshots
func (m *Metrics) SyncLimiters(stats []resilience.LimiterStats) {
	if m.LimiterTokens == nil {
		return
	}
	for _, s := range stats {
		m.LimiterTokens.WithLabelValues(s.Name).Set(float64(s.AvailableTokens))
	}
}

// SyncBreakers refreshes breaker gauges from registry snapshots
func (m *Metrics) SyncBreakers(stats []resilience.BreakerStats) {
	if m.BreakerState == nil {
		return
	}
	for _, s := range stats {
		m.BreakerState.WithLabelValues(s.Name).Set(stateValue(s.State))
		m.BreakerRequestsTotal.WithLabelValues(s.Name, "success").Set(float64(s.TotalSuccesses))
		m.BreakerRequestsTotal.WithLabelValues(s.Name, "failure").Set(float64(s.TotalFailures))
		m.BreakerRequestsTotal.WithLabelValues(s.Name, "rejection").Set(float64(s.TotalRejections))
	}
}

func stateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
