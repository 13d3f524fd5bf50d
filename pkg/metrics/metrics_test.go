package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/resilience"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestNewMetrics_Disabled(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	// Recording on a disabled instance must be a no-op, not a panic
	m.RecordHTTPRequest("GET", "/x", 200, time.Millisecond)
	m.RecordLimiterWait("ocr", time.Millisecond)
	m.RecordBreakerTransition("ocr", "CLOSED", "OPEN")
	m.RecordRetryAttempt("extract")
	m.RecordRetryExhausted("extract")
	m.SyncLimiters(nil)
	m.SyncBreakers(nil)
}

func TestMetrics_RecordBreakerTransition(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	m.RecordBreakerTransition("ocr", "CLOSED", "OPEN")

	body := scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_breaker_transitions_total{breaker="ocr",from="CLOSED",to="OPEN"} 1`)
	assert.Contains(t, body, `docuflow_resilience_breaker_state{breaker="ocr"} 1`)

	m.RecordBreakerTransition("ocr", "OPEN", "HALF_OPEN")
	body = scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_breaker_state{breaker="ocr"} 2`)

	m.RecordBreakerTransition("ocr", "HALF_OPEN", "CLOSED")
	body = scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_breaker_state{breaker="ocr"} 0`)
}

func TestMetrics_RecordLimiterWait(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	m.RecordLimiterWait("ocr", 50*time.Millisecond)
	m.RecordLimiterWait("ocr", 100*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_limiter_requests_total{limiter="ocr",outcome="waited"} 2`)
	assert.Contains(t, body, `docuflow_resilience_limiter_wait_seconds_count{limiter="ocr"} 2`)
}

func TestMetrics_SyncFromRegistries(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	limiters := resilience.NewLimiterRegistry(resilience.LimiterConfig{
		RatePerSecond: 10,
		BurstCapacity: 5,
	})
	limiters.Get("ocr")

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
	})
	breakers.Get("ocr").Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return nil, apperrors.NewTimeoutError("op")
	})

	m.SyncLimiters(limiters.Stats())
	m.SyncBreakers(breakers.Stats())

	body := scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_limiter_available_tokens{limiter="ocr"} 5`)
	assert.Contains(t, body, `docuflow_resilience_breaker_state{breaker="ocr"} 1`)
	assert.Contains(t, body, `docuflow_resilience_breaker_requests_total{breaker="ocr",outcome="failure"} 1`)
}

func TestMetrics_RetryCounters(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	m.RecordRetryAttempt("extract")
	m.RecordRetryAttempt("extract")
	m.RecordRetryExhausted("extract")

	body := scrape(t, m)
	assert.Contains(t, body, `docuflow_resilience_retry_attempts_total{operation="extract"} 2`)
	assert.Contains(t, body, `docuflow_resilience_retry_exhausted_total{operation="extract"} 1`)
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a := NewMetrics(DefaultConfig())
	b := NewMetrics(DefaultConfig())

	a.RecordRetryAttempt("extract")

	assert.True(t, strings.Contains(scrape(t, a), `retry_attempts_total{operation="extract"} 1`))
	assert.False(t, strings.Contains(scrape(t, b), `operation="extract"`),
		"instances must not share a registry")
}
