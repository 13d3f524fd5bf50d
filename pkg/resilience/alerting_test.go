package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
)

// recordingHandler captures alerts for assertions
type recordingHandler struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (h *recordingHandler) HandleAlert(ctx context.Context, alert Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("handler failure")
	}
	h.alerts = append(h.alerts, alert)
	return nil
}

func (h *recordingHandler) Name() string { return "recording" }

func (h *recordingHandler) received() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Alert, len(h.alerts))
	copy(out, h.alerts)
	return out
}

func TestAlertManager_SendAlert(t *testing.T) {
	manager := NewAlertManager()
	handler := &recordingHandler{}
	manager.AddHandler(handler)

	err := manager.SendAlert(context.Background(), Alert{
		Severity: SeverityWarning,
		Title:    "Test Alert",
		Source:   "test",
	})
	require.NoError(t, err)

	alerts := handler.received()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Test Alert", alerts[0].Title)
	assert.NotEmpty(t, alerts[0].ID, "ID should be generated")
	assert.False(t, alerts[0].Timestamp.IsZero(), "timestamp should be filled in")
}

func TestAlertManager_AllHandlersFail(t *testing.T) {
	manager := NewAlertManager()
	manager.AddHandler(&recordingHandler{fail: true})

	err := manager.SendAlert(context.Background(), Alert{
		Severity: SeverityError,
		Title:    "Failing",
		Source:   "test",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all alert handlers failed")
}

func TestAlertManager_PartialHandlerFailure(t *testing.T) {
	manager := NewAlertManager()
	good := &recordingHandler{}
	manager.AddHandler(&recordingHandler{fail: true})
	manager.AddHandler(good)

	err := manager.SendAlert(context.Background(), Alert{
		Severity: SeverityInfo,
		Title:    "Partial",
		Source:   "test",
	})
	assert.NoError(t, err, "one working handler is enough")
	assert.Len(t, good.received(), 1)
}

func TestAlertManager_RateLimiting(t *testing.T) {
	manager := NewAlertManager()
	manager.rateLimit = 3
	handler := &recordingHandler{}
	manager.AddHandler(handler)

	for i := 0; i < 3; i++ {
		err := manager.SendAlert(context.Background(), Alert{
			Severity: SeverityWarning,
			Title:    "Flapping",
			Source:   "circuit_breaker:ocr",
		})
		require.NoError(t, err)
	}

	err := manager.SendAlert(context.Background(), Alert{
		Severity: SeverityWarning,
		Title:    "Flapping",
		Source:   "circuit_breaker:ocr",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")

	// A different source is unaffected
	err = manager.SendAlert(context.Background(), Alert{
		Severity: SeverityWarning,
		Title:    "Other",
		Source:   "circuit_breaker:scoring",
	})
	assert.NoError(t, err)

	assert.Len(t, handler.received(), 4)
}

func TestBreakerAlerter_StateChangeHook(t *testing.T) {
	manager := NewAlertManager()
	handler := &recordingHandler{}
	manager.AddHandler(handler)

	alerter := NewBreakerAlerter(manager)
	hook := alerter.StateChangeHook()

	hook("ocr", StateClosed, StateOpen)
	hook("ocr", StateOpen, StateHalfOpen)
	hook("ocr", StateHalfOpen, StateClosed)

	// Alerts are sent asynchronously
	require.Eventually(t, func() bool {
		return len(handler.received()) == 3
	}, time.Second, 10*time.Millisecond)

	severities := make(map[string]AlertSeverity)
	for _, alert := range handler.received() {
		severities[alert.Tags["current_state"]] = alert.Severity
		assert.Equal(t, "circuit_breaker:ocr", alert.Source)
		assert.Equal(t, "ocr", alert.Tags["breaker"])
	}

	assert.Equal(t, SeverityError, severities["OPEN"])
	assert.Equal(t, SeverityWarning, severities["HALF_OPEN"])
	assert.Equal(t, SeverityInfo, severities["CLOSED"])
}

func TestBreakerAlerter_WiredIntoBreaker(t *testing.T) {
	manager := NewAlertManager()
	handler := &recordingHandler{}
	manager.AddHandler(handler)
	alerter := NewBreakerAlerter(manager)

	cb := NewCircuitBreaker(BreakerConfig{
		Name:             "scoring",
		FailureThreshold: 1,
		OpenTimeout:      time.Minute,
		OnStateChange:    alerter.StateChangeHook(),
	})

	cb.Execute(context.Background(), failingOp(apperrors.NewTimeoutError("op")))
	require.Equal(t, StateOpen, cb.State())

	require.Eventually(t, func() bool {
		return len(handler.received()) == 1
	}, time.Second, 10*time.Millisecond)

	alert := handler.received()[0]
	assert.Equal(t, SeverityError, alert.Severity)
	assert.Equal(t, "CLOSED", alert.Tags["previous_state"])
	assert.Equal(t, "OPEN", alert.Tags["current_state"])
}

func TestErrorAlertGenerator_Severity(t *testing.T) {
	manager := NewAlertManager()
	handler := &recordingHandler{}
	manager.AddHandler(handler)
	generator := NewErrorAlertGenerator(manager)

	tests := []struct {
		name     string
		err      error
		severity AlertSeverity
		title    string
	}{
		{"circuit open", &CircuitOpenError{Name: "ocr"}, SeverityError, "Circuit Breaker Open"},
		{"retry exhausted", &RetryExhaustedError{Attempts: 3, Cause: errors.New("x")}, SeverityError, "Retries Exhausted"},
		{"timeout", apperrors.NewTimeoutError("op"), SeverityWarning, "Operation Timeout"},
		{"rate limit", apperrors.NewRateLimitError("throttled"), SeverityWarning, "Downstream Throttling"},
		{"internal", apperrors.NewInternalError("boom"), SeverityError, "Internal System Error"},
		{"validation", apperrors.NewValidationError("bad"), SeverityInfo, "Validation Error"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator.HandleError(context.Background(), tt.err, "source-"+tt.name, nil)

			alerts := handler.received()
			require.Len(t, alerts, i+1)
			assert.Equal(t, tt.severity, alerts[i].Severity)
			assert.Equal(t, tt.title, alerts[i].Title)
		})
	}
}

func TestErrorAlertGenerator_NilError(t *testing.T) {
	manager := NewAlertManager()
	handler := &recordingHandler{}
	manager.AddHandler(handler)
	generator := NewErrorAlertGenerator(manager)

	generator.HandleError(context.Background(), nil, "test", nil)
	assert.Empty(t, handler.received())
}

func TestLoggingAlertHandler(t *testing.T) {
	handler := NewLoggingAlertHandler()
	assert.Equal(t, "logging", handler.Name())

	err := handler.HandleAlert(context.Background(), Alert{
		ID:          "test-1",
		Severity:    SeverityCritical,
		Title:       "Test",
		Description: "description",
		Source:      "test",
		Timestamp:   time.Now(),
		Tags:        map[string]string{"k": "v"},
		Metadata:    map[string]interface{}{"n": 1},
	})
	assert.NoError(t, err)
}

func TestAlertSeverity_String(t *testing.T) {
	assert.Equal(t, "INFO", SeverityInfo.String())
	assert.Equal(t, "WARNING", SeverityWarning.String())
	assert.Equal(t, "ERROR", SeverityError.String())
	assert.Equal(t, "CRITICAL", SeverityCritical.String())
	assert.Equal(t, "UNKNOWN", AlertSeverity(99).String())
}
