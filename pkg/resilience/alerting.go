package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.RWMutex
	logger   *logging.Logger

	// Per-source rate limiting so a flapping dependency cannot flood handlers
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100, // 100 alerts per reset interval
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	if !am.checkRateLimit(alert.Source) {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	am.logger.Debug("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	var lastErr error
	successCount := 0

	for _, handler := range am.handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimit(source string) bool {
	now := time.Now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}

	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// BreakerAlerter turns circuit breaker state changes into alerts. Its
// StateChangeHook is intended to be wired into BreakerConfig.OnStateChange.
type BreakerAlerter struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewBreakerAlerter creates a new breaker alerter
func NewBreakerAlerter(alertManager *AlertManager) *BreakerAlerter {
	return &BreakerAlerter{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// StateChangeHook returns a callback suitable for BreakerConfig.OnStateChange
func (ba *BreakerAlerter) StateChangeHook() func(name string, from, to CircuitState) {
	return func(name string, from, to CircuitState) {
		var severity AlertSeverity
		switch to {
		case StateOpen:
			severity = SeverityError
		case StateHalfOpen:
			severity = SeverityWarning
		case StateClosed:
			severity = SeverityInfo
		}

		alert := Alert{
			Severity:    severity,
			Title:       "Circuit Breaker State Changed",
			Description: fmt.Sprintf("circuit breaker '%s' transitioned from %s to %s", name, from.String(), to.String()),
			Source:      "circuit_breaker:" + name,
			Tags: map[string]string{
				"breaker":        name,
				"previous_state": from.String(),
				"current_state":  to.String(),
			},
		}

		// Breaker transitions happen under the breaker lock; do not block them
		go func() {
			if err := ba.alertManager.SendAlert(context.Background(), alert); err != nil {
				ba.logger.Error("Failed to send breaker alert",
					"breaker", name,
					"error", err,
				)
			}
		}()
	}
}

// ErrorAlertGenerator generates alerts from errors surfaced by the
// resilience layer
type ErrorAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewErrorAlertGenerator creates a new error alert generator
func NewErrorAlertGenerator(alertManager *AlertManager) *ErrorAlertGenerator {
	return &ErrorAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// HandleError processes an error and generates an appropriate alert
func (eag *ErrorAlertGenerator) HandleError(ctx context.Context, err error, source string, metadata map[string]interface{}) {
	if err == nil {
		return
	}

	alert := Alert{
		Severity:    eag.determineSeverity(err),
		Title:       eag.generateTitle(err),
		Description: err.Error(),
		Source:      source,
		Tags:        eag.generateTags(err),
		Metadata:    metadata,
	}

	if alertErr := eag.alertManager.SendAlert(ctx, alert); alertErr != nil {
		eag.logger.Error("Failed to send error alert",
			"original_error", err,
			"alert_error", alertErr,
			"source", source,
		)
	}
}

func (eag *ErrorAlertGenerator) determineSeverity(err error) AlertSeverity {
	if IsCircuitOpen(err) {
		return SeverityError
	}
	if IsRetryExhausted(err) {
		return SeverityError
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeTimeout:
		return SeverityWarning
	case apperrors.ErrorTypeExternal, apperrors.ErrorTypeRateLimit:
		return SeverityWarning
	case apperrors.ErrorTypeInternal:
		return SeverityError
	case apperrors.ErrorTypeValidation:
		return SeverityInfo
	case apperrors.ErrorTypeAuthentication, apperrors.ErrorTypeAuthorization:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func (eag *ErrorAlertGenerator) generateTitle(err error) string {
	if IsCircuitOpen(err) {
		return "Circuit Breaker Open"
	}
	if IsRetryExhausted(err) {
		return "Retries Exhausted"
	}

	switch apperrors.GetType(err) {
	case apperrors.ErrorTypeTimeout:
		return "Operation Timeout"
	case apperrors.ErrorTypeExternal:
		return "Downstream Service Error"
	case apperrors.ErrorTypeRateLimit:
		return "Downstream Throttling"
	case apperrors.ErrorTypeInternal:
		return "Internal System Error"
	case apperrors.ErrorTypeValidation:
		return "Validation Error"
	case apperrors.ErrorTypeAuthentication:
		return "Authentication Error"
	case apperrors.ErrorTypeAuthorization:
		return "Authorization Error"
	default:
		return fmt.Sprintf("Error: %s", apperrors.GetCode(err))
	}
}

func (eag *ErrorAlertGenerator) generateTags(err error) map[string]string {
	tags := make(map[string]string)

	tags["error_type"] = string(apperrors.GetType(err))
	tags["error_code"] = apperrors.GetCode(err)

	if IsCircuitOpen(err) {
		tags["circuit_breaker"] = "true"
	}
	if IsRetryExhausted(err) {
		tags["retry_exhausted"] = "true"
	}

	return tags
}
