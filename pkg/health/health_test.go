package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/httpclient"
	"github.com/docuflow/docuflow/pkg/logging"
	"github.com/docuflow/docuflow/pkg/resilience"
)

// staticChecker returns a fixed check result
type staticChecker struct {
	status Status
}

func (c *staticChecker) Check(ctx context.Context) *Check {
	return &Check{
		Name:      "static",
		Status:    c.status,
		Timestamp: time.Now(),
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(logging.GetLogger(), DefaultConfig())
}

func TestService_CheckHealth_AllHealthy(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterChecker("a", &staticChecker{status: StatusHealthy})
	svc.RegisterChecker("b", &staticChecker{status: StatusHealthy})

	resp := svc.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestService_CheckHealth_DegradedWins(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterChecker("a", &staticChecker{status: StatusHealthy})
	svc.RegisterChecker("b", &staticChecker{status: StatusDegraded})

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestService_CheckHealth_UnhealthyWins(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterChecker("a", &staticChecker{status: StatusDegraded})
	svc.RegisterChecker("b", &staticChecker{status: StatusUnhealthy})

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestService_UnregisterChecker(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterChecker("a", &staticChecker{status: StatusUnhealthy})
	svc.UnregisterChecker("a")

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestBreakerChecker(t *testing.T) {
	failOp := func(ctx context.Context) (interface{}, error) {
		return nil, apperrors.NewTimeoutError("op")
	}

	t.Run("no breakers registered", func(t *testing.T) {
		registry := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(""))
		checker := NewBreakerChecker(registry, "breakers")

		check := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, check.Status)
	})

	t.Run("all closed", func(t *testing.T) {
		registry := resilience.NewBreakerRegistry(resilience.DefaultBreakerConfig(""))
		registry.Get("ocr")
		registry.Get("scoring")

		check := NewBreakerChecker(registry, "breakers").Check(context.Background())
		assert.Equal(t, StatusHealthy, check.Status)
		assert.Equal(t, "2", check.Metadata["breakers"])
		assert.Equal(t, "0", check.Metadata["open"])
	})

	t.Run("some open is degraded", func(t *testing.T) {
		registry := resilience.NewBreakerRegistry(resilience.BreakerConfig{
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
		})
		registry.Get("ocr").Execute(context.Background(), failOp)
		registry.Get("scoring")

		check := NewBreakerChecker(registry, "breakers").Check(context.Background())
		assert.Equal(t, StatusDegraded, check.Status)
		assert.Contains(t, check.Message, "ocr")
	})

	t.Run("all open is unhealthy", func(t *testing.T) {
		registry := resilience.NewBreakerRegistry(resilience.BreakerConfig{
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
		})
		registry.Get("ocr").Execute(context.Background(), failOp)
		registry.Get("scoring").Execute(context.Background(), failOp)

		check := NewBreakerChecker(registry, "breakers").Check(context.Background())
		assert.Equal(t, StatusUnhealthy, check.Status)
	})
}

func TestDownstreamChecker(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status": "ok"}`))
		}))
		defer server.Close()

		client := httpclient.NewClient(httpclient.Config{
			Dependency: "ocr",
			BaseURL:    server.URL,
			Timeout:    time.Second,
		})

		check := NewDownstreamChecker(client, "ocr").Check(context.Background())
		assert.Equal(t, StatusHealthy, check.Status)
		assert.Equal(t, "ocr", check.Metadata["dependency"])
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		deadURL := server.URL
		server.Close()

		client := httpclient.NewClient(httpclient.Config{
			Dependency: "ocr",
			BaseURL:    deadURL,
			Timeout:    time.Second,
		})

		check := NewDownstreamChecker(client, "ocr").Check(context.Background())
		assert.Equal(t, StatusUnhealthy, check.Status)
		assert.NotEmpty(t, check.Error)
	})
}

func TestService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		status     Status
		wantStatus int
	}{
		{"healthy", StatusHealthy, http.StatusOK},
		{"degraded", StatusDegraded, http.StatusPartialContent},
		{"unhealthy", StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			svc.RegisterChecker("static", &staticChecker{status: tt.status})

			router := gin.New()
			router.GET("/health", svc.Handler())

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestService_LivenessHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := newTestService(t)
	// Liveness ignores checker results
	svc.RegisterChecker("static", &staticChecker{status: StatusUnhealthy})

	router := gin.New()
	router.GET("/health/live", svc.LivenessHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_ReadinessHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := newTestService(t)
	svc.RegisterChecker("static", &staticChecker{status: StatusUnhealthy})

	router := gin.New()
	router.GET("/health/ready", svc.ReadinessHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ready"])
}
