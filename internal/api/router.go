package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/health"
	"github.com/docuflow/docuflow/pkg/logging"
	"github.com/docuflow/docuflow/pkg/metrics"
	"github.com/docuflow/docuflow/pkg/resilience"
)

// Deps carries the explicitly injected dependencies of the monitoring API.
// One registry pair exists per process; the router only reads from them,
// except for the operational reset endpoint.
type Deps struct {
	Config   *config.Config
	Logger   *logging.Logger
	Limiters *resilience.LimiterRegistry
	Breakers *resilience.BreakerRegistry
	Health   *health.Service
	Metrics  *metrics.Metrics
}

// NewRouter creates and configures the monitoring API router
func NewRouter(deps Deps) *gin.Engine {
	// Set Gin mode based on environment
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(RequestLoggingMiddleware(deps.Logger))
	router.Use(ErrorHandlingMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Accept", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
		router.GET("/metrics", func(c *gin.Context) {
			deps.Metrics.SyncLimiters(deps.Limiters.Stats())
			deps.Metrics.SyncBreakers(deps.Breakers.Stats())
			deps.Metrics.Handler().ServeHTTP(c.Writer, c.Request)
		})
	}

	// Health endpoints (no auth required)
	router.GET("/health", deps.Health.Handler())
	router.GET("/health/live", deps.Health.LivenessHandler())
	router.GET("/health/ready", deps.Health.ReadinessHandler())

	// API version info
	router.GET("/api/v1", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "DocuFlow Resilience API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	v1 := router.Group("/api/v1")
	{
		res := v1.Group("/resilience")
		{
			res.GET("/limiters", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"limiters": deps.Limiters.Stats()})
			})
			res.GET("/limiters/:name", func(c *gin.Context) {
				name := c.Param("name")
				for _, stats := range deps.Limiters.Stats() {
					if stats.Name == name {
						c.JSON(http.StatusOK, stats)
						return
					}
				}
				c.JSON(http.StatusNotFound, gin.H{"error": "limiter not found", "name": name})
			})
			res.GET("/breakers", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"breakers": deps.Breakers.Stats()})
			})
			res.GET("/breakers/:name", func(c *gin.Context) {
				name := c.Param("name")
				for _, stats := range deps.Breakers.Stats() {
					if stats.Name == name {
						c.JSON(http.StatusOK, stats)
						return
					}
				}
				c.JSON(http.StatusNotFound, gin.H{"error": "breaker not found", "name": name})
			})
			// Operational hook: discards accumulated history, keep out of
			// steady-state traffic
			res.POST("/reset", func(c *gin.Context) {
				deps.Limiters.ResetAll()
				deps.Breakers.ResetAll()
				deps.Logger.Warn("All resilience primitives reset via API",
					"client_ip", c.ClientIP(),
				)
				c.JSON(http.StatusOK, gin.H{"status": "reset"})
			})
		}
	}

	return router
}
