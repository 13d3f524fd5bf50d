package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docuflow/docuflow/internal/api"
	"github.com/docuflow/docuflow/pkg/config"
	"github.com/docuflow/docuflow/pkg/health"
	"github.com/docuflow/docuflow/pkg/httpclient"
	"github.com/docuflow/docuflow/pkg/logging"
	"github.com/docuflow/docuflow/pkg/metrics"
	"github.com/docuflow/docuflow/pkg/resilience"
)

func main() {
	// Load .env file if present (development convenience)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "docuflow",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Alerting: breaker state changes are logged as alerts
	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())
	alerter := resilience.NewBreakerAlerter(alertManager)

	// One registry pair per process, passed explicitly to everything that
	// needs it
	limiters := resilience.NewLimiterRegistry(resilience.LimiterConfig{
		RatePerSecond: cfg.Resilience.LimiterRatePerSecond,
		BurstCapacity: cfg.Resilience.LimiterBurstCapacity,
		OnWait:        m.RecordLimiterWait,
	})
	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.BreakerFailureThreshold,
		OpenTimeout:      cfg.Resilience.BreakerOpenTimeout,
		HalfOpenTimeout:  cfg.Resilience.BreakerHalfOpenTimeout,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			m.RecordBreakerTransition(name, from.String(), to.String())
			alerter.StateChangeHook()(name, from, to)
		},
	})

	// Pre-register the configured downstream resources so their stats are
	// visible before the first call
	for name := range cfg.Resilience.LimiterOverrides {
		rate, burst := cfg.Resilience.LimiterSettings(name)
		limiters.Get(name, resilience.LimiterConfig{
			RatePerSecond: rate,
			BurstCapacity: burst,
			OnWait:        m.RecordLimiterWait,
		})
	}
	for name := range cfg.Resilience.BreakerOverrides {
		threshold, openTimeout := cfg.Resilience.BreakerSettings(name)
		breakers.Get(name, resilience.BreakerConfig{
			FailureThreshold: threshold,
			OpenTimeout:      openTimeout,
			HalfOpenTimeout:  cfg.Resilience.BreakerHalfOpenTimeout,
		})
	}

	healthSvc := health.NewService(logger, health.DefaultConfig())
	healthSvc.RegisterChecker("circuit_breakers", health.NewBreakerChecker(breakers, "circuit_breakers"))

	if cfg.Downstream.OCRBaseURL != "" {
		ocrClient := httpclient.NewClient(httpclient.Config{
			Dependency:          "ocr",
			BaseURL:             cfg.Downstream.OCRBaseURL,
			Timeout:             cfg.Downstream.RequestTimeout,
			MaxIdleConns:        cfg.Downstream.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Downstream.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Downstream.IdleConnTimeout,
		})
		healthSvc.RegisterChecker("ocr", health.NewDownstreamChecker(ocrClient, "ocr"))
	}
	if cfg.Downstream.ScoringBaseURL != "" {
		scoringClient := httpclient.NewClient(httpclient.Config{
			Dependency:          "scoring",
			BaseURL:             cfg.Downstream.ScoringBaseURL,
			Timeout:             cfg.Downstream.RequestTimeout,
			MaxIdleConns:        cfg.Downstream.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Downstream.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Downstream.IdleConnTimeout,
		})
		healthSvc.RegisterChecker("scoring", health.NewDownstreamChecker(scoringClient, "scoring"))
	}

	router := api.NewRouter(api.Deps{
		Config:   cfg,
		Logger:   logger,
		Limiters: limiters,
		Breakers: breakers,
		Health:   healthSvc,
		Metrics:  m,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
