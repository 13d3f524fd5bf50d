package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Resilience ResilienceConfig `json:"resilience"`
	Downstream DownstreamConfig `json:"downstream"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// ResilienceConfig contains process-wide defaults for the resilience layer
// plus per-resource overrides
type ResilienceConfig struct {
	RetryMaxRetries      int           `json:"retry_max_retries"`
	RetryInitialDelay    time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay        time.Duration `json:"retry_max_delay"`
	RetryExponentialBase float64       `json:"retry_exponential_base"`
	RetryJitter          bool          `json:"retry_jitter"`

	BreakerFailureThreshold int           `json:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `json:"breaker_open_timeout"`
	BreakerHalfOpenTimeout  time.Duration `json:"breaker_half_open_timeout"`

	LimiterRatePerSecond float64 `json:"limiter_rate_per_second"`
	LimiterBurstCapacity int     `json:"limiter_burst_capacity"`

	LimiterOverrides map[string]LimiterOverride `json:"limiter_overrides"`
	BreakerOverrides map[string]BreakerOverride `json:"breaker_overrides"`
}

// LimiterOverride is a per-resource rate limiter configuration
type LimiterOverride struct {
	RatePerSecond float64 `json:"rate_per_second"`
	BurstCapacity int     `json:"burst_capacity"`
}

// BreakerOverride is a per-resource circuit breaker configuration
type BreakerOverride struct {
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

// DownstreamConfig contains connection settings for downstream dependencies
type DownstreamConfig struct {
	OCRBaseURL          string        `json:"ocr_base_url"`
	ScoringBaseURL      string        `json:"scoring_base_url"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Resilience: ResilienceConfig{
			RetryMaxRetries:      getEnvInt("RESILIENCE_RETRY_MAX_RETRIES", 3),
			RetryInitialDelay:    getEnvDuration("RESILIENCE_RETRY_INITIAL_DELAY", time.Second),
			RetryMaxDelay:        getEnvDuration("RESILIENCE_RETRY_MAX_DELAY", 30*time.Second),
			RetryExponentialBase: getEnvFloat("RESILIENCE_RETRY_EXPONENTIAL_BASE", 2.0),
			RetryJitter:          getEnvBool("RESILIENCE_RETRY_JITTER", true),

			BreakerFailureThreshold: getEnvInt("RESILIENCE_BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpenTimeout:      getEnvDuration("RESILIENCE_BREAKER_OPEN_TIMEOUT", 30*time.Second),
			BreakerHalfOpenTimeout:  getEnvDuration("RESILIENCE_BREAKER_HALF_OPEN_TIMEOUT", 10*time.Second),

			LimiterRatePerSecond: getEnvFloat("RESILIENCE_LIMITER_RATE_PER_SECOND", 10.0),
			LimiterBurstCapacity: getEnvInt("RESILIENCE_LIMITER_BURST_CAPACITY", 0),
		},
		Downstream: DownstreamConfig{
			OCRBaseURL:          getEnvString("DOWNSTREAM_OCR_BASE_URL", ""),
			ScoringBaseURL:      getEnvString("DOWNSTREAM_SCORING_BASE_URL", ""),
			RequestTimeout:      getEnvDuration("DOWNSTREAM_REQUEST_TIMEOUT", 30*time.Second),
			MaxIdleConns:        getEnvInt("DOWNSTREAM_MAX_IDLE_CONNS", 100),
			MaxIdleConnsPerHost: getEnvInt("DOWNSTREAM_MAX_IDLE_CONNS_PER_HOST", 10),
			IdleConnTimeout:     getEnvDuration("DOWNSTREAM_IDLE_CONN_TIMEOUT", 90*time.Second),
		},
	}

	var err error
	config.Resilience.LimiterOverrides, err = parseLimiterOverrides(getEnvString("RESILIENCE_LIMITER_OVERRIDES", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid RESILIENCE_LIMITER_OVERRIDES: %w", err)
	}

	config.Resilience.BreakerOverrides, err = parseBreakerOverrides(getEnvString("RESILIENCE_BREAKER_OVERRIDES", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid RESILIENCE_BREAKER_OVERRIDES: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// parseLimiterOverrides parses "name:rate:burst" entries separated by commas,
// e.g. "ocr:5:10,scoring:20:40". Burst may be omitted ("ocr:5") to use
// ceil(rate).
func parseLimiterOverrides(raw string) (map[string]LimiterOverride, error) {
	overrides := make(map[string]LimiterOverride)
	if raw == "" {
		return overrides, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("entry %q must be name:rate or name:rate:burst", entry)
		}

		rate, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || rate <= 0 {
			return nil, fmt.Errorf("entry %q has invalid rate %q", entry, parts[1])
		}

		override := LimiterOverride{RatePerSecond: rate}
		if len(parts) == 3 {
			burst, err := strconv.Atoi(parts[2])
			if err != nil || burst <= 0 {
				return nil, fmt.Errorf("entry %q has invalid burst %q", entry, parts[2])
			}
			override.BurstCapacity = burst
		}

		overrides[parts[0]] = override
	}

	return overrides, nil
}

// parseBreakerOverrides parses "name:threshold:openSeconds" entries separated
// by commas, e.g. "ocr:3:60". The open timeout may be omitted.
func parseBreakerOverrides(raw string) (map[string]BreakerOverride, error) {
	overrides := make(map[string]BreakerOverride)
	if raw == "" {
		return overrides, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("entry %q must be name:threshold or name:threshold:openSeconds", entry)
		}

		threshold, err := strconv.Atoi(parts[1])
		if err != nil || threshold <= 0 {
			return nil, fmt.Errorf("entry %q has invalid threshold %q", entry, parts[1])
		}

		override := BreakerOverride{FailureThreshold: threshold}
		if len(parts) == 3 {
			seconds, err := strconv.ParseFloat(parts[2], 64)
			if err != nil || seconds <= 0 {
				return nil, fmt.Errorf("entry %q has invalid open timeout %q", entry, parts[2])
			}
			override.OpenTimeout = time.Duration(seconds * float64(time.Second))
		}

		overrides[parts[0]] = override
	}

	return overrides, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Resilience.RetryMaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative, got %d", c.Resilience.RetryMaxRetries)
	}
	if c.Resilience.RetryExponentialBase <= 1 {
		return fmt.Errorf("retry exponential base must be greater than 1, got %g", c.Resilience.RetryExponentialBase)
	}
	if c.Resilience.RetryInitialDelay <= 0 {
		return fmt.Errorf("retry initial delay must be positive, got %s", c.Resilience.RetryInitialDelay)
	}
	if c.Resilience.RetryMaxDelay < c.Resilience.RetryInitialDelay {
		return fmt.Errorf("retry max delay %s must not be below initial delay %s",
			c.Resilience.RetryMaxDelay, c.Resilience.RetryInitialDelay)
	}
	if c.Resilience.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive, got %d", c.Resilience.BreakerFailureThreshold)
	}
	if c.Resilience.BreakerOpenTimeout <= 0 {
		return fmt.Errorf("breaker open timeout must be positive, got %s", c.Resilience.BreakerOpenTimeout)
	}
	if c.Resilience.LimiterRatePerSecond <= 0 {
		return fmt.Errorf("limiter rate must be positive, got %g", c.Resilience.LimiterRatePerSecond)
	}
	return nil
}

// LimiterSettings returns the rate and burst for a named resource, falling
// back to the process-wide defaults when no override exists
func (c *ResilienceConfig) LimiterSettings(name string) (float64, int) {
	if override, ok := c.LimiterOverrides[name]; ok {
		return override.RatePerSecond, override.BurstCapacity
	}
	return c.LimiterRatePerSecond, c.LimiterBurstCapacity
}

// BreakerSettings returns the failure threshold and open timeout for a named
// resource, falling back to the process-wide defaults when no override exists
func (c *ResilienceConfig) BreakerSettings(name string) (int, time.Duration) {
	if override, ok := c.BreakerOverrides[name]; ok {
		timeout := override.OpenTimeout
		if timeout == 0 {
			timeout = c.BreakerOpenTimeout
		}
		return override.FailureThreshold, timeout
	}
	return c.BreakerFailureThreshold, c.BreakerOpenTimeout
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
