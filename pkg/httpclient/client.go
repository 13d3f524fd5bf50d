package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/docuflow/docuflow/pkg/errors"
	"github.com/docuflow/docuflow/pkg/logging"
)

// Config holds configuration for a downstream HTTP client
type Config struct {
	// Dependency is the logical resource name, used for error classification
	// and logging
	Dependency string
	// BaseURL is the root of the downstream API
	BaseURL string
	// Timeout bounds each request end to end
	Timeout time.Duration
	// Connection pool settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// APIKey, when set, is sent as a bearer token
	APIKey string
	// UserAgent overrides the default User-Agent header
	UserAgent string
}

// DefaultConfig returns a default client configuration for a dependency
func DefaultConfig(dependency, baseURL string) Config {
	return Config{
		Dependency:          dependency,
		BaseURL:             baseURL,
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "docuflow/1.0",
	}
}

// Client is a pooled HTTP client for a single downstream dependency. It maps
// transport failures and response statuses onto the application error
// taxonomy so the resilience layer can classify them as transient or
// permanent. The client does not retry or throttle by itself; callers wrap
// its methods with resilience primitives.
type Client struct {
	httpClient *http.Client
	dependency string
	baseURL    string
	apiKey     string
	userAgent  string
	logger     *logging.Logger
}

// NewClient creates a new downstream HTTP client with a pooled transport
func NewClient(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout <= 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "docuflow/1.0"
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		dependency: config.Dependency,
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		userAgent:  config.UserAgent,
		logger:     logging.GetLogger(),
	}
}

// Dependency returns the logical resource name this client talks to
func (c *Client) Dependency() string {
	return c.dependency
}

// Get performs a GET request and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs a request against the downstream dependency. Errors are always
// typed: transport failures become timeout or external errors, non-2xx
// statuses are mapped through the status taxonomy (429 throttled, 5xx
// external, 4xx permanent).
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError("failed to marshal request body").WithCause(err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apperrors.NewInternalError("failed to create request").WithCause(err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Downstream request completed",
		"dependency", c.dependency,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.classifyStatus(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewDownstreamError(c.dependency, "failed to decode response").WithCause(err)
	}
	return nil
}

// Ping issues a lightweight request to verify the dependency is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.Do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) classifyTransportError(method, path string, err error) error {
	msg := fmt.Sprintf("%s %s failed", method, path)

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(fmt.Sprintf("%s %s", method, path)).WithCause(err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return apperrors.NewTimeoutError(fmt.Sprintf("%s %s", method, path)).WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewTimeoutError(fmt.Sprintf("%s %s", method, path)).WithCause(err)
	}

	// Connection refused, DNS failures and the like are transient downstream
	// faults
	return apperrors.NewDownstreamError(c.dependency, msg).WithCause(err)
}

func (c *Client) classifyStatus(resp *http.Response) error {
	// Bounded read so a misbehaving dependency cannot blow up error messages
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := fmt.Sprintf("%s returned status %d", c.dependency, resp.StatusCode)
	if len(body) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, string(body))
	}

	return apperrors.NewUpstreamStatusError(c.dependency, resp.StatusCode, msg)
}
