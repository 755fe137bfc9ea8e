package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stackwatch/sentinel/pkg/errors"
	"github.com/stackwatch/sentinel/pkg/logging"
	"github.com/stackwatch/sentinel/pkg/metrics"
	"github.com/stackwatch/sentinel/pkg/tracing"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ClientConfig holds configuration for a guarded HTTP client
type ClientConfig struct {
	// Dependency is the logical name of the downstream service. It selects
	// the circuit breaker and labels logs and metrics.
	Dependency string
	// BaseURL is prefixed to every request path
	BaseURL string
	// CallTimeout bounds each individual attempt (default 5s)
	CallTimeout time.Duration
	// MaxAttempts is the total attempt budget including the first try
	// (default 3)
	MaxAttempts int
	// Backoff is the wait policy between attempts
	Backoff Backoff
	// Breaker guards the dependency. Required; obtain it from a Registry
	// so all clients of the same dependency share one breaker.
	Breaker *CircuitBreaker
	// HTTPClient overrides the transport, for tests
	HTTPClient *http.Client
	// Metrics receives call outcomes when set
	Metrics *metrics.Metrics
	// Tracer adds a client span per logical call when set
	Tracer *tracing.TracingService
}

// Response is the outcome of a successful guarded call
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps an HTTP client with a circuit breaker, per-attempt timeouts
// and bounded retries. Retries happen inside one logical call: however many
// attempts are made, the breaker sees exactly one outcome.
type Client struct {
	dependency  string
	baseURL     string
	callTimeout time.Duration
	maxAttempts int
	backoff     Backoff
	breaker     *CircuitBreaker
	httpClient  *http.Client
	metrics     *metrics.Metrics
	tracer      *tracing.TracingService
	logger      *logging.Logger
}

// NewClient creates a guarded client for one dependency
func NewClient(config ClientConfig) *Client {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 5 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Backoff == (Backoff{}) {
		config.Backoff = ExponentialBackoff(100*time.Millisecond, 5*time.Second)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Breaker == nil {
		config.Breaker = NewCircuitBreaker(Config{Name: config.Dependency})
	}

	return &Client{
		dependency:  config.Dependency,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		callTimeout: config.CallTimeout,
		maxAttempts: config.MaxAttempts,
		backoff:     config.Backoff,
		breaker:     config.Breaker,
		httpClient:  config.HTTPClient,
		metrics:     config.Metrics,
		tracer:      config.Tracer,
		logger:      logging.GetLogger(),
	}
}

// Breaker returns the circuit breaker guarding this client's dependency
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// Get performs a guarded GET request
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, nil)
}

// Do performs one logical guarded call. The breaker is consulted once up
// front; an open breaker rejects the call without any network attempt.
// Retryable failures (timeout, connection error, 5xx) are retried with
// backoff up to the attempt budget. A 4xx response stops immediately and is
// not counted against the dependency's health. Whatever the retry count,
// the breaker records exactly one outcome for the call.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	start := time.Now()
	url := c.baseURL + path

	if c.tracer != nil {
		var span oteltrace.Span
		ctx, span = c.tracer.StartCallSpan(ctx, c.dependency, method, url)
		defer span.End()
	}

	if err := c.breaker.Allow(); err != nil {
		if c.metrics != nil && c.metrics.Enabled() {
			c.metrics.CircuitOpenRejected.WithLabelValues(c.dependency).Inc()
		}
		c.recordCall("rejected", start)
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, body, header)
		if err == nil {
			c.breaker.RecordSuccess()
			c.recordCall("success", start)
			return resp, nil
		}

		if errors.IsType(err, errors.ErrorTypeClient) {
			// The dependency answered; the request itself was bad. This is
			// not a health signal, so it resolves the breaker's view of the
			// call as a success and is never retried.
			c.breaker.RecordSuccess()
			c.recordCall("client_error", start)
			return nil, err
		}

		lastErr = err
		c.logger.Warn("Guarded call attempt failed",
			"dependency", c.dependency,
			"method", method,
			"url", url,
			"attempt", attempt,
			"error", err.Error(),
		)

		if attempt == c.maxAttempts {
			break
		}
		if c.metrics != nil && c.metrics.Enabled() {
			c.metrics.GuardedCallRetries.WithLabelValues(c.dependency).Inc()
		}
		if err := c.wait(ctx, c.backoff.Delay(attempt)); err != nil {
			break
		}
	}

	c.breaker.RecordFailure()
	c.recordCall("failure", start)
	return nil, lastErr
}

// DoJSON performs a guarded call with a JSON request body, decoding a
// successful response into out when out is non-nil
func (c *Client) DoJSON(ctx context.Context, method, path string, reqBody, out interface{}) error {
	var body []byte
	header := http.Header{}

	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("failed to encode request body: %v", err))
		}
		body = encoded
		header.Set("Content-Type", "application/json")
	}
	header.Set("Accept", "application/json")

	resp, err := c.Do(ctx, method, path, body, header)
	if err != nil {
		return err
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return errors.NewInternalError(
				fmt.Sprintf("failed to decode response from %s", c.dependency)).WithCause(err)
		}
	}
	return nil
}

// attempt performs one HTTP attempt under the per-attempt timeout and
// classifies its outcome
func (c *Client) attempt(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid request: %v", err))
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError(
				fmt.Sprintf("%s %s", method, url)).
				WithDetail("dependency", c.dependency)
		}
		return nil, errors.NewTransportError(c.dependency, fmt.Sprintf("request to %s failed", url)).
			WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewTransportError(c.dependency, "failed to read response body").
			WithCause(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       respBody,
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errors.NewClientError(c.dependency, resp.StatusCode)
	default:
		return nil, errors.NewTransportError(c.dependency,
			fmt.Sprintf("dependency %s answered with status %d", c.dependency, resp.StatusCode)).
			WithDetail("status_code", fmt.Sprintf("%d", resp.StatusCode))
	}
}

// wait sleeps for the backoff delay, returning early if the context ends
func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordCall records the final outcome of one logical call
func (c *Client) recordCall(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordGuardedCall(c.dependency, outcome, time.Since(start))
	}
}
