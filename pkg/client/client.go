// Package client provides the Socrata HTTP client that fetches a single
// page of a dataset with authentication, retries and rate limit handling.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/socrata-ingest/pkg/clock"
	"github.com/Sternrassler/socrata-ingest/pkg/logging"
	"github.com/Sternrassler/socrata-ingest/pkg/ratelimit"
	"github.com/Sternrassler/socrata-ingest/pkg/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for Socrata client operations.
var (
	socrataRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_requests_total",
		Help: "Total Socrata requests by endpoint and status",
	}, []string{"endpoint", "status"})

	socrataRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socrata_request_duration_seconds",
		Help:    "Socrata request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	socrataErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socrata_errors_total",
		Help: "Total Socrata errors by class",
	}, []string{"class"})
)

// maxErrorBody limits how much of an error response is read for its message.
const maxErrorBody = 4 << 10

// Client is the Socrata page client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	clock       clock.Clock
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Retry controls per-page retries.
	Retry RetryPolicy

	// Tracker shares 429 cooldowns; nil keeps them in memory.
	Tracker *ratelimit.Tracker

	// Clock drives backoff sleeps; nil uses the wall clock.
	Clock clock.Clock

	// HTTPClient performs requests; nil uses a client without a global
	// timeout, since each attempt carries its own.
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Retry:     DefaultRetryPolicy(),
	}
}

// New creates a new Socrata client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	logger := logging.NewLogger("socrata-client")

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	tracker := cfg.Tracker
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, clk, logger)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:  httpClient,
		rateLimiter: tracker,
		clock:       clk,
		config:      cfg,
		logger:      logger,
	}, nil
}

// FetchPage requests one page, retrying the same offset on transient
// failures. It returns the page records in server order.
//
// Errors are *AuthenticationError for rejected credentials, *RateLimitError
// when the 429 budget is spent, and *FetchError otherwise.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) ([]table.Record, error) {
	policy := c.config.Retry
	logger := c.logger.With().
		Str("endpoint", req.Endpoint).
		Int("offset", req.Offset).
		Logger()

	fail := func(attempts int, class ErrorClass, status int, err error) *FetchError {
		return &FetchError{
			Endpoint:   req.Endpoint,
			Offset:     req.Offset,
			StatusCode: status,
			Attempts:   attempts,
			Class:      class,
			Err:        err,
		}
	}
	cancelled := func(attempts int, err error) error {
		return fail(attempts, "", 0, fmt.Errorf("%w: %w", ErrContextCancelled, err))
	}

	attempts, failures, throttles := 0, 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(attempts, err)
		}
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, cancelled(attempts, err)
		}

		attempts++
		records, apiErr := c.do(ctx, req)
		if apiErr == nil {
			if attempts > 1 {
				logger.Info().
					Int("attempt", attempts).
					Msg("Request succeeded after retry")
			}
			return records, nil
		}

		// A network error caused by the caller's context is a cancellation.
		if err := ctx.Err(); err != nil {
			return nil, cancelled(attempts, err)
		}

		socrataErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
		logger.Warn().
			Err(apiErr).
			Int("status_code", apiErr.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Int("attempt", attempts).
			Msg("Socrata request error")

		switch apiErr.ErrorClass {
		case ErrorClassAuth:
			logger.Error().Int("status_code", apiErr.StatusCode).Msg("Credentials rejected")
			return nil, &AuthenticationError{
				Endpoint:   req.Endpoint,
				StatusCode: apiErr.StatusCode,
				Message:    apiErr.Message,
			}

		case ErrorClassRateLimit:
			throttles++
			if throttles >= policy.RateLimitAttempts {
				socrataRetryExhaustedTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
				logger.Error().
					Int("throttles", throttles).
					Msg("Rate limit budget exhausted")
				return nil, &RateLimitError{fail(attempts, ErrorClassRateLimit, apiErr.StatusCode,
					fmt.Errorf("%w: %w", ErrRateLimited, apiErr))}
			}

			wait := max(policy.Backoff(throttles, req.Delay), apiErr.RetryAfter)
			socrataRetriesTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			socrataRetryBackoffSeconds.WithLabelValues(string(ErrorClassRateLimit)).Observe(wait.Seconds())

			// The tracker sleeps at the top of the next iteration.
			if err := c.rateLimiter.RecordThrottle(ctx, wait, req.Delay); err != nil {
				logger.Warn().Err(err).Msg("Failed to record cooldown - sleeping locally")
				if err := c.clock.Sleep(ctx, wait); err != nil {
					return nil, cancelled(attempts, err)
				}
			}
			continue
		}

		if !shouldRetry(apiErr.ErrorClass) {
			return nil, fail(attempts, apiErr.ErrorClass, apiErr.StatusCode, apiErr)
		}

		failures++
		if failures >= policy.MaxAttempts {
			socrataRetryExhaustedTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
			logger.Error().
				Str("error_class", string(apiErr.ErrorClass)).
				Int("max_attempts", policy.MaxAttempts).
				Msg("Retry attempts exhausted")
			return nil, fail(attempts, apiErr.ErrorClass, apiErr.StatusCode,
				fmt.Errorf("%w: %w", ErrRetryExhausted, apiErr))
		}

		backoff := policy.Backoff(failures, req.Delay)
		socrataRetriesTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
		socrataRetryBackoffSeconds.WithLabelValues(string(apiErr.ErrorClass)).Observe(backoff.Seconds())

		logger.Debug().
			Str("error_class", string(apiErr.ErrorClass)).
			Int("attempt", attempts).
			Dur("backoff", backoff).
			Msg("Retrying request after backoff")

		if err := c.clock.Sleep(ctx, backoff); err != nil {
			logger.Warn().
				Int("attempt", attempts).
				Msg("Context cancelled during retry backoff")
			return nil, cancelled(attempts, err)
		}
	}
}

// do performs a single HTTP attempt.
func (c *Client) do(ctx context.Context, req PageRequest) ([]table.Record, *APIError) {
	target, err := req.URL()
	if err != nil {
		return nil, &APIError{ErrorClass: ErrorClassClient, Message: "invalid request", Err: err}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &APIError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if req.Credentials.HasAPIKey() {
		httpReq.SetBasicAuth(req.Credentials.APIKeyID, req.Credentials.APIKeySecret)
	}
	if req.Credentials.AppToken != "" {
		httpReq.Header.Set("X-App-Token", req.Credentials.AppToken)
	}

	c.logger.Debug().
		Str("endpoint", req.Endpoint).
		Int("offset", req.Offset).
		Int("limit", req.Limit).
		Str("query", httpReq.URL.RawQuery).
		Msg("Executing Socrata request")

	startTime := time.Now()
	defer func() {
		socrataRequestDuration.WithLabelValues(req.Endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		socrataRequestsTotal.WithLabelValues(req.Endpoint, "network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	socrataRequestsTotal.WithLabelValues(req.Endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    errorMessage(resp.Status, body),
		}
		if apiErr.ErrorClass == ErrorClassRateLimit {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
		}
		return nil, apiErr
	}

	body := &bodyReader{r: resp.Body}
	records, err := table.DecodeRecords(body)
	if err != nil {
		// A body cut off in transit is a network failure, not a bad payload.
		if ctx.Err() != nil || body.err != nil || isReadError(err) {
			return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassResponse,
			Message:    "decode body",
			Err:        fmt.Errorf("%w: %w", ErrMalformedResponse, err),
		}
	}

	return records, nil
}

// bodyReader records the first transport error seen while reading a
// response body, such as a connection dropped before Content-Length bytes.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.err == nil {
		b.err = err
	}
	return n, err
}

// isReadError reports transport failures surfaced while decoding.
func isReadError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// errorMessage extracts the message of a Socrata error body, falling back
// to the HTTP status line.
func errorMessage(status string, body []byte) string {
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		if payload.Code != "" {
			return payload.Code + ": " + payload.Message
		}
		return payload.Message
	}
	return status
}
