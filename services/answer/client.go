// Package answer holds the HTTP clients for the downstream answer producer
// and the summarization model.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP attempt when the caller sets no deadline
	DefaultTimeout = 2 * time.Minute
	// DefaultDialTimeout is the timeout for establishing TCP connections
	DefaultDialTimeout = 10 * time.Second
	// DefaultHeaderTimeout is the timeout for waiting for response headers
	DefaultHeaderTimeout = 90 * time.Second
	// maxErrorBody caps how much of an error body is kept on APIError
	maxErrorBody = 2048
)

// Client performs JSON POSTs with retry, backoff and rate limiting.
// The producer and summarizer clients share it.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	retryConfig RetryConfig
	rateLimiter *RateLimiter
}

// Config holds configuration for the HTTP client
type Config struct {
	APIKey            string
	Timeout           time.Duration
	RetryConfig       *RetryConfig       // Optional custom retry config
	RateLimiterConfig *RateLimiterConfig // Optional rate limiter config
}

// RetryConfig holds retry configuration for failed requests
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 5s)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// NewClient creates a new HTTP client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	retryConfig := DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	rateLimiterConfig := DefaultRateLimiterConfig()
	if config.RateLimiterConfig != nil {
		rateLimiterConfig = *config.RateLimiterConfig
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultHeaderTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		apiKey: config.APIKey,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		retryConfig: retryConfig,
		rateLimiter: NewRateLimiter(rateLimiterConfig),
	}
}

// IsRetryableStatusCode checks if an HTTP status code should trigger a retry
// Retryable codes: 408 (Timeout), 429 (Rate Limit), 502/503/504 (gateway errors)
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 408 || statusCode == 429 || statusCode == 502 || statusCode == 503 || statusCode == 504
}

// CalculateBackoff returns the backoff duration for a given retry attempt
// Uses exponential backoff: initialBackoff * 2^attempt, capped at maxBackoff
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := config.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > config.MaxBackoff {
		return config.MaxBackoff
	}
	return backoff
}

// ParseRetryAfter extracts the retry-after header value from a response
// Returns 0 if the header is not present or cannot be parsed
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}

// APIError is a non-2xx response from a downstream service
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("downstream error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("downstream error (status %d)", e.StatusCode)
}

// postJSON sends body to url and decodes a 2xx response into result.
// Retryable statuses and transport errors are retried until the context ends.
func (c *Client) postJSON(ctx context.Context, url string, body interface{}, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := CalculateBackoff(attempt-1, c.retryConfig)
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
				c.rateLimiter.SetBackoffMultiplier(2.0)
			}
			log.Printf("[Answer] Retrying %s (attempt %d/%d) in %v: %v", url, attempt, c.retryConfig.MaxRetries, wait, lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		retryAfter, err := c.attempt(ctx, url, jsonData, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("request failed: %w", ctx.Err())
		}
		if !isRetryable(err) {
			return err
		}
		if attempt < c.retryConfig.MaxRetries && retryAfter > CalculateBackoff(attempt, c.retryConfig) {
			// Honour the server's Retry-After when it asks for longer than our backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
			case <-time.After(retryAfter - CalculateBackoff(attempt, c.retryConfig)):
			}
		}
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.retryConfig.MaxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, jsonData []byte, result interface{}) (time.Duration, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &transportError{err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ParseRetryAfter(resp), newAPIError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	return 0, nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	apiErr.Body = string(body)

	var parsed struct {
		Error   interface{} `json:"error"`
		Message string      `json:"message"`
		Detail  string      `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			apiErr.Message = parsed.Message
		case parsed.Detail != "":
			apiErr.Message = parsed.Detail
		default:
			if s, ok := parsed.Error.(string); ok {
				apiErr.Message = s
			}
		}
	}
	return apiErr
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return IsRetryableStatusCode(apiErr.StatusCode)
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}
