// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient outbound calls.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/pkg/backoff"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Observer is called once per attempt with the 1-based attempt number, the
// response status (0 on transport error), the error and the elapsed time.
type Observer func(attempt, status int, err error, elapsed time.Duration)

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	policy     backoff.Policy
	observer   Observer
	sleep      func(time.Duration) <-chan time.Time
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request
// (negative means the default of 3; zero disables retries).
func NewRetryClient(client HTTPDoer, maxRetries int, policy backoff.Policy) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		policy:     policy,
		sleep:      time.After,
	}
}

// WithObserver returns a shallow copy of rc that reports every attempt to fn.
func (rc *RetryClient) WithObserver(fn Observer) *RetryClient {
	cp := *rc
	cp.observer = fn
	return &cp
}

// Do executes the HTTP request with retry logic.
// It retries on retryable status codes (429, 500, 502, 503, 504) and
// transient network/timeout errors. It does NOT retry on client errors
// (400, 401, 403, 404) or context cancellation.
// On the final attempt, it returns the response as-is so the caller
// can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.policy.Delay(attempt - 1)
			logger.Debug("httpretry: retrying request",
				"attempt", attempt, "max_retries", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			select {
			case <-rc.sleep(delay):
			case <-req.Context().Done():
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		start := time.Now()
		resp, err := rc.client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			rc.observe(attempt+1, 0, err, elapsed)
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			rc.observe(attempt+1, resp.StatusCode, nil, elapsed)
			return resp, nil
		}

		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
		rc.observe(attempt+1, resp.StatusCode, lastErr, elapsed)

		if attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	return nil, lastErr
}

func (rc *RetryClient) observe(attempt, status int, err error, elapsed time.Duration) {
	if rc.observer != nil {
		rc.observer(attempt, status, err, elapsed)
	}
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient server error that should be retried.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
