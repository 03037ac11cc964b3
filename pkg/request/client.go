package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"isstrack/pkg/config"
	"isstrack/pkg/logging"
	"isstrack/pkg/tracker"
	"isstrack/pkg/version"
)

// TraceHeader carries the per-request trace id to and from the backend.
const TraceHeader = "X-Trace-ID"

// ErrRetriesExhausted is returned when every attempt failed at the transport level.
var ErrRetriesExhausted = errors.New("max retries exceeded")

// StatusError is a non-2xx response that was not retried or kept failing.
type StatusError struct {
	StatusCode int
	Body       []byte
	TraceID    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// Retryer is notified of retried attempts.
type Retryer interface {
	ObserveRetry(endpoint string)
}

// Response is a successful backend response.
type Response struct {
	StatusCode int
	Body       []byte
	TraceID    string
	Attempts   int
	Duration   time.Duration
}

// Client performs backend GETs with retries, trace ids and usage tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	retryer    Retryer
	backoff    *EndpointBackoff

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	userAgent   string
}

// New creates a new Client. t and r may be nil.
func New(cfg *config.RequestConfig, t *tracker.Tracker, r Retryer) *Client {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout.Std()},
		tracker:     t,
		retryer:     r,
		backoff:     NewEndpointBackoff(cfg.Backoff.BaseDelay.Std(), cfg.Backoff.MaxDelay.Std()),
		maxAttempts: attempts,
		baseDelay:   cfg.Backoff.BaseDelay.Std(),
		maxDelay:    cfg.Backoff.MaxDelay.Std(),
		userAgent:   version.UserAgent(),
	}
}

// Tracker returns the usage tracker fed by this client.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Get fetches u on behalf of endpoint (a short label such as "last" or "trend").
func (c *Client) Get(ctx context.Context, endpoint, u string) (*Response, error) {
	if err := c.backoff.Wait(ctx, endpoint); err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	start := time.Now()

	resp, attempts, err := c.executeWithBackoff(ctx, endpoint, u, traceID)
	elapsed := time.Since(start)

	if err != nil {
		c.tracker.TrackFailure(endpoint)
		c.backoff.RecordFailure(endpoint)
		logging.RequestLogger.Warn("request failed",
			"endpoint", endpoint, "url", u, "trace_id", traceID,
			"attempts", attempts, "duration", elapsed, "error", err)
		return nil, err
	}

	c.tracker.TrackSuccess(endpoint, elapsed)
	c.backoff.RecordSuccess(endpoint)
	resp.Attempts = attempts
	resp.Duration = elapsed
	logging.RequestLogger.Info("request",
		"endpoint", endpoint, "url", u, "trace_id", resp.TraceID,
		"status", resp.StatusCode, "attempts", attempts, "bytes", len(resp.Body), "duration", elapsed)
	return resp, nil
}

// executeWithBackoff attempts the request, retrying transport errors, 429 and 5xx.
func (c *Client) executeWithBackoff(ctx context.Context, endpoint, u, traceID string) (*Response, int, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return nil, attempt, err
			}
			c.tracker.TrackRetry(endpoint)
			if c.retryer != nil {
				c.retryer.ObserveRetry(endpoint)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return nil, attempt + 1, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set(TraceHeader, traceID)

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, attempt + 1, ctx.Err()
			}
			lastErr = err
			slog.Warn("Request failed, retrying", "endpoint", endpoint, "attempt", attempt+1, "error", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		respTrace := resp.Header.Get(TraceHeader)
		if respTrace == "" {
			respTrace = traceID
		}

		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: body, TraceID: respTrace}
			slog.Warn("API Backoff", "status", resp.StatusCode, "endpoint", endpoint, "attempt", attempt+1)
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, attempt + 1, &StatusError{StatusCode: resp.StatusCode, Body: body, TraceID: respTrace}
		}

		if readErr != nil {
			lastErr = fmt.Errorf("read error: %w", readErr)
			continue
		}

		return &Response{StatusCode: resp.StatusCode, Body: body, TraceID: respTrace}, attempt + 1, nil
	}

	// A status that kept failing is reported as itself.
	var se *StatusError
	if errors.As(lastErr, &se) {
		return nil, c.maxAttempts, se
	}
	return nil, c.maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

// sleep waits baseDelay * 2^attempt, capped at maxDelay.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	d := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	if c.maxDelay > 0 && d > c.maxDelay {
		d = c.maxDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
