package iss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"isstrack/pkg/metrics"
	"isstrack/pkg/model"
	"isstrack/pkg/request"
	"isstrack/pkg/tracker"
)

// Endpoint labels used for tracking and metrics.
const (
	EndpointLast   = "last"
	EndpointTrend  = "trend"
	EndpointHealth = "health"
)

// Trend query bounds accepted by the backend.
const (
	MinTrendHours = 1
	MaxTrendHours = 168
	MinTrendLimit = 1
	MaxTrendLimit = 1000
)

// Getter performs a GET against the backend.
type Getter interface {
	Get(ctx context.Context, endpoint, u string) (*request.Response, error)
}

// Observer records the outcome of a backend call.
type Observer interface {
	ObserveRequest(endpoint, outcome string, d time.Duration)
}

// Client is a typed client for the ISS endpoints of the telemetry backend.
type Client struct {
	getter   Getter
	baseURL  string
	observer Observer
	tracker  *tracker.Tracker
}

// Option configures a Client.
type Option func(*Client)

// WithObserver reports per-call outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithTracker counts failure envelopes in t.
func WithTracker(t *tracker.Tracker) Option {
	return func(c *Client) { c.tracker = t }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(g Getter, baseURL string, opts ...Option) *Client {
	c := &Client{getter: g, baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLatest fetches the most recent position sample.
func (c *Client) GetLatest(ctx context.Context) (*model.PositionSample, error) {
	start := time.Now()
	sample, err := c.getLatest(ctx)
	c.observe(EndpointLast, start, err)
	return sample, err
}

func (c *Client) getLatest(ctx context.Context) (*model.PositionSample, error) {
	data, err := c.fetch(ctx, EndpointLast, c.baseURL+"/api/iss/last")
	if err != nil {
		return nil, err
	}

	var dto positionDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, malformed("latest position: %v", err)
	}
	sample, err := dto.toSample()
	if err != nil {
		return nil, malformed("latest position: %v", err)
	}
	return sample, nil
}

// GetTrend fetches up to limit samples from the last hours hours.
// Individual invalid samples are dropped; Count always equals len(Positions).
func (c *Client) GetTrend(ctx context.Context, hours, limit int) (*model.TrendWindow, error) {
	start := time.Now()
	w, err := c.getTrend(ctx, hours, limit)
	c.observe(EndpointTrend, start, err)
	return w, err
}

func (c *Client) getTrend(ctx context.Context, hours, limit int) (*model.TrendWindow, error) {
	if hours < MinTrendHours || hours > MaxTrendHours {
		return nil, &APIError{Code: CodeValidationError, Message: fmt.Sprintf("hours must be between %d and %d", MinTrendHours, MaxTrendHours), TraceID: ClientTraceID}
	}
	if limit < MinTrendLimit || limit > MaxTrendLimit {
		return nil, &APIError{Code: CodeValidationError, Message: fmt.Sprintf("limit must be between %d and %d", MinTrendLimit, MaxTrendLimit), TraceID: ClientTraceID}
	}

	q := url.Values{}
	q.Set("hours", strconv.Itoa(hours))
	q.Set("limit", strconv.Itoa(limit))
	data, err := c.fetch(ctx, EndpointTrend, c.baseURL+"/api/iss/trend?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var dto trendDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, malformed("trend: %v", err)
	}
	if dto.Positions == nil {
		return nil, malformed("trend: missing positions")
	}

	w := &model.TrendWindow{
		Positions: make([]model.PositionSample, 0, len(dto.Positions)),
		Hours:     hours,
	}
	if dto.Hours != nil {
		w.Hours = *dto.Hours
	}
	for i, raw := range dto.Positions {
		var p positionDTO
		if err := json.Unmarshal(raw, &p); err != nil {
			slog.Warn("Dropping trend sample", "index", i, "error", err)
			continue
		}
		s, err := p.toSample()
		if err != nil {
			slog.Warn("Dropping trend sample", "index", i, "error", err)
			continue
		}
		w.Positions = append(w.Positions, *s)
	}
	w.Count = len(w.Positions)

	if dto.Count != nil && *dto.Count != len(dto.Positions) {
		slog.Debug("Trend count differs from positions", "count", *dto.Count, "positions", len(dto.Positions))
	}
	return w, nil
}

// Health checks the backend health endpoint. A degraded backend is an error.
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.health(ctx)
	c.observe(EndpointHealth, start, err)
	return err
}

func (c *Client) health(ctx context.Context) error {
	resp, err := c.getter.Get(ctx, EndpointHealth, c.baseURL+"/api/health")
	if err != nil {
		return c.transportError(err)
	}
	var body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return malformed("health: %v", err)
	}
	if body.Status != "ok" {
		return &APIError{Code: CodeUpstream5xx, Message: fmt.Sprintf("backend status %q (database %q)", body.Status, body.Database), TraceID: resp.TraceID}
	}
	return nil
}

// fetch performs the GET and unwraps the envelope, returning the raw data payload.
func (c *Client) fetch(ctx context.Context, endpoint, u string) (json.RawMessage, error) {
	resp, err := c.getter.Get(ctx, endpoint, u)
	if err != nil {
		return nil, c.transportError(err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, malformed("envelope: %v", err)
	}
	if env.OK == nil {
		return nil, malformed("envelope: missing ok flag")
	}
	if !*env.OK {
		return nil, c.envelopeError(endpoint, &env, resp.TraceID)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, malformed("envelope: missing data")
	}
	return env.Data, nil
}

func (c *Client) envelopeError(endpoint string, env *envelope, fallbackTrace string) error {
	if c.tracker != nil {
		c.tracker.TrackBusinessError(endpoint)
	}
	traceID := env.TraceID
	if traceID == "" {
		traceID = fallbackTrace
	}
	if env.Error == nil || env.Error.Code == "" {
		return malformed("failure envelope without error code")
	}
	return &APIError{Code: env.Error.Code, Message: env.Error.Message, TraceID: traceID}
}

// transportError maps request-layer errors onto the taxonomy. A non-2xx
// response keeps its envelope when it carries one.
func (c *Client) transportError(err error) error {
	var se *request.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	var env envelope
	if json.Unmarshal(se.Body, &env) == nil && env.OK != nil && !*env.OK && env.Error != nil && env.Error.Code != "" {
		traceID := env.TraceID
		if traceID == "" {
			traceID = se.TraceID
		}
		return &APIError{Code: env.Error.Code, Message: env.Error.Message, TraceID: traceID, HTTPStatus: se.StatusCode}
	}

	code := CodeUpstream4xx
	switch {
	case se.StatusCode == http.StatusTooManyRequests:
		code = CodeRateLimited
	case se.StatusCode == http.StatusNotFound:
		code = CodeNotFound
	case se.StatusCode == http.StatusUnprocessableEntity:
		code = CodeValidationError
	case se.StatusCode >= 500:
		code = CodeUpstream5xx
	}
	return &APIError{Code: code, Message: fmt.Sprintf("backend returned HTTP %d", se.StatusCode), TraceID: se.TraceID, HTTPStatus: se.StatusCode}
}

func (c *Client) observe(endpoint string, start time.Time, err error) {
	if c.observer == nil {
		return
	}
	var apiErr *APIError
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.HTTPStatus != 0:
		outcome = metrics.OutcomeHTTPError
	case errors.As(err, &apiErr):
		outcome = metrics.OutcomeAPIError
	case errors.Is(err, ErrMalformed):
		outcome = metrics.OutcomeMalformed
	default:
		outcome = metrics.OutcomeNetwork
	}
	c.observer.ObserveRequest(endpoint, outcome, time.Since(start))
}
