package iss

import (
	"errors"
	"fmt"
)

// Error codes carried in failure envelopes.
const (
	CodeNoData          = "NO_DATA"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUpstream4xx     = "UPSTREAM_4XX"
	CodeUpstream5xx     = "UPSTREAM_5XX"
	CodeRateLimited     = "RATE_LIMITED"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"

	// Synthesized locally, never sent by the backend.
	CodeNetworkError  = "NETWORK_ERROR"
	CodeMalformedData = "MALFORMED_DATA"
)

// ClientTraceID marks errors raised before any backend round trip.
const ClientTraceID = "client-error"

var (
	// ErrNetwork is a transport-level failure, including exhausted retries and cancellation.
	ErrNetwork = errors.New("backend unreachable")
	// ErrMalformed is a response whose shape or values are unusable.
	ErrMalformed = errors.New("malformed backend response")
)

// APIError is a structured failure reported by the backend, or a non-2xx
// response that carried no envelope.
type APIError struct {
	Code       string
	Message    string
	TraceID    string
	HTTPStatus int // 0 for failure envelopes served with 200
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Code classifies err for surfaces that expose a code string.
func Code(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Code
	case errors.Is(err, ErrNetwork):
		return CodeNetworkError
	case errors.Is(err, ErrMalformed):
		return CodeMalformedData
	}
	return CodeInternalError
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
