package request

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// EndpointBackoff holds a cooldown per backend endpoint after failed requests.
// It complements the in-request retries: a request that exhausted its retries
// delays the next request to the same endpoint.
type EndpointBackoff struct {
	mu        sync.RWMutex
	endpoints map[string]*backoffState
	baseDelay time.Duration
	maxDelay  time.Duration
}

type backoffState struct {
	failureCount int
	nextAllowed  time.Time
}

// NewEndpointBackoff creates a new backoff manager.
func NewEndpointBackoff(baseDelay, maxDelay time.Duration) *EndpointBackoff {
	return &EndpointBackoff{
		endpoints: make(map[string]*backoffState),
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// Wait blocks until the endpoint is allowed to make a request or ctx is done.
func (b *EndpointBackoff) Wait(ctx context.Context, endpoint string) error {
	b.mu.RLock()
	state, exists := b.endpoints[endpoint]
	var next time.Time
	if exists {
		next = state.nextAllowed
	}
	b.mu.RUnlock()

	d := time.Until(next)
	if d <= 0 {
		return nil
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

// RecordFailure increases the cooldown for an endpoint.
func (b *EndpointBackoff) RecordFailure(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, exists := b.endpoints[endpoint]
	if !exists {
		state = &backoffState{}
		b.endpoints[endpoint] = state
	}

	state.failureCount++
	state.nextAllowed = time.Now().Add(b.calculateDelay(state.failureCount))
}

// RecordSuccess clears the cooldown. Unlike failures, recovery is immediate:
// a successful poll means the backend is serving again.
func (b *EndpointBackoff) RecordSuccess(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, exists := b.endpoints[endpoint]; exists {
		state.failureCount = 0
		state.nextAllowed = time.Time{}
	}
}

// calculateDelay returns baseDelay * 2^(failures-1), capped at maxDelay, plus up to 10% jitter.
func (b *EndpointBackoff) calculateDelay(failures int) time.Duration {
	multiplier := math.Pow(2, float64(failures-1))
	delay := time.Duration(float64(b.baseDelay) * multiplier)
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	}

	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// GetState returns the current cooldown of an endpoint.
func (b *EndpointBackoff) GetState(endpoint string) (failureCount int, nextAllowed time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if state, exists := b.endpoints[endpoint]; exists {
		return state.failureCount, state.nextAllowed
	}
	return 0, time.Time{}
}
