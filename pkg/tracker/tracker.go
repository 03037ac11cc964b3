package tracker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Tracker tracks backend request statistics per endpoint ("last", "trend", "health").
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*EndpointStats
}

// EndpointStats holds counters for a single backend endpoint.
// Fields are accessed atomically.
type EndpointStats struct {
	Success        int64
	Failures       int64 // transport errors and non-2xx after retries
	BusinessErrors int64 // ok:false envelopes
	Retries        int64
	LatencyTotalMS int64 // summed over successful requests
	LastSuccessAt  int64 // unix millis
}

// AvgLatencyMS returns the mean latency of successful requests.
func (s EndpointStats) AvgLatencyMS() int64 {
	if s.Success == 0 {
		return 0
	}
	return s.LatencyTotalMS / s.Success
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*EndpointStats),
	}
}

// getStats returns the stats object for an endpoint, creating it if needed.
func (t *Tracker) getStats(endpoint string) *EndpointStats {
	t.mu.RLock()
	s, ok := t.stats[endpoint]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[endpoint]; ok {
		return s
	}
	s = &EndpointStats{}
	t.stats[endpoint] = s
	return s
}

// TrackSuccess records a completed 2xx request and its latency.
func (t *Tracker) TrackSuccess(endpoint string, latency time.Duration) {
	s := t.getStats(endpoint)
	atomic.AddInt64(&s.Success, 1)
	atomic.AddInt64(&s.LatencyTotalMS, latency.Milliseconds())
	atomic.StoreInt64(&s.LastSuccessAt, time.Now().UnixMilli())
}

func (t *Tracker) TrackFailure(endpoint string) {
	atomic.AddInt64(&t.getStats(endpoint).Failures, 1)
}

func (t *Tracker) TrackBusinessError(endpoint string) {
	atomic.AddInt64(&t.getStats(endpoint).BusinessErrors, 1)
}

func (t *Tracker) TrackRetry(endpoint string) {
	atomic.AddInt64(&t.getStats(endpoint).Retries, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]EndpointStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]EndpointStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = EndpointStats{
			Success:        atomic.LoadInt64(&v.Success),
			Failures:       atomic.LoadInt64(&v.Failures),
			BusinessErrors: atomic.LoadInt64(&v.BusinessErrors),
			Retries:        atomic.LoadInt64(&v.Retries),
			LatencyTotalMS: atomic.LoadInt64(&v.LatencyTotalMS),
			LastSuccessAt:  atomic.LoadInt64(&v.LastSuccessAt),
		}
	}
	return result
}
