package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK        = "ok"
	OutcomeAPIError  = "api_error"
	OutcomeHTTPError = "http_error"
	OutcomeNetwork   = "network"
	OutcomeMalformed = "malformed"
)

// Collector bundles the Prometheus metrics of the tracker. All methods are
// safe on a nil receiver so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	BackendRequests  *prometheus.CounterVec
	BackendDurations *prometheus.HistogramVec
	BackendRetries   *prometheus.CounterVec
	PollCycles       *prometheus.CounterVec

	TrackSegments prometheus.Gauge
	TrackPoints   prometheus.Gauge
	LatestStale   prometheus.Gauge
	StreamClients prometheus.Gauge
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isstrack_backend_requests_total",
		Help: "Backend requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"}), "isstrack_backend_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "isstrack_backend_request_duration_seconds",
		Help:    "Backend request latency in seconds, retries included.",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"}), "isstrack_backend_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	retries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isstrack_backend_retries_total",
		Help: "Backend request retries by endpoint.",
	}, []string{"endpoint"}), "isstrack_backend_retries_total")
	if err != nil {
		return nil, err
	}

	cycles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isstrack_poll_cycles_total",
		Help: "Fetch cycles by trigger (tick, manual, start).",
	}, []string{"trigger"}), "isstrack_poll_cycles_total")
	if err != nil {
		return nil, err
	}

	segments, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isstrack_track_segments",
		Help: "Number of path segments in the current ground track.",
	}), "isstrack_track_segments")
	if err != nil {
		return nil, err
	}
	points, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isstrack_track_points",
		Help: "Number of points across all path segments.",
	}), "isstrack_track_points")
	if err != nil {
		return nil, err
	}
	stale, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isstrack_latest_stale",
		Help: "1 when the latest position is the last good one and the most recent fetch failed.",
	}), "isstrack_latest_stale")
	if err != nil {
		return nil, err
	}
	clients, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isstrack_stream_clients",
		Help: "Connected WebSocket stream clients.",
	}), "isstrack_stream_clients")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		BackendRequests:  requests,
		BackendDurations: durations,
		BackendRetries:   retries,
		PollCycles:       cycles,
		TrackSegments:    segments,
		TrackPoints:      points,
		LatestStale:      stale,
		StreamClients:    clients,
	}, nil
}

// ObserveRequest records one finished backend request.
func (c *Collector) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.BackendRequests.WithLabelValues(endpoint, outcome).Inc()
	c.BackendDurations.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRetry records a retried backend attempt.
func (c *Collector) ObserveRetry(endpoint string) {
	if c == nil {
		return
	}
	c.BackendRetries.WithLabelValues(endpoint).Inc()
}

// ObserveCycle records a fetch cycle.
func (c *Collector) ObserveCycle(trigger string) {
	if c == nil {
		return
	}
	c.PollCycles.WithLabelValues(trigger).Inc()
}

// SetTrack publishes the shape of the current ground track.
func (c *Collector) SetTrack(segments, points int, stale bool) {
	if c == nil {
		return
	}
	c.TrackSegments.Set(float64(segments))
	c.TrackPoints.Set(float64(points))
	if stale {
		c.LatestStale.Set(1)
	} else {
		c.LatestStale.Set(0)
	}
}

// AddStreamClients adjusts the connected stream client gauge by delta.
func (c *Collector) AddStreamClients(delta int) {
	if c == nil {
		return
	}
	c.StreamClients.Add(float64(delta))
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
