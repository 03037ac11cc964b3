package api

import (
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"isstrack/pkg/history"
	"isstrack/pkg/scene"
	"isstrack/pkg/tracker"
)

type StatsHandler struct {
	tracker *tracker.Tracker
	store   *history.Store
	scene   *scene.Scene
	started time.Time

	mu     sync.Mutex
	maxMem uint64
}

func NewStatsHandler(t *tracker.Tracker, store *history.Store, sc *scene.Scene) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		store:   store,
		scene:   sc,
		started: time.Now(),
	}
}

type EndpointStatsDTO struct {
	Endpoint       string     `json:"endpoint"`
	Success        int64      `json:"success"`
	Failures       int64      `json:"failures"`
	BusinessErrors int64      `json:"business_errors"`
	Retries        int64      `json:"retries"`
	AvgLatencyMS   int64      `json:"avg_latency_ms"`
	SuccessRate    int64      `json:"success_rate"`
	LastSuccessAt  *time.Time `json:"last_success_at,omitempty"`
}

type DiagnosticsDTO struct {
	MemoryMB    uint64  `json:"memory_mb"`
	MemoryMaxMB uint64  `json:"memory_max_mb"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   float64 `json:"uptime_sec"`
}

type TrackStatsDTO struct {
	Segments    int     `json:"segments"`
	Points      int     `json:"points"`
	TrendCount  int     `json:"trend_count"`
	PathKM      float64 `json:"path_km"`
	Stale       bool    `json:"stale"`
	StoreUpdate uint64  `json:"store_version"`
}

type StatsResponse struct {
	Diagnostics DiagnosticsDTO     `json:"diagnostics"`
	Track       TrackStatsDTO      `json:"track"`
	Backend     []EndpointStatsDTO `json:"backend"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	diagnostics := h.gatherDiagnostics()
	h.mu.Unlock()

	snap := h.store.Snapshot()
	segments := h.scene.Segments()
	points := 0
	for _, s := range segments {
		points += len(s)
	}

	resp := StatsResponse{
		Diagnostics: diagnostics,
		Track: TrackStatsDTO{
			Segments:    len(segments),
			Points:      points,
			TrendCount:  snap.Trend.Len(),
			PathKM:      h.scene.PathLengthKM(),
			Stale:       snap.Stale,
			StoreUpdate: snap.Version,
		},
		Backend: make([]EndpointStatsDTO, 0),
	}

	for endpoint, stats := range h.tracker.Snapshot() {
		total := stats.Success + stats.Failures
		rate := int64(0)
		if total > 0 {
			rate = (stats.Success * 100) / total
		}
		dto := EndpointStatsDTO{
			Endpoint:       endpoint,
			Success:        stats.Success,
			Failures:       stats.Failures,
			BusinessErrors: stats.BusinessErrors,
			Retries:        stats.Retries,
			AvgLatencyMS:   stats.AvgLatencyMS(),
			SuccessRate:    rate,
		}
		if stats.LastSuccessAt > 0 {
			t := time.UnixMilli(stats.LastSuccessAt).UTC()
			dto.LastSuccessAt = &t
		}
		resp.Backend = append(resp.Backend, dto)
	}
	sort.Slice(resp.Backend, func(i, j int) bool { return resp.Backend[i].Endpoint < resp.Backend[j].Endpoint })

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) gatherDiagnostics() DiagnosticsDTO {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.Sys > h.maxMem {
		h.maxMem = m.Sys
	}
	return DiagnosticsDTO{
		MemoryMB:    bToMb(m.Sys),
		MemoryMaxMB: bToMb(h.maxMem),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   time.Since(h.started).Seconds(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
