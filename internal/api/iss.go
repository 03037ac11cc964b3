package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"isstrack/pkg/history"
	"isstrack/pkg/iss"
	"isstrack/pkg/model"
	"isstrack/pkg/scene"
	"isstrack/pkg/series"
)

// Refresher triggers an out-of-band fetch cycle.
type Refresher interface {
	Refresh() bool
}

// ISSHandler serves the ground track, the marker view and the trend charts.
type ISSHandler struct {
	store     *history.Store
	scene     *scene.Scene
	refresher Refresher
	charts    series.ChartOptions
}

// NewISSHandler creates a new ISSHandler. refresher may be nil, in which case
// manual refresh is unavailable.
func NewISSHandler(store *history.Store, sc *scene.Scene, refresher Refresher, charts series.ChartOptions) *ISSHandler {
	return &ISSHandler{store: store, scene: sc, refresher: refresher, charts: charts}
}

// LatestResponse is the state of the latest position as the dashboard shows it.
type LatestResponse struct {
	Sample    *model.PositionSample `json:"sample"`
	Stale     bool                  `json:"stale"`
	Error     string                `json:"error,omitempty"`
	Code      string                `json:"code,omitempty"`
	Loading   bool                  `json:"loading"`
	UpdatedAt *time.Time            `json:"updated_at,omitempty"`
	Movement  *series.Movement      `json:"movement,omitempty"`
}

// HandleLatest returns the latest sample with its stale and error state.
func (h *ISSHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	resp := LatestResponse{
		Sample:   snap.Latest,
		Stale:    snap.Stale,
		Error:    snap.Error(),
		Code:     iss.Code(snap.Err()),
		Loading:  snap.Loading,
		Movement: series.MovementOf(snap.Trend),
	}
	if !snap.UpdatedAt.IsZero() {
		t := snap.UpdatedAt
		resp.UpdatedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSegments returns the path segments as [[[lon,lat],...],...], oldest first.
func (h *ISSHandler) HandleSegments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scene.Segments())
}

// HandlePathGeoJSON returns the track and marker as a GeoJSON FeatureCollection.
func (h *ISSHandler) HandlePathGeoJSON(w http.ResponseWriter, r *http.Request) {
	data, err := h.scene.FeatureCollection().MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode path")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write geojson response", "error", err)
	}
}

// HandleTrend returns the altitude and velocity series, oldest first.
func (h *ISSHandler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	resp := struct {
		Hours    int           `json:"hours"`
		Count    int           `json:"count"`
		Altitude series.Series `json:"altitude"`
		Velocity series.Series `json:"velocity"`
		Error    string        `json:"error,omitempty"`
	}{
		Count:    snap.Trend.Len(),
		Altitude: series.Altitude(snap.Trend),
		Velocity: series.Velocity(snap.Trend),
		Error:    snap.TrendError,
	}
	if snap.Trend != nil {
		resp.Hours = snap.Trend.Hours
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCharts renders the altitude and velocity charts as an HTML page.
func (h *ISSHandler) HandleCharts(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := series.RenderCharts(&buf, h.store.Snapshot().Trend, h.charts); err != nil {
		slog.Error("Chart render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render charts")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// HandleView returns the current map view.
func (h *ISSHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scene.View().State())
}

// ZoomRequest is the body of a user zoom change.
type ZoomRequest struct {
	Zoom *float64 `json:"zoom"`
}

// HandleZoom applies a user zoom change. The zoom is clamped to the map limits
// and kept across later recentring.
func (h *ISSHandler) HandleZoom(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Zoom == nil {
		writeError(w, http.StatusBadRequest, "zoom is required")
		return
	}
	applied := h.scene.View().SetZoom(*req.Zoom)
	slog.Debug("Map zoom changed", "requested", *req.Zoom, "applied", applied)
	writeJSON(w, http.StatusOK, h.scene.View().State())
}

// HandleRefresh queues an immediate fetch cycle.
func (h *ISSHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	queued := h.refresher.Refresh()
	slog.Info("Manual refresh requested", "queued", queued)
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}
