package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"isstrack/pkg/version"
)

// NewServer creates and configures the HTTP server.
// metrics and shutdown may be nil.
func NewServer(addr string, issH *ISSHandler, stats *StatsHandler, stream *StreamHandler, metrics http.Handler, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	// 1. Health Endpoint
	mux.HandleFunc("GET /health", handleHealth)

	// 2. Version Endpoint
	mux.HandleFunc("GET /api/version", handleVersion)

	// 3. Ground track
	mux.HandleFunc("GET /api/iss/latest", issH.HandleLatest)
	mux.HandleFunc("GET /api/iss/segments", issH.HandleSegments)
	mux.HandleFunc("GET /api/iss/path.geojson", issH.HandlePathGeoJSON)
	mux.HandleFunc("GET /api/iss/trend", issH.HandleTrend)
	mux.HandleFunc("GET /api/iss/charts", issH.HandleCharts)
	mux.HandleFunc("POST /api/iss/refresh", issH.HandleRefresh)

	// 3b. Map view
	mux.HandleFunc("GET /api/iss/view", issH.HandleView)
	mux.HandleFunc("POST /api/iss/view/zoom", issH.HandleZoom)

	// 3c. Live stream
	if stream != nil {
		mux.Handle("GET /api/iss/stream", stream)
	}

	// 4. Stats & Logs
	mux.Handle("GET /api/stats", stats)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	// 5. Shutdown Endpoint
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Call shutdown in a goroutine to allow response to flush
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
