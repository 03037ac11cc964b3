package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isstrack/pkg/history"
	"isstrack/pkg/iss"
	"isstrack/pkg/marker"
	"isstrack/pkg/model"
	"isstrack/pkg/scene"
	"isstrack/pkg/series"
	"isstrack/pkg/tracker"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(lat, lon float64, minute int) model.PositionSample {
	return model.PositionSample{
		Latitude: lat, Longitude: lon, AltitudeKM: 420, VelocityKMH: 27600,
		Timestamp: t0.Add(time.Duration(minute) * time.Minute),
	}
}

type fakeRefresher struct{ calls int }

func (f *fakeRefresher) Refresh() bool {
	f.calls++
	return f.calls == 1
}

type gaugeRecorder struct{ ch chan int }

func (g *gaugeRecorder) AddStreamClients(delta int) { g.ch <- delta }

type testEnv struct {
	store     *history.Store
	scene     *scene.Scene
	tracker   *tracker.Tracker
	refresher *fakeRefresher
	stream    *StreamHandler
	gauge     *gaugeRecorder
	server    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     history.NewStore(),
		tracker:   tracker.New(),
		refresher: &fakeRefresher{},
		gauge:     &gaugeRecorder{ch: make(chan int, 4)},
	}
	env.scene = scene.New(marker.NewMapView(3), nil)
	t.Cleanup(env.scene.Attach(env.store))
	env.stream = NewStreamHandler(env.scene, env.gauge)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	srv := NewServer("127.0.0.1:0",
		NewISSHandler(env.store, env.scene, env.refresher, series.ChartOptions{}),
		NewStatsHandler(env.tracker, env.store, env.scene),
		env.stream, metrics, nil)
	env.server = httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		env.stream.Close()
		env.server.Close()
	})
	return env
}

func (e *testEnv) seed() {
	e.store.SetTrend(&model.TrendWindow{Hours: 24, Positions: []model.PositionSample{
		sample(0, 179, 1),
		sample(0, 170, 0),
		sample(0, -179, 2),
	}})
	latest := sample(1, -178, 3)
	e.store.SetLatest(&latest)
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServer_Endpoints(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		seed       bool
		wantStatus int
		wantType   string
		validate   func(*testing.T, []byte)
	}{
		{
			name: "Health", method: http.MethodGet, path: "/health",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				assert.Equal(t, "OK", string(b))
			},
		},
		{
			name: "Version", method: http.MethodGet, path: "/api/version",
			wantStatus: http.StatusOK, wantType: "application/json",
			validate: func(t *testing.T, b []byte) {
				assert.Contains(t, string(b), `"version"`)
			},
		},
		{
			name: "SegmentsEmpty", method: http.MethodGet, path: "/api/iss/segments",
			wantStatus: http.StatusOK, wantType: "application/json",
			validate: func(t *testing.T, b []byte) {
				assert.JSONEq(t, `[]`, string(b))
			},
		},
		{
			name: "SegmentsSplitAtAntimeridian", method: http.MethodGet, path: "/api/iss/segments", seed: true,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				assert.JSONEq(t, `[[[170,0],[179,0]],[[-179,0],[-178,1]]]`, string(b))
			},
		},
		{
			name: "LatestBeforeFetch", method: http.MethodGet, path: "/api/iss/latest",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var resp LatestResponse
				require.NoError(t, json.Unmarshal(b, &resp))
				assert.Nil(t, resp.Sample)
				assert.Nil(t, resp.UpdatedAt)
				assert.False(t, resp.Stale)
			},
		},
		{
			name: "Latest", method: http.MethodGet, path: "/api/iss/latest", seed: true,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var resp LatestResponse
				require.NoError(t, json.Unmarshal(b, &resp))
				require.NotNil(t, resp.Sample)
				assert.Equal(t, -178.0, resp.Sample.Longitude)
				assert.NotNil(t, resp.UpdatedAt)
				require.NotNil(t, resp.Movement)
				assert.Equal(t, 60.0, resp.Movement.IntervalSeconds)
			},
		},
		{
			name: "PathGeoJSON", method: http.MethodGet, path: "/api/iss/path.geojson", seed: true,
			wantStatus: http.StatusOK, wantType: "application/geo+json",
			validate: func(t *testing.T, b []byte) {
				assert.Contains(t, string(b), `"FeatureCollection"`)
				assert.Contains(t, string(b), `"MultiLineString"`)
			},
		},
		{
			name: "Trend", method: http.MethodGet, path: "/api/iss/trend", seed: true,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var resp struct {
					Hours    int           `json:"hours"`
					Count    int           `json:"count"`
					Altitude series.Series `json:"altitude"`
				}
				require.NoError(t, json.Unmarshal(b, &resp))
				assert.Equal(t, 24, resp.Hours)
				assert.Equal(t, 3, resp.Count)
				assert.Equal(t, []string{"12:00", "12:01", "12:02"}, resp.Altitude.Labels())
			},
		},
		{
			name: "Charts", method: http.MethodGet, path: "/api/iss/charts", seed: true,
			wantStatus: http.StatusOK, wantType: "text/html; charset=utf-8",
			validate: func(t *testing.T, b []byte) {
				assert.Contains(t, string(b), "Altitude (km)")
			},
		},
		{
			name: "ViewCentredOnLatest", method: http.MethodGet, path: "/api/iss/view", seed: true,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var v model.ViewState
				require.NoError(t, json.Unmarshal(b, &v))
				assert.Equal(t, orb.Point{-178, 1}, v.Center)
				assert.Equal(t, 3.0, v.Zoom)
			},
		},
		{
			name: "ZoomClamped", method: http.MethodPost, path: "/api/iss/view/zoom", body: `{"zoom": 30}`,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var v model.ViewState
				require.NoError(t, json.Unmarshal(b, &v))
				assert.Equal(t, marker.MaxZoom, v.Zoom)
			},
		},
		{
			name: "ZoomMissing", method: http.MethodPost, path: "/api/iss/view/zoom", body: `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "ZoomInvalidBody", method: http.MethodPost, path: "/api/iss/view/zoom", body: `zoom=4`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Refresh", method: http.MethodPost, path: "/api/iss/refresh",
			wantStatus: http.StatusAccepted,
			validate: func(t *testing.T, b []byte) {
				assert.JSONEq(t, `{"queued": true}`, string(b))
			},
		},
		{
			name: "RefreshWrongMethod", method: http.MethodGet, path: "/api/iss/refresh",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name: "Stats", method: http.MethodGet, path: "/api/stats", seed: true,
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				var resp StatsResponse
				require.NoError(t, json.Unmarshal(b, &resp))
				assert.Equal(t, 2, resp.Track.Segments)
				assert.Equal(t, 4, resp.Track.Points)
				assert.Equal(t, 3, resp.Track.TrendCount)
				assert.Greater(t, resp.Track.PathKM, 0.0)
				assert.NotNil(t, resp.Backend)
			},
		},
		{
			name: "Metrics", method: http.MethodGet, path: "/metrics",
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, b []byte) {
				assert.Equal(t, "# metrics\n", string(b))
			},
		},
		{
			name: "ShutdownNotMounted", method: http.MethodPost, path: "/api/shutdown",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.seed {
				env.seed()
			}

			resp, body := env.do(t, tt.method, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(body))
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, resp.Header.Get("Content-Type"))
			}
			if tt.validate != nil {
				tt.validate(t, body)
			}
		})
	}
}

func TestServer_LatestReportsStaleAndCode(t *testing.T) {
	env := newTestEnv(t)
	env.seed()
	env.store.FailLatest(&iss.APIError{Code: iss.CodeUpstream5xx, Message: "upstream down"})

	_, body := env.do(t, http.MethodGet, "/api/iss/latest", "")

	var resp LatestResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Stale)
	assert.Equal(t, "UPSTREAM_5XX: upstream down", resp.Error)
	assert.Equal(t, iss.CodeUpstream5xx, resp.Code)
	require.NotNil(t, resp.Sample)
	assert.Equal(t, -178.0, resp.Sample.Longitude)
}

func TestServer_NetworkErrorCode(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailLatest(errors.Join(iss.ErrNetwork, errors.New("dial tcp: refused")))

	_, body := env.do(t, http.MethodGet, "/api/iss/latest", "")

	var resp LatestResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Stale)
	assert.Equal(t, iss.CodeNetworkError, resp.Code)
}

func TestServer_ZoomSurvivesRecentre(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/iss/view/zoom", `{"zoom": 6.5}`)
	env.seed()

	_, body := env.do(t, http.MethodGet, "/api/iss/view", "")

	var v model.ViewState
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, 6.5, v.Zoom)
	assert.Equal(t, orb.Point{-178, 1}, v.Center)
}

func TestStream_PushesLatestChanged(t *testing.T) {
	env := newTestEnv(t)
	first := sample(0, 10, 0)
	env.store.SetLatest(&first)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/iss/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, 1, <-env.gauge.ch)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The current position is sent on connect.
	var ev scene.LatestEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.NotNil(t, ev.Sample)
	assert.Equal(t, 10.0, ev.Sample.Longitude)

	next := sample(0, 11, 1)
	env.store.SetLatest(&next)

	require.NoError(t, conn.ReadJSON(&ev))
	require.NotNil(t, ev.Sample)
	assert.Equal(t, 11.0, ev.Sample.Longitude)
	require.NotNil(t, ev.HeadingDeg)
	assert.InDelta(t, 90, *ev.HeadingDeg, 0.01)
	assert.Equal(t, orb.Point{11, 0}, ev.View.Center)

	conn.Close()
	select {
	case delta := <-env.gauge.ch:
		assert.Equal(t, -1, delta)
	case <-time.After(5 * time.Second):
		t.Fatal("client was not released after disconnect")
	}
}

func TestStream_CloseDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/iss/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	<-env.gauge.ch

	env.stream.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	resp, _ := env.do(t, http.MethodGet, "/api/iss/stream", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
