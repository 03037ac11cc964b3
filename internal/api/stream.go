package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"isstrack/pkg/scene"
)

const (
	streamBuffer  = 8
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingInterval  = (pongWait * 9) / 10
	maxClientRead = 512
)

// ClientGauge counts connected stream clients.
type ClientGauge interface {
	AddStreamClients(delta int)
}

// StreamHandler pushes latest-changed events to WebSocket clients.
type StreamHandler struct {
	scene    *scene.Scene
	gauge    ClientGauge
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

// NewStreamHandler creates a new StreamHandler. gauge may be nil.
func NewStreamHandler(sc *scene.Scene, gauge ClientGauge) *StreamHandler {
	return &StreamHandler{
		scene: sc,
		gauge: gauge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The map front-end may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// Close disconnects all clients and waits for their goroutines.
// http.Server.Shutdown does not track hijacked connections.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.quit)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// join registers a client unless the handler is closed.
func (h *StreamHandler) join() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.join() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	defer h.wg.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		slog.Warn("Stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	events := make(chan scene.LatestEvent, streamBuffer)
	cancel := h.scene.OnLatestChanged(func(ev scene.LatestEvent) {
		select {
		case events <- ev:
		default:
			slog.Debug("Stream client lagging, event dropped", "remote", r.RemoteAddr, "version", ev.Version)
		}
	})
	defer cancel()

	if h.gauge != nil {
		h.gauge.AddStreamClients(1)
		defer h.gauge.AddStreamClients(-1)
	}
	slog.Info("Stream client connected", "remote", r.RemoteAddr)
	defer slog.Info("Stream client disconnected", "remote", r.RemoteAddr)

	closed := make(chan struct{})
	go readPump(conn, closed)

	if ev := h.scene.Current(); ev != nil {
		if err := writeEvent(conn, *ev); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := writeEvent(conn, ev); err != nil {
				slog.Debug("Stream write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-h.quit:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// readPump discards client messages and closes closed once the peer goes away.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxClientRead)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev scene.LatestEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
