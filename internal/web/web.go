package web

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clusterwatch/internal/gateway"
	"clusterwatch/internal/poll"
	"clusterwatch/internal/state"
	"clusterwatch/internal/tracking"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

const writeTimeout = 10 * time.Second

// Dashboard is what the HTTP API drives.
type Dashboard interface {
	StartPolling(view poll.View, interval time.Duration) error
	StopPolling(view poll.View) error
	Refresh(ctx context.Context, view poll.View) error
	TrackJob(ctx context.Context, jobID string) ([]tracking.TrackedJob, error)
	CopyLogs(ctx context.Context, jobID string, force bool) ([]tracking.ApplicationStatus, error)
	LogURL(jobID, appID string) string
}

// message is the envelope of every websocket frame.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type scrollMessage struct {
	View   poll.View `json:"view"`
	Offset float64   `json:"offset"`
}

type busyMessage struct {
	Target string `json:"target"`
	Busy   bool   `json:"busy"`
}

// Server serves the web UI and API endpoints. It also acts as the viewport
// of the polling loops and as the notifier of remote actions, relaying both
// to the connected browsers.
type Server struct {
	appState  *state.AppState
	dashboard Dashboard
	port      string
	version   string
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan []byte
	done      chan struct{}
	closeOnce sync.Once

	scrollMu sync.Mutex
	scroll   map[poll.View]float64

	httpServer *http.Server
}

// New creates a new web server. Bind must be called before serving requests.
func New(appState *state.AppState, port string, version string) *Server {
	s := &Server{
		appState:  appState,
		port:      port,
		version:   version,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		scroll:    make(map[poll.View]float64),
	}

	// Start broadcast handler
	go s.handleBroadcasts()

	// Start state change monitor
	go s.monitorStateChanges()

	return s
}

// Bind attaches the dashboard the API controls.
func (s *Server) Bind(d Dashboard) {
	s.dashboard = d
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// API endpoints
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/poll/{view}", s.handlePoll)
	mux.HandleFunc("/api/refresh/{view}", s.handleRefresh)
	mux.HandleFunc("/api/track", s.handleTrack)
	mux.HandleFunc("/api/copy-logs", s.handleCopyLogs)
	mux.HandleFunc("/api/logs/{job}/{app}", s.handleLogs)

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	// Serve the UI
	mux.HandleFunc("/{$}", s.handleUI)

	return mux
}

// Start starts the web server in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%s", s.port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Web UI listening", "address", addr, "component", "Web")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web server failed", "error", err, "component", "Web")
		}
	}()
}

// Shutdown stops accepting requests, stops the broadcaster and closes every
// websocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket upgrades HTTP connection to WebSocket and manages client lifecycle.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "component", "Web")
		return
	}
	defer conn.Close()

	// Send initial state before the broadcaster may write to the connection.
	if data, err := json.Marshal(message{Type: "state", Data: s.appState.Snapshot()}); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// Register client
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	slog.Debug("WebSocket client connected", "component", "Web")

	// Read scroll reports until the client disconnects
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.handleClientMessage(data)
	}

	// Unregister client
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()

	slog.Debug("WebSocket client disconnected", "component", "Web")
}

func (s *Server) handleClientMessage(data []byte) {
	var msg struct {
		Type   string    `json:"type"`
		View   poll.View `json:"view"`
		Offset float64   `json:"offset"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("Ignoring malformed client message", "error", err, "component", "Web")
		return
	}
	if msg.Type == "scroll" && msg.View != "" {
		s.scrollMu.Lock()
		s.scroll[msg.View] = msg.Offset
		s.scrollMu.Unlock()
	}
}

// handleBroadcasts sends messages to all connected WebSocket clients.
func (s *Server) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.broadcast:
			s.clientsMu.Lock()
			for client := range s.clients {
				client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					client.Close()
					delete(s.clients, client)
				}
			}
			s.clientsMu.Unlock()
		}
	}
}

// send queues a typed message for every client. A full queue drops it.
func (s *Server) send(kind string, data any) {
	payload, err := json.Marshal(message{Type: kind, Data: data})
	if err != nil {
		slog.Error("Failed to encode websocket message", "type", kind, "error", err, "component", "Web")
		return
	}
	select {
	case s.broadcast <- payload:
	default:
		slog.Debug("Broadcast queue full, dropping message", "type", kind, "component", "Web")
	}
}

// monitorStateChanges broadcasts state immediately on any mutation, with a
// 1-second ticker as a fallback to catch any updates that may be missed.
func (s *Server) monitorStateChanges() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	changeCh := s.appState.ChangeCh()

	var lastHash uint64
	maybeBroadcast := func() {
		data, err := json.Marshal(message{Type: "state", Data: s.appState.Snapshot()})
		if err != nil {
			return
		}
		currentHash := hashState(data)
		if currentHash == lastHash {
			return
		}
		// A dropped snapshot is retried on the next tick.
		select {
		case s.broadcast <- data:
			lastHash = currentHash
		default:
		}
	}

	for {
		select {
		case <-s.done:
			return
		case <-changeCh:
			maybeBroadcast()
		case <-ticker.C:
			maybeBroadcast()
		}
	}
}

// hashState fingerprints an encoded snapshot for change detection.
func hashState(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// BroadcastState sends current state to all connected WebSocket clients.
func (s *Server) BroadcastState() {
	s.send("state", s.appState.Snapshot())
}

// ScrollOffset returns the last scroll position a browser reported for view.
func (s *Server) ScrollOffset(view poll.View) (float64, bool) {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	offset, ok := s.scroll[view]
	return offset, ok
}

// RestoreScroll asks the browsers to return to offset after a redraw.
func (s *Server) RestoreScroll(view poll.View, offset float64) {
	s.send("scroll", scrollMessage{View: view, Offset: offset})
}

// Busy tells the browsers to disable or re-enable an action control.
func (s *Server) Busy(target string, busy bool) {
	s.send("busy", busyMessage{Target: target, Busy: busy})
}

// Notify shows a transient notification in the browsers.
func (s *Server) Notify(n gateway.Notification) {
	s.send("notify", n)
}

// PushTracking relays an incremental tracking table update.
func (s *Server) PushTracking(ev tracking.Event) {
	s.send("patch", ev)
}
