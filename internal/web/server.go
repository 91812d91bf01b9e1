// Package web serves the browser renderer: a websocket snapshot feed plus
// the HTTP endpoints behind the map's buttons.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/model"
)

const (
	clientBuffer = 16
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Controller is the engine surface the web server drives.
type Controller interface {
	core.Configurable
	Start(ctx context.Context) error
	Replay(ctx context.Context) error
	Snapshot() model.Snapshot
}

// WatchRecorder tracks open snapshot feeds.
type WatchRecorder interface {
	WatcherOpened()
	WatcherClosed()
}

// Message is the websocket envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWatchRecorder counts websocket clients.
func WithWatchRecorder(r WatchRecorder) Option {
	return func(s *Server) { s.watchers = r }
}

// WithStaticDir serves a renderer bundle from dir at /.
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server exposes the renderer feed and control endpoints.
type Server struct {
	ctrl      Controller
	log       logging.Logger
	watchers  WatchRecorder
	staticDir string
	upgrader  websocket.Upgrader
	router    *mux.Router

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped int
}

// NewServer builds the router.
func NewServer(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl: ctrl,
		log:  logging.Noop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/configure", s.handleConfigure).Methods(http.MethodPost)
	api.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/replay", s.handleReplay).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Publish fans snap out to every websocket client. Slow clients miss
// frames rather than stall the tick loop.
func (s *Server) Publish(snap model.Snapshot) {
	payload, err := json.Marshal(Message{Type: "snapshot", Data: snap})
	if err != nil {
		s.log.Error(context.Background(), "failed to encode snapshot", logging.Err(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.dropped++
		}
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped returns how many frames were skipped for slow clients.
func (s *Server) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.conn.Close()
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, ok := s.ctrl.Config()
	if !ok {
		writeError(w, core.ErrNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, configView(cfg))
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)

	var update core.ConfigUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if err := update.ApplyTo(ctx, s.ctrl); err != nil {
		log.Warn(ctx, "configure rejected", logging.Err(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "start", s.ctrl.Start)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, "replay", s.ctrl.Replay)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error) {
	ctx, log := logging.WithRequestLogger(r.Context(), s.log)
	if err := fn(ctx); err != nil {
		log.Warn(ctx, "command rejected", logging.String("command", name), logging.Err(err))
		writeError(w, err)
		return
	}
	log.Info(ctx, "command accepted", logging.String("command", name))
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	// The current view goes out first so a fresh page draws immediately.
	if payload, err := json.Marshal(Message{Type: "snapshot", Data: s.ctrl.Snapshot()}); err == nil {
		c.send <- payload
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	if s.watchers != nil {
		s.watchers.WatcherOpened()
	}
	s.log.Info(r.Context(), "renderer connected", logging.Int("clients", n))

	done := make(chan struct{})
	go s.writePump(c, done)
	s.readPump(c)
	close(done)

	s.mu.Lock()
	delete(s.clients, c)
	n = len(s.clients)
	s.mu.Unlock()
	if s.watchers != nil {
		s.watchers.WatcherClosed()
	}
	conn.Close()
	s.log.Info(r.Context(), "renderer disconnected", logging.Int("clients", n))
}

// readPump discards client messages and returns when the connection drops.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

type configJSON struct {
	Origin              model.Position `json:"origin"`
	Destination         model.Position `json:"destination"`
	TargetSpeedMps      float64        `json:"target_speed_mps"`
	InterceptorSpeedMps float64        `json:"interceptor_speed_mps"`
	SampleRate          float64        `json:"sample_rate"`
	ZoneCenter          model.Position `json:"zone_center"`
	ZoneRadiusMeters    float64        `json:"zone_radius_m"`
	HitRadiusMeters     float64        `json:"hit_radius_m"`
	LaunchMode          string         `json:"launch_mode"`
	InterceptMode       string         `json:"intercept_mode"`
	Anchors             []model.Anchor `json:"anchors"`
}

func configView(c core.Config) configJSON {
	return configJSON{
		Origin:              c.Origin,
		Destination:         c.Destination,
		TargetSpeedMps:      c.TargetSpeedMps,
		InterceptorSpeedMps: c.InterceptorSpeedMps,
		SampleRate:          c.SampleRate,
		ZoneCenter:          c.ZoneCenter,
		ZoneRadiusMeters:    c.ZoneRadiusMeters,
		HitRadiusMeters:     c.HitRadiusMeters,
		LaunchMode:          string(c.LaunchMode),
		InterceptMode:       string(c.InterceptMode),
		Anchors:             c.Anchors,
	}
}

// StatusCode maps engine errors to HTTP statuses.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrNotConfigured):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
