package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

type countingWatchers struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *countingWatchers) WatcherOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
}

func (c *countingWatchers) WatcherClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func newTestServer(t *testing.T, opts ...Option) (*core.SimulationEngine, *Server, *httptest.Server) {
	t.Helper()
	engine := core.NewSimulationEngine(core.WithClock(timectrl.NewManualClock(time.Unix(0, 0))))
	s := NewServer(engine, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return engine, s, srv
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCommandsBeforeConfigure(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, out := post(t, srv.URL+"/api/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("start before configure = %d %v, want 409", resp.StatusCode, out)
	}
	r, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET config: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusConflict {
		t.Fatalf("config before configure = %d, want 409", r.StatusCode)
	}
}

func TestConfigureStartReplay(t *testing.T) {
	engine, _, srv := newTestServer(t)

	resp, out := post(t, srv.URL+"/api/configure", `{"hit_radius_m": 800, "launch_mode": "immediate"}`)
	if resp.StatusCode != http.StatusOK || out["phase"] != "armed" {
		t.Fatalf("configure = %d %v", resp.StatusCode, out)
	}
	cfg, _ := engine.Config()
	if cfg.HitRadiusMeters != 800 || cfg.LaunchMode != core.LaunchImmediate {
		t.Fatalf("engine config = %+v", cfg)
	}

	resp, out = post(t, srv.URL+"/api/start", "")
	if resp.StatusCode != http.StatusOK || out["phase"] != "intercepting" {
		t.Fatalf("start = %d %v", resp.StatusCode, out)
	}
	resp, _ = post(t, srv.URL+"/api/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", resp.StatusCode)
	}
	resp, out = post(t, srv.URL+"/api/replay", "")
	if resp.StatusCode != http.StatusOK || out["phase"] != "armed" {
		t.Fatalf("replay = %d %v", resp.StatusCode, out)
	}

	r, err := http.Get(srv.URL + "/api/config")
	if err != nil {
		t.Fatalf("GET config: %v", err)
	}
	defer r.Body.Close()
	var view configJSON
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if view.HitRadiusMeters != 800 || len(view.Anchors) != 6 || view.Anchors[0].ID != "drone-1" {
		t.Fatalf("config view = %+v", view)
	}
}

func TestConfigureRejectsBadInput(t *testing.T) {
	engine, _, srv := newTestServer(t)

	resp, _ := post(t, srv.URL+"/api/configure", `{"target_speed_mps": -5}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative speed = %d, want 400", resp.StatusCode)
	}
	if _, ok := engine.Config(); ok {
		t.Fatalf("rejected configure was applied")
	}
	resp, _ = post(t, srv.URL+"/api/configure", `{"warp": 9}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", resp.StatusCode)
	}
	resp, _ = post(t, srv.URL+"/api/configure", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad JSON = %d, want 400", resp.StatusCode)
	}
}

func TestHealthzAndMethods(t *testing.T) {
	_, _, srv := newTestServer(t)
	r, err := http.Get(srv.URL + "/healthz")
	if err != nil || r.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %v, %v", r, err)
	}
	r.Body.Close()

	r, err = http.Get(srv.URL + "/api/start")
	if err != nil {
		t.Fatalf("GET start: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/start = %d, want 405", r.StatusCode)
	}
}

func TestWebSocketFeed(t *testing.T) {
	watchers := &countingWatchers{}
	engine, s, srv := newTestServer(t, WithWatchRecorder(watchers))
	if err := engine.Configure(context.Background(), core.DefaultConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	engine.AddListener(s.Publish)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func() model.Snapshot {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type string         `json:"type"`
			Data model.Snapshot `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if msg.Type != "snapshot" {
			t.Fatalf("message type = %q", msg.Type)
		}
		return msg.Data
	}

	initial := read()
	if initial.Phase != "armed" || len(initial.Entities) != 7 {
		t.Fatalf("initial snapshot = %+v", initial)
	}

	waitFor(t, func() bool { return s.Clients() == 1 })
	engine.Start(context.Background())
	engine.Tick(context.Background())
	if got := read(); got.Tick != 1 || got.Entities[0].ID != core.TargetID {
		t.Fatalf("ticked snapshot = %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return s.Clients() == 0 })
	watchers.mu.Lock()
	defer watchers.mu.Unlock()
	if watchers.opened != 1 || watchers.closed != 1 {
		t.Fatalf("watchers opened=%d closed=%d", watchers.opened, watchers.closed)
	}
}

func TestPublishDropsForSlowClients(t *testing.T) {
	s := NewServer(nil)
	c := &client{send: make(chan []byte, 1)}
	s.clients[c] = struct{}{}
	s.Publish(model.Snapshot{Tick: 1})
	s.Publish(model.Snapshot{Tick: 2})
	if s.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", s.Dropped())
	}
	var msg Message
	if err := json.NewDecoder(bytes.NewReader(<-c.send)).Decode(&msg); err != nil || msg.Type != "snapshot" {
		t.Fatalf("queued frame = %+v, %v", msg, err)
	}
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", core.ErrInvalidInput), http.StatusBadRequest},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.ErrNotConfigured, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Fatalf("StatusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
