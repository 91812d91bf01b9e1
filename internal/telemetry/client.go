// Package telemetry connects externally flown interceptors to the remote
// drone telemetry server. The server exposes one resource per drone:
//
//	GET  /position/{id}  last reported position
//	POST /set_pos/{id}   teleport the drone
//	POST /waypoint/{id}  command a flight to a point
//
// All bodies are {"latitude", "longitude", "altitude"}.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// DefaultAltitudeMeters is sent with every command; the simulator is 2D.
const DefaultAltitudeMeters = 100.0

var (
	// ErrNoBaseURL is returned by NewClient when no server address is set.
	ErrNoBaseURL = errors.New("telemetry: base URL is required")
	// ErrEmptyID is returned when a request names no drone.
	ErrEmptyID = errors.New("telemetry: drone id is required")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op   string
	ID   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("telemetry %s %s: status %d", e.Op, e.ID, e.Code)
}

// Report is the wire form of a position.
type Report struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Position drops the altitude.
func (r Report) Position() model.Position {
	return model.Position{Lon: r.Longitude, Lat: r.Latitude}
}

// ReportFor builds the wire form of pos at the given altitude.
func ReportFor(pos model.Position, altitude float64) Report {
	return Report{Latitude: pos.Lat, Longitude: pos.Lon, Altitude: altitude}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// Timeout bounds each request; defaults to 2 seconds.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the telemetry server over HTTP.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient validates cfg and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("telemetry: unsupported scheme %q", base.Scheme)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: hc}, nil
}

// GetPosition fetches the last reported position of id.
func (c *Client) GetPosition(ctx context.Context, id string) (Report, error) {
	var r Report
	if err := c.do(ctx, http.MethodGet, "position", id, nil, &r); err != nil {
		return Report{}, err
	}
	if err := r.Position().Validate(); err != nil {
		return Report{}, fmt.Errorf("telemetry position %s: %w", id, err)
	}
	return r, nil
}

// SetPosition places id at r.
func (c *Client) SetPosition(ctx context.Context, id string, r Report) error {
	return c.do(ctx, http.MethodPost, "set_pos", id, r, nil)
}

// SetWaypoint commands id to fly to r.
func (c *Client) SetWaypoint(ctx context.Context, id string, r Report) error {
	return c.do(ctx, http.MethodPost, "waypoint", id, r, nil)
}

func (c *Client) do(ctx context.Context, method, op, id string, body any, out any) error {
	if id == "" {
		return ErrEmptyID
	}
	endpoint := c.base.JoinPath(op, id).String()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telemetry %s %s: encode: %w", op, id, err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("telemetry %s %s: %w", op, id, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry %s %s: %w", op, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, ID: id, Code: resp.StatusCode}
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telemetry %s %s: decode: %w", op, id, err)
	}
	return nil
}
