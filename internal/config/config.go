// Package config loads the YAML scenario and service configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/model"
)

type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Server     ServerConfig     `yaml:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Record     RecordConfig     `yaml:"record"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type SimulationConfig struct {
	Origin              model.Position `yaml:"origin"`
	Destination         model.Position `yaml:"destination"`
	TargetSpeedMps      float64        `yaml:"target_speed_mps"`
	InterceptorSpeedMps float64        `yaml:"interceptor_speed_mps"`
	SampleRate          float64        `yaml:"sample_rate"`
	Zone                ZoneConfig     `yaml:"zone"`
	HitRadiusM          float64        `yaml:"hit_radius_m"`
	Orbit               OrbitConfig    `yaml:"orbit"`
	LaunchMode          string         `yaml:"launch_mode"`
	InterceptMode       string         `yaml:"intercept_mode"`
	Anchors             []AnchorConfig `yaml:"anchors"`
}

type ZoneConfig struct {
	Center  model.Position `yaml:"center"`
	RadiusM float64        `yaml:"radius_m"`
}

type OrbitConfig struct {
	RadiusDeg    float64 `yaml:"radius_deg"`
	AngularSpeed float64 `yaml:"angular_speed"`
}

type AnchorConfig struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Lon      float64 `yaml:"lon"`
	Lat      float64 `yaml:"lat"`
	External bool    `yaml:"external"`
}

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	// TickRate is ticks per second of wall time; defaults to the sample
	// rate so the target flies at its configured speed.
	TickRate    float64 `yaml:"tick_rate"`
	Accelerated bool    `yaml:"accelerated"`
}

type TelemetryConfig struct {
	Enable       bool          `yaml:"enable"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	AltitudeM    float64       `yaml:"altitude_m"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	AddSource  bool   `yaml:"add_source"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default reproduces the demo scenario with local services.
func Default() Config {
	return Config{
		Simulation: FromCore(core.DefaultConfig()),
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
		},
		Telemetry: TelemetryConfig{
			BaseURL:      "http://localhost:8000",
			PollInterval: time.Second,
			Timeout:      2 * time.Second,
			AltitudeM:    100,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path and returns the validated configuration. Fields absent
// from the file keep their Default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.TickRate <= 0 {
		c.Server.TickRate = c.Simulation.SampleRate
	}
	if c.Telemetry.PollInterval <= 0 {
		c.Telemetry.PollInterval = time.Second
	}
	if c.Telemetry.Timeout <= 0 {
		c.Telemetry.Timeout = 2 * time.Second
	}
	if c.Telemetry.AltitudeM == 0 {
		c.Telemetry.AltitudeM = 100
	}
}

// Validate checks cross-field constraints and the simulation block.
func (c Config) Validate() error {
	if err := c.Simulation.Core().Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("server.tick_rate must be > 0")
	}
	if c.Record.Enable && c.Record.Path == "" {
		return fmt.Errorf("record.path is required when record.enable is true")
	}
	if c.Telemetry.Enable && c.Telemetry.BaseURL == "" {
		return fmt.Errorf("telemetry.base_url is required when telemetry.enable is true")
	}
	for _, a := range c.Simulation.Anchors {
		if a.External && !c.Telemetry.Enable {
			return fmt.Errorf("anchor %q is external but telemetry is disabled", a.ID)
		}
	}
	return nil
}

// Core converts the simulation block to an engine configuration.
func (s SimulationConfig) Core() core.Config {
	anchors := make([]model.Anchor, 0, len(s.Anchors))
	for _, a := range s.Anchors {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		anchors = append(anchors, model.Anchor{
			ID:       a.ID,
			Name:     name,
			Position: model.Position{Lon: a.Lon, Lat: a.Lat},
			External: a.External,
		})
	}
	return core.Config{
		Origin:              s.Origin,
		Destination:         s.Destination,
		TargetSpeedMps:      s.TargetSpeedMps,
		InterceptorSpeedMps: s.InterceptorSpeedMps,
		SampleRate:          s.SampleRate,
		ZoneCenter:          s.Zone.Center,
		ZoneRadiusMeters:    s.Zone.RadiusM,
		HitRadiusMeters:     s.HitRadiusM,
		OrbitRadiusDeg:      s.Orbit.RadiusDeg,
		OrbitAngularSpeed:   s.Orbit.AngularSpeed,
		LaunchMode:          core.LaunchMode(s.LaunchMode),
		InterceptMode:       core.InterceptMode(s.InterceptMode),
		Anchors:             anchors,
	}
}

// FromCore is the inverse of Core.
func FromCore(c core.Config) SimulationConfig {
	anchors := make([]AnchorConfig, 0, len(c.Anchors))
	for _, a := range c.Anchors {
		anchors = append(anchors, AnchorConfig{
			ID:       a.ID,
			Name:     a.Name,
			Lon:      a.Position.Lon,
			Lat:      a.Position.Lat,
			External: a.External,
		})
	}
	return SimulationConfig{
		Origin:              c.Origin,
		Destination:         c.Destination,
		TargetSpeedMps:      c.TargetSpeedMps,
		InterceptorSpeedMps: c.InterceptorSpeedMps,
		SampleRate:          c.SampleRate,
		Zone:                ZoneConfig{Center: c.ZoneCenter, RadiusM: c.ZoneRadiusMeters},
		HitRadiusM:          c.HitRadiusMeters,
		Orbit:               OrbitConfig{RadiusDeg: c.OrbitRadiusDeg, AngularSpeed: c.OrbitAngularSpeed},
		LaunchMode:          string(c.LaunchMode),
		InterceptMode:       string(c.InterceptMode),
		Anchors:             anchors,
	}
}

// Logger converts the logging block.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		AddSource:  l.AddSource,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}
