package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/intercept-simulator/core"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	got := cfg.Simulation.Core()
	want := core.DefaultConfig()
	if got.Origin != want.Origin || got.ZoneCenter != want.ZoneCenter || len(got.Anchors) != len(want.Anchors) {
		t.Fatalf("Core() = %+v, want %+v", got, want)
	}
	if cfg.Server.TickRate != want.SampleRate {
		t.Fatalf("tick rate = %v, want sample rate %v", cfg.Server.TickRate, want.SampleRate)
	}
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
simulation:
  target_speed_mps: 2250
  zone:
    center: {lon: 36.296784, lat: 49.995023}
    radius_m: 20000
  launch_mode: immediate
  anchors:
    - {id: "0", lon: 36.35, lat: 50.15, external: true}
server:
  tick_rate: 30
telemetry:
  enable: true
  base_url: http://drones:8000
  poll_interval: 250ms
record:
  enable: true
  path: out.msgpack.zst
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sim := cfg.Simulation.Core()
	if sim.TargetSpeedMps != 2250 || sim.LaunchMode != core.LaunchImmediate {
		t.Fatalf("overrides not applied: %+v", sim)
	}
	if sim.Origin != core.DefaultConfig().Origin {
		t.Fatalf("origin default lost: %v", sim.Origin)
	}
	if len(sim.Anchors) != 1 || !sim.Anchors[0].External || sim.Anchors[0].Name != "0" {
		t.Fatalf("anchors = %+v", sim.Anchors)
	}
	if cfg.Server.TickRate != 30 || cfg.Server.GRPCAddr != ":50051" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Telemetry.PollInterval != 250*time.Millisecond || cfg.Telemetry.Timeout != 2*time.Second {
		t.Fatalf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "simulation:\n  warp_speed: 9\n", "warp_speed"},
		{"bad speed", "simulation:\n  target_speed_mps: -1\n", "target speed"},
		{"record without path", "record:\n  enable: true\n  path: \"\"\n", "record.path"},
		{"telemetry without url", "telemetry:\n  enable: true\n  base_url: \"\"\n", "telemetry.base_url"},
		{"external without telemetry", "simulation:\n  anchors:\n    - {id: d, lon: 1, lat: 1, external: true}\n", "external"},
		{"bad launch mode", "simulation:\n  launch_mode: salvo\n", "launch mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestSimulationErrorsMatchInvalidInput(t *testing.T) {
	_, err := Parse([]byte("simulation:\n  hit_radius_m: 0\n"))
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("Parse() error = %v, want ErrInvalidInput", err)
	}
}

func TestEmptyFileIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) = %v", err)
	}
	if len(cfg.Simulation.Anchors) != 6 {
		t.Fatalf("anchors = %d, want 6", len(cfg.Simulation.Anchors))
	}
}

func TestShippedDemoConfigLoads(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "configs", "demo.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", path, err)
	}
	if cfg.Simulation.Core().ZoneRadiusMeters != 20000 {
		t.Fatalf("zone radius = %v", cfg.Simulation.Core().ZoneRadiusMeters)
	}
}

func TestLoggerConversion(t *testing.T) {
	l := LoggingConfig{Level: "debug", Format: "text", File: "sim.log", MaxSizeMB: 5}
	got := l.Logger()
	if got.Level != "debug" || got.Format != "text" || got.File != "sim.log" || got.MaxSizeMB != 5 {
		t.Fatalf("Logger() = %+v", got)
	}
}
