package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// TargetID is the entity id of the target in every run.
const TargetID = "plane"

// LaunchMode selects when interceptors leave their orbits.
type LaunchMode string

const (
	// LaunchBatch launches every circling interceptor on the tick the
	// target first enters the trigger zone.
	LaunchBatch LaunchMode = "batch"
	// LaunchImmediate launches every interceptor as soon as the run starts.
	LaunchImmediate LaunchMode = "immediate"
)

// Demo scenario defaults.
const (
	DefaultTargetSpeedMps      = 14000.0
	DefaultInterceptorSpeedMps = 2250.0
	DefaultSampleRate          = 60.0
	DefaultZoneRadiusMeters    = 20000.0
	DefaultHitRadiusMeters     = 1000.0
)

// Config holds every tunable of a run. Thresholds that differ between
// scenarios are parameters here rather than constants.
type Config struct {
	Origin      model.Position
	Destination model.Position

	TargetSpeedMps      float64
	InterceptorSpeedMps float64
	// SampleRate is ticks per second of simulated flight.
	SampleRate float64

	ZoneCenter       model.Position
	ZoneRadiusMeters float64
	HitRadiusMeters  float64

	OrbitRadiusDeg    float64
	OrbitAngularSpeed float64

	LaunchMode    LaunchMode
	InterceptMode InterceptMode
	Anchors       []model.Anchor
}

// DefaultConfig reproduces the demo: a target from Belgorod to Kharkiv, six
// interceptors along the border and a 20 km zone around the ground station.
func DefaultConfig() Config {
	ground := model.Position{Lon: 36.296784, Lat: 50.130023}
	return Config{
		Origin:              model.Position{Lon: 36.5683, Lat: 50.5977},
		Destination:         model.Position{Lon: 36.296784, Lat: 49.995023},
		TargetSpeedMps:      DefaultTargetSpeedMps,
		InterceptorSpeedMps: DefaultInterceptorSpeedMps,
		SampleRate:          DefaultSampleRate,
		ZoneCenter:          ground,
		ZoneRadiusMeters:    DefaultZoneRadiusMeters,
		HitRadiusMeters:     DefaultHitRadiusMeters,
		OrbitRadiusDeg:      DefaultOrbitRadiusDeg,
		OrbitAngularSpeed:   DefaultOrbitAngularSpeed,
		LaunchMode:          LaunchBatch,
		InterceptMode:       InterceptProjection,
		Anchors: []model.Anchor{
			{ID: "drone-1", Name: "Drone 1", Position: model.Position{Lon: 36.15, Lat: 50.15}},
			{ID: "drone-2", Name: "Drone 2", Position: model.Position{Lon: 36.25, Lat: 50.1612}},
			{ID: "drone-3", Name: "Drone 3", Position: model.Position{Lon: 36.35, Lat: 50.1496}},
			{ID: "drone-4", Name: "Drone 4", Position: model.Position{Lon: 36.45, Lat: 50.1734}},
			{ID: "drone-5", Name: "Drone 5", Position: model.Position{Lon: 36.55, Lat: 50.1888}},
			{ID: "drone-6", Name: "Drone 6", Position: model.Position{Lon: 36.65, Lat: 50.151}},
		},
	}
}

// Validate rejects out-of-range coordinates, non-positive speeds, radii and
// rates, unknown modes, paths longer than MaxPathSteps and duplicate anchor
// ids. The returned error matches ErrInvalidInput.
func (c Config) Validate() error {
	for _, p := range []struct {
		field string
		pos   model.Position
	}{
		{"origin", c.Origin},
		{"destination", c.Destination},
		{"zone center", c.ZoneCenter},
	} {
		if err := p.pos.Validate(); err != nil {
			return invalidInput(p.field, "%v", err)
		}
	}
	for _, f := range []struct {
		field string
		v     float64
	}{
		{"target speed", c.TargetSpeedMps},
		{"interceptor speed", c.InterceptorSpeedMps},
		{"sample rate", c.SampleRate},
		{"zone radius", c.ZoneRadiusMeters},
		{"hit radius", c.HitRadiusMeters},
	} {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return invalidInput(f.field, "must be > 0, got %v", f.v)
		}
	}
	if c.OrbitRadiusDeg < 0 || math.IsNaN(c.OrbitRadiusDeg) {
		return invalidInput("orbit radius", "must be >= 0, got %v", c.OrbitRadiusDeg)
	}
	if math.IsNaN(c.OrbitAngularSpeed) || math.IsInf(c.OrbitAngularSpeed, 0) {
		return invalidInput("orbit angular speed", "must be finite, got %v", c.OrbitAngularSpeed)
	}
	if err := checkSteps("target speed", DistanceMeters(c.Origin, c.Destination), c.TargetSpeedMps, c.SampleRate); err != nil {
		return err
	}
	switch c.LaunchMode {
	case "", LaunchBatch, LaunchImmediate:
	default:
		return invalidInput("launch mode", "unknown mode %q", c.LaunchMode)
	}
	switch c.InterceptMode {
	case "", InterceptProjection, InterceptLead:
	default:
		return invalidInput("intercept mode", "unknown mode %q", c.InterceptMode)
	}

	seen := make(map[string]bool, len(c.Anchors))
	for i, a := range c.Anchors {
		if a.ID == "" {
			return invalidInput(fmt.Sprintf("anchors[%d].id", i), "must not be empty")
		}
		if a.ID == TargetID {
			return invalidInput(fmt.Sprintf("anchors[%d].id", i), "%q is reserved for the target", TargetID)
		}
		if seen[a.ID] {
			return invalidInput(fmt.Sprintf("anchors[%d].id", i), "duplicate id %q", a.ID)
		}
		seen[a.ID] = true
		if err := a.Position.Validate(); err != nil {
			return invalidInput(fmt.Sprintf("anchors[%d].position", i), "%v", err)
		}
		if err := checkSteps("interceptor speed", c.maxInterceptMeters(a.Position), c.InterceptorSpeedMps, c.SampleRate); err != nil {
			return err
		}
	}
	return nil
}

// maxInterceptMeters bounds the flight from an interceptor orbiting anchor
// to any point of the target path.
func (c Config) maxInterceptMeters(anchor model.Position) float64 {
	r := c.OrbitRadiusDeg
	if r == 0 {
		r = DefaultOrbitRadiusDeg
	}
	orbit := r * degToRad * EarthRadiusMeters
	return orbit + DistanceMeters(anchor, c.Origin) + DistanceMeters(c.Origin, c.Destination)
}

// withDefaults fills optional fields left at zero.
func (c Config) withDefaults() Config {
	if c.LaunchMode == "" {
		c.LaunchMode = LaunchBatch
	}
	if c.InterceptMode == "" {
		c.InterceptMode = InterceptProjection
	}
	if c.OrbitRadiusDeg == 0 {
		c.OrbitRadiusDeg = DefaultOrbitRadiusDeg
	}
	if c.OrbitAngularSpeed == 0 {
		c.OrbitAngularSpeed = DefaultOrbitAngularSpeed
	}
	anchors := make([]model.Anchor, len(c.Anchors))
	copy(anchors, c.Anchors)
	c.Anchors = anchors
	return c
}
