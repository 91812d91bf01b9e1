package core

import (
	"context"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// ConfigUpdate is a partial configure command. Nil fields keep the value of
// the configuration it is applied to.
type ConfigUpdate struct {
	Origin              *model.Position `json:"origin,omitempty"`
	Destination         *model.Position `json:"destination,omitempty"`
	TargetSpeedMps      *float64        `json:"target_speed_mps,omitempty"`
	InterceptorSpeedMps *float64        `json:"interceptor_speed_mps,omitempty"`
	SampleRate          *float64        `json:"sample_rate,omitempty"`
	ZoneCenter          *model.Position `json:"zone_center,omitempty"`
	ZoneRadiusMeters    *float64        `json:"zone_radius_m,omitempty"`
	HitRadiusMeters     *float64        `json:"hit_radius_m,omitempty"`
	LaunchMode          *LaunchMode     `json:"launch_mode,omitempty"`
	InterceptMode       *InterceptMode  `json:"intercept_mode,omitempty"`
	Anchors             []model.Anchor  `json:"anchors,omitempty"`
}

// Apply returns base with every set field of u replaced.
func (u ConfigUpdate) Apply(base Config) Config {
	cfg := base
	if u.Origin != nil {
		cfg.Origin = *u.Origin
	}
	if u.Destination != nil {
		cfg.Destination = *u.Destination
	}
	if u.TargetSpeedMps != nil {
		cfg.TargetSpeedMps = *u.TargetSpeedMps
	}
	if u.InterceptorSpeedMps != nil {
		cfg.InterceptorSpeedMps = *u.InterceptorSpeedMps
	}
	if u.SampleRate != nil {
		cfg.SampleRate = *u.SampleRate
	}
	if u.ZoneCenter != nil {
		cfg.ZoneCenter = *u.ZoneCenter
	}
	if u.ZoneRadiusMeters != nil {
		cfg.ZoneRadiusMeters = *u.ZoneRadiusMeters
	}
	if u.HitRadiusMeters != nil {
		cfg.HitRadiusMeters = *u.HitRadiusMeters
	}
	if u.LaunchMode != nil {
		cfg.LaunchMode = *u.LaunchMode
	}
	if u.InterceptMode != nil {
		cfg.InterceptMode = *u.InterceptMode
	}
	if u.Anchors != nil {
		cfg.Anchors = append([]model.Anchor(nil), u.Anchors...)
	} else {
		cfg.Anchors = append([]model.Anchor(nil), base.Anchors...)
	}
	return cfg
}

// Configurable is the part of the engine a configure command needs.
type Configurable interface {
	Config() (Config, bool)
	Configure(ctx context.Context, cfg Config) error
}

// ApplyTo applies u to the active configuration of c, or to DefaultConfig
// when c has none, and configures c with the result.
func (u ConfigUpdate) ApplyTo(ctx context.Context, c Configurable) error {
	base, ok := c.Config()
	if !ok {
		base = DefaultConfig()
	}
	return c.Configure(ctx, u.Apply(base))
}
