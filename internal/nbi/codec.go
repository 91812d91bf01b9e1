package nbi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/model"
)

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into out, rejecting unknown fields.
func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// SnapshotToStruct encodes a snapshot using its JSON field names.
func SnapshotToStruct(snap model.Snapshot) (*structpb.Struct, error) {
	return toStruct(snap)
}

// SnapshotFromStruct decodes a snapshot produced by SnapshotToStruct.
func SnapshotFromStruct(s *structpb.Struct) (model.Snapshot, error) {
	var snap model.Snapshot
	if err := fromStruct(s, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// UpdateToStruct encodes a configure request.
func UpdateToStruct(u core.ConfigUpdate) (*structpb.Struct, error) {
	return toStruct(u)
}

// UpdateFromStruct decodes a configure request. Malformed requests match
// ErrInvalidRequest.
func UpdateFromStruct(s *structpb.Struct) (core.ConfigUpdate, error) {
	var u core.ConfigUpdate
	if err := fromStruct(s, &u); err != nil {
		return core.ConfigUpdate{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return u, nil
}

// ConfigView is the wire form of an active configuration.
type ConfigView struct {
	Origin              model.Position `json:"origin"`
	Destination         model.Position `json:"destination"`
	TargetSpeedMps      float64        `json:"target_speed_mps"`
	InterceptorSpeedMps float64        `json:"interceptor_speed_mps"`
	SampleRate          float64        `json:"sample_rate"`
	ZoneCenter          model.Position `json:"zone_center"`
	ZoneRadiusMeters    float64        `json:"zone_radius_m"`
	HitRadiusMeters     float64        `json:"hit_radius_m"`
	OrbitRadiusDeg      float64        `json:"orbit_radius_deg"`
	OrbitAngularSpeed   float64        `json:"orbit_angular_speed"`
	LaunchMode          string         `json:"launch_mode"`
	InterceptMode       string         `json:"intercept_mode"`
	Anchors             []model.Anchor `json:"anchors"`
}

// NewConfigView converts c to its wire form.
func NewConfigView(c core.Config) ConfigView {
	return ConfigView{
		Origin:              c.Origin,
		Destination:         c.Destination,
		TargetSpeedMps:      c.TargetSpeedMps,
		InterceptorSpeedMps: c.InterceptorSpeedMps,
		SampleRate:          c.SampleRate,
		ZoneCenter:          c.ZoneCenter,
		ZoneRadiusMeters:    c.ZoneRadiusMeters,
		HitRadiusMeters:     c.HitRadiusMeters,
		OrbitRadiusDeg:      c.OrbitRadiusDeg,
		OrbitAngularSpeed:   c.OrbitAngularSpeed,
		LaunchMode:          string(c.LaunchMode),
		InterceptMode:       string(c.InterceptMode),
		Anchors:             c.Anchors,
	}
}

// ConfigViewFromStruct decodes a GetConfig response.
func ConfigViewFromStruct(s *structpb.Struct) (ConfigView, error) {
	var v ConfigView
	if err := fromStruct(s, &v); err != nil {
		return ConfigView{}, fmt.Errorf("decode config: %w", err)
	}
	return v, nil
}
