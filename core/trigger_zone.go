package core

import (
	"math"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// TriggerZone is a circular geofence that fires once per armed period.
type TriggerZone struct {
	center model.Position
	radius float64
	armed  bool
}

// NewTriggerZone returns an armed zone.
func NewTriggerZone(center model.Position, radiusMeters float64) (*TriggerZone, error) {
	if err := center.Validate(); err != nil {
		return nil, invalidInput("zone center", "%v", err)
	}
	if !(radiusMeters > 0) || math.IsInf(radiusMeters, 0) {
		return nil, invalidInput("zone radius", "must be > 0, got %v", radiusMeters)
	}
	return &TriggerZone{center: center, radius: radiusMeters, armed: true}, nil
}

// Check reports whether p has just entered the zone. It returns true at most
// once until Rearm is called.
func (z *TriggerZone) Check(p model.Position) bool {
	if z == nil || !z.armed {
		return false
	}
	if DistanceMeters(p, z.center) > z.radius {
		return false
	}
	z.armed = false
	return true
}

// Rearm re-enables the zone for a new run.
func (z *TriggerZone) Rearm() {
	if z != nil {
		z.armed = true
	}
}

func (z *TriggerZone) Armed() bool            { return z != nil && z.armed }
func (z *TriggerZone) Center() model.Position { return z.center }
func (z *TriggerZone) Radius() float64        { return z.radius }
