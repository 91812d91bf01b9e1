package core

import (
	"math"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// ProximityDetector registers at most one hit per interceptor per run.
type ProximityDetector struct {
	radius   float64
	hitCount int
}

func NewProximityDetector(hitRadiusMeters float64) (*ProximityDetector, error) {
	if !(hitRadiusMeters > 0) || math.IsInf(hitRadiusMeters, 0) {
		return nil, invalidInput("hit radius", "must be > 0, got %v", hitRadiusMeters)
	}
	return &ProximityDetector{radius: hitRadiusMeters}, nil
}

// Check tests every transiting interceptor that has not yet hit against the
// target position and returns the ids that registered a hit on this call.
func (d *ProximityDetector) Check(target model.Position, interceptors []*model.MovingEntity) []string {
	var hits []string
	for _, e := range interceptors {
		if e == nil || e.HasHit || e.State != model.StateTransiting {
			continue
		}
		if DistanceMeters(e.Position, target) > d.radius {
			continue
		}
		e.HasHit = true
		e.State = model.StateHit
		d.hitCount++
		hits = append(hits, e.ID)
	}
	return hits
}

func (d *ProximityDetector) HitCount() int { return d.hitCount }

func (d *ProximityDetector) Radius() float64 { return d.radius }

// Reset clears the hit count. Interceptor flags are reset by their owner.
func (d *ProximityDetector) Reset() { d.hitCount = 0 }
