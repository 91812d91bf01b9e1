package core

import (
	"github.com/signalsfoundry/intercept-simulator/model"
)

// InterceptMode selects how the intercept point is chosen.
type InterceptMode string

const (
	// InterceptProjection aims at the point of the target's remaining path
	// nearest to the interceptor.
	InterceptProjection InterceptMode = "projection"
	// InterceptLead aims at the first sample of the remaining path the
	// interceptor can reach no later than the target does.
	InterceptLead InterceptMode = "lead"
)

// InterceptPlanner routes interceptors onto the target's remaining path.
type InterceptPlanner struct {
	SpeedMps   float64
	SampleRate float64
	// Mode defaults to InterceptProjection.
	Mode InterceptMode
	// Paths is optional.
	Paths *PathCache
}

// InterceptPlan is the route computed for one interceptor.
type InterceptPlan struct {
	Point model.Position
	Path  model.Path
	// Mode is the mode that produced Point. A lead plan with no reachable
	// sample falls back to projection.
	Mode InterceptMode
	// MissMeters is the distance from the interceptor to the target path at
	// planning time.
	MissMeters float64
}

// InterceptPoint projects from onto the part of target's path it has not yet
// flown. A target with nothing left to fly is projected onto its final
// position.
func InterceptPoint(from model.Position, target *model.MovingEntity) (model.Position, float64) {
	remaining := target.Path.Suffix(target.StepIndex)
	if remaining.Len() < 2 {
		end := target.Position
		if !target.Path.Empty() {
			end = target.Path.Last()
		}
		return end, DistanceMeters(from, end)
	}
	point, _, dist, _ := NearestPointOnPath(from, remaining)
	return point, dist
}

// LeadPoint returns the first sample of target's remaining path that an
// interceptor leaving from at speedMps reaches no later than the target.
// Sample i of the remaining path is i ticks away for the target; an
// interceptor steps on its launch tick, so a path of n steps arrives after
// n-1 ticks.
func LeadPoint(from model.Position, target *model.MovingEntity, speedMps, sampleRate float64) (model.Position, bool) {
	remaining := target.Path.Suffix(target.StepIndex)
	for i := 0; i < remaining.Len(); i++ {
		p := remaining.At(i)
		if StepsFor(DistanceMeters(from, p), speedMps, sampleRate)-1 <= i {
			return p, true
		}
	}
	return model.Position{}, false
}

// Plan builds the intercept path from the interceptor's current position.
func (p InterceptPlanner) Plan(interceptor, target *model.MovingEntity) (InterceptPlan, error) {
	point, miss := InterceptPoint(interceptor.Position, target)
	mode := InterceptProjection
	if p.Mode == InterceptLead {
		if lead, ok := LeadPoint(interceptor.Position, target, p.SpeedMps, p.SampleRate); ok {
			point, mode = lead, InterceptLead
		}
	}
	path, err := p.Paths.Path(interceptor.Position, point, p.SpeedMps, p.SampleRate)
	if err != nil {
		return InterceptPlan{}, err
	}
	return InterceptPlan{Point: point, Path: path, Mode: mode, MissMeters: miss}, nil
}

// Apply switches the interceptor from circling onto plan.
func (plan InterceptPlan) Apply(e *model.MovingEntity) {
	e.Path = plan.Path
	e.StepIndex = 0
	e.State = model.StateTransiting
}

// Launch plans and applies an intercept for a circling interceptor. It
// returns false without touching e when e has already launched.
func (p InterceptPlanner) Launch(interceptor, target *model.MovingEntity) (InterceptPlan, bool, error) {
	if interceptor.State != model.StateCircling {
		return InterceptPlan{}, false, nil
	}
	plan, err := p.Plan(interceptor, target)
	if err != nil {
		return InterceptPlan{}, false, err
	}
	plan.Apply(interceptor)
	return plan, true, nil
}
