package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// MotionModel moves one entity for the current tick.
type MotionModel interface {
	Move(now time.Time, e *model.MovingEntity)
}

// TrajectoryStepper walks an entity along its precomputed path, one sample
// per tick.
type TrajectoryStepper struct{}

// Move ignores the wall clock; path sampling already encodes speed.
func (TrajectoryStepper) Move(_ time.Time, e *model.MovingEntity) {
	Advance(e)
}

// advance is Advance restricted to entities that follow a path.
func (TrajectoryStepper) advance(e *model.MovingEntity) bool {
	if e == nil || e.State == model.StateCircling {
		return false
	}
	return Advance(e)
}

// Advance moves e to the next sample of its path and points its heading
// along the segment just travelled. Once the last sample is reached further
// calls leave position and heading untouched. Returns whether e moved.
func Advance(e *model.MovingEntity) bool {
	if e == nil || e.Path.Empty() {
		return false
	}
	last := e.Path.LastIndex()
	if e.StepIndex >= last {
		e.StepIndex = last
		e.Position = e.Path.Last()
		return false
	}
	if e.StepIndex < 0 {
		e.StepIndex = 0
	}

	prev := e.Path.At(e.StepIndex)
	e.StepIndex++
	cur := e.Path.At(e.StepIndex)
	e.Position = cur
	if prev != cur {
		e.Heading = Bearing(prev, cur)
	}
	return true
}

// Default orbit parameters, matching the demo's circling drones.
const (
	DefaultOrbitAngularSpeed = 0.2
	DefaultOrbitRadiusDeg    = 0.01
)

// OrbitMotion circles an anchor point. The angle is a function of wall-clock
// time, so orbiting entities keep moving even while the run is not ticking.
type OrbitMotion struct {
	Anchor model.Position
	// AngularSpeed is in radians per second.
	AngularSpeed float64
	// RadiusDeg is applied to longitude and latitude alike.
	RadiusDeg float64
}

// NewOrbitMotion returns an orbit around anchor; zero parameters fall back
// to the defaults.
func NewOrbitMotion(anchor model.Position, angularSpeed, radiusDeg float64) OrbitMotion {
	if angularSpeed == 0 {
		angularSpeed = DefaultOrbitAngularSpeed
	}
	if radiusDeg == 0 {
		radiusDeg = DefaultOrbitRadiusDeg
	}
	return OrbitMotion{Anchor: anchor, AngularSpeed: angularSpeed, RadiusDeg: radiusDeg}
}

// PositionAt returns the orbit position and tangent heading at t.
func (o OrbitMotion) PositionAt(t time.Time) (model.Position, float64) {
	theta := o.AngularSpeed * float64(t.UnixNano()) / float64(time.Second)
	sin, cos := math.Sincos(theta)
	pos := model.Position{
		Lon: o.Anchor.Lon + o.RadiusDeg*cos,
		Lat: o.Anchor.Lat + o.RadiusDeg*sin,
	}
	heading := NormalizeHeading(math.Atan2(cos, -sin) / degToRad)
	return pos, heading
}

// Move places e on the orbit at now.
func (o OrbitMotion) Move(now time.Time, e *model.MovingEntity) {
	if e == nil {
		return
	}
	e.Position, e.Heading = o.PositionAt(now)
}
