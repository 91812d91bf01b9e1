package core

import (
	"math"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// MaxPathSteps bounds the number of samples a single path may hold.
const MaxPathSteps = 1_000_000

// NewGeodesicPath samples the great circle from origin to destination at
// sampleRate positions per second for an entity flying at speedMps.
//
// The result has steps+1 samples where steps = ceil(distance/speed*rate);
// the first and last samples are exactly origin and destination. Coincident
// endpoints yield a single-sample path.
func NewGeodesicPath(origin, destination model.Position, speedMps, sampleRate float64) (model.Path, error) {
	if err := origin.Validate(); err != nil {
		return model.Path{}, invalidInput("origin", "%v", err)
	}
	if err := destination.Validate(); err != nil {
		return model.Path{}, invalidInput("destination", "%v", err)
	}
	if !(speedMps > 0) || math.IsInf(speedMps, 0) {
		return model.Path{}, invalidInput("speed", "must be > 0, got %v", speedMps)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return model.Path{}, invalidInput("sample rate", "must be > 0, got %v", sampleRate)
	}

	distance := DistanceMeters(origin, destination)
	if err := checkSteps("speed", distance, speedMps, sampleRate); err != nil {
		return model.Path{}, err
	}
	steps := StepsFor(distance, speedMps, sampleRate)

	points := make([]model.Position, steps+1)
	points[0] = origin
	for i := 1; i < steps; i++ {
		points[i] = IntermediatePoint(origin, destination, float64(i)/float64(steps))
	}
	if steps > 0 {
		points[steps] = destination
	}
	return model.NewPath(points), nil
}

// StepsFor returns the number of steps NewGeodesicPath would produce.
func StepsFor(distanceMeters, speedMps, sampleRate float64) int {
	if distanceMeters <= 0 || speedMps <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Ceil(distanceMeters / speedMps * sampleRate))
}

// checkSteps rejects flights that would need more than MaxPathSteps samples.
func checkSteps(field string, distanceMeters, speedMps, sampleRate float64) error {
	if distanceMeters <= 0 {
		return nil
	}
	n := distanceMeters / speedMps * sampleRate
	if math.IsNaN(n) || math.IsInf(n, 0) || n > MaxPathSteps {
		return invalidInput(field, "path would need %v samples, limit is %d", n, MaxPathSteps)
	}
	return nil
}
