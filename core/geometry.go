package core

import (
	"math"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// EarthRadiusMeters is the mean Earth radius used for all great-circle
// calculations.
const EarthRadiusMeters = 6371008.8

const degToRad = math.Pi / 180.0

// Vec3 is a Cartesian vector. Geodetic positions are mapped onto the unit
// sphere when projected.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns the cross product v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Unit returns v scaled to length one. The zero vector is returned as-is.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// toUnitVec maps a geodetic position onto the unit sphere.
func toUnitVec(p model.Position) Vec3 {
	lat := p.Lat * degToRad
	lon := p.Lon * degToRad
	return Vec3{
		X: math.Cos(lat) * math.Cos(lon),
		Y: math.Cos(lat) * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

func fromUnitVec(v Vec3) model.Position {
	lat := math.Atan2(v.Z, math.Sqrt(v.X*v.X+v.Y*v.Y))
	lon := math.Atan2(v.Y, v.X)
	return model.Position{Lon: lon / degToRad, Lat: lat / degToRad}
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b model.Position) float64 {
	return EarthRadiusMeters * angularDistance(a, b)
}

func angularDistance(a, b model.Position) float64 {
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalised to [0, 360). Identical points yield 0.
func Bearing(a, b model.Position) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeHeading(math.Atan2(y, x) / degToRad)
}

// NormalizeHeading maps any angle in degrees onto [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// IntermediatePoint returns the point at fraction f ∈ [0,1] of the way along
// the great circle from a to b.
func IntermediatePoint(a, b model.Position, f float64) model.Position {
	if f <= 0 {
		return a
	}
	if f >= 1 {
		return b
	}
	delta := angularDistance(a, b)
	if delta < 1e-12 {
		return a
	}
	sinDelta := math.Sin(delta)
	wa := math.Sin((1-f)*delta) / sinDelta
	wb := math.Sin(f*delta) / sinDelta
	v := toUnitVec(a).Scale(wa).Add(toUnitVec(b).Scale(wb))
	return fromUnitVec(v)
}

// NearestPointOnArc projects p onto the minor great-circle arc a→b and
// returns the closest point on that arc.
func NearestPointOnArc(p, a, b model.Position) model.Position {
	va, vb, vp := toUnitVec(a), toUnitVec(b), toUnitVec(p)

	n := va.Cross(vb)
	if n.Norm() < 1e-12 {
		// Degenerate arc (coincident or antipodal endpoints).
		return nearerOf(p, a, b)
	}
	n = n.Unit()

	// Drop the component normal to the arc's plane.
	c := vp.Sub(n.Scale(vp.Dot(n)))
	if c.Norm() < 1e-12 {
		// p is a pole of the arc's great circle; every point is equidistant.
		return a
	}
	c = c.Unit()

	if va.Cross(c).Dot(n) >= 0 && c.Cross(vb).Dot(n) >= 0 {
		return fromUnitVec(c)
	}
	return nearerOf(p, a, b)
}

func nearerOf(p, a, b model.Position) model.Position {
	if DistanceMeters(p, a) <= DistanceMeters(p, b) {
		return a
	}
	return b
}

// NearestPointOnPath returns the closest point to p on the polyline through
// path's samples, the index of the segment start it falls on, and the
// distance to it in metres. A single-sample path projects onto that sample.
// ok is false for an empty path.
func NearestPointOnPath(p model.Position, path model.Path) (nearest model.Position, segment int, distance float64, ok bool) {
	switch path.Len() {
	case 0:
		return model.Position{}, 0, 0, false
	case 1:
		only := path.At(0)
		return only, 0, DistanceMeters(p, only), true
	}

	best := math.Inf(1)
	for i := 0; i < path.Len()-1; i++ {
		a, b := path.At(i), path.At(i+1)
		if a == b {
			continue
		}
		candidate := NearestPointOnArc(p, a, b)
		if d := DistanceMeters(p, candidate); d < best {
			best = d
			nearest = candidate
			segment = i
		}
	}
	if math.IsInf(best, 1) {
		// Every segment was degenerate: the path is a single repeated point.
		only := path.At(0)
		return only, 0, DistanceMeters(p, only), true
	}
	return nearest, segment, best, true
}
