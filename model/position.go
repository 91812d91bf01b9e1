package model

import (
	"fmt"
	"math"
)

// Position is a WGS84 longitude/latitude pair in degrees. There is no
// altitude component; the simulator is purely 2D.
type Position struct {
	Lon float64 `json:"lon" yaml:"lon" msgpack:"lon"`
	Lat float64 `json:"lat" yaml:"lat" msgpack:"lat"`
}

// Validate reports whether p lies within lon ∈ [-180,180], lat ∈ [-90,90].
func (p Position) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lon)
	}
	return nil
}

// String renders p as "(lon, lat)".
func (p Position) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lon, p.Lat)
}
