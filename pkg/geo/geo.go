package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// DefaultSpeedMetersPerMinute is the assumed transit speed when none is given.
const DefaultSpeedMetersPerMinute = 150.0

// ErrInvalidCoordinate is returned for NaN, infinite or out-of-range input.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a point in decimal degrees
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates that cannot be placed on the globe
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("%w: (%v, %v) is not a number", ErrInvalidCoordinate, c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, c.Lng)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters
func Distance(a, b Coordinate) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}

// ETA converts a distance into whole minutes at the given speed.
// A non-positive speed falls back to DefaultSpeedMetersPerMinute.
func ETA(meters, metersPerMinute float64) int {
	if metersPerMinute <= 0 {
		metersPerMinute = DefaultSpeedMetersPerMinute
	}
	if meters <= 0 || math.IsNaN(meters) {
		return 0
	}
	return int(math.Round(meters / metersPerMinute))
}

// Bounds is a latitude/longitude box
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundsAround returns a box that contains every point within radius meters
// of center. It is a cheap prefilter; callers still check Distance.
func BoundsAround(center Coordinate, radiusMeters float64) (Bounds, error) {
	if err := center.Validate(); err != nil {
		return Bounds{}, err
	}
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return Bounds{}, fmt.Errorf("%w: negative radius %v", ErrInvalidCoordinate, radiusMeters)
	}

	dLat := toDegrees(radiusMeters / EarthRadiusMeters)
	b := Bounds{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLng: -180,
		MaxLng: 180,
	}

	// A box reaching a pole covers every longitude
	if b.MinLat <= -90 || b.MaxLat >= 90 {
		return b, nil
	}

	cosLat := math.Cos(toRadians(center.Lat))
	if cosLat > 1e-6 {
		dLng := dLat / cosLat
		// Boxes crossing the antimeridian keep the full band too
		if center.Lng-dLng >= -180 && center.Lng+dLng <= 180 {
			b.MinLng = center.Lng - dLng
			b.MaxLng = center.Lng + dLng
		}
	}
	return b, nil
}

// Contains reports whether c lies inside the box
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lng >= b.MinLng && c.Lng <= b.MaxLng
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
