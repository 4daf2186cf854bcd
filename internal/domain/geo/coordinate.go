package geo

import (
	"errors"
	"math"
)

// Point is a WGS84 position in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

var (
	ErrMissingCoordinate = errors.New("lat and lng are required numbers")
	ErrInvalidLatitude   = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude  = errors.New("longitude must be between -180 and 180")
)

// NewPoint constructs a Point after range checks.
func NewPoint(latitude, longitude float64) (Point, error) {
	p := Point{Latitude: latitude, Longitude: longitude}
	if err := p.Validate(); err != nil {
		return Point{}, err
	}
	return p, nil
}

// PointFrom accepts optional coordinates as decoded from a client payload.
// A nil coordinate means the field was absent or not a number.
func PointFrom(latitude, longitude *float64) (Point, error) {
	if latitude == nil || longitude == nil {
		return Point{}, ErrMissingCoordinate
	}
	return NewPoint(*latitude, *longitude)
}

// Validate checks the coordinate ranges. NaN and infinities are rejected.
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

// IsRangeError reports whether err is one of the out-of-range errors,
// as opposed to a missing or non-numeric coordinate.
func IsRangeError(err error) bool {
	return errors.Is(err, ErrInvalidLatitude) || errors.Is(err, ErrInvalidLongitude)
}
