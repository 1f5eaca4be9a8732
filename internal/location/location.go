// Package location abstracts the positioning service the admission check
// relies on. Only the coordinate and authorization state cross the
// boundary; everything else is the platform's concern.
package location

import "math"

// AuthState is the positioning authorization status of the local device.
type AuthState int

const (
	AuthUnknown AuthState = iota
	AuthAuthorized
	AuthDenied
	AuthRestricted
)

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Provider supplies the device's current position. Current returns false
// when no recent fix is available.
type Provider interface {
	Current() (Coordinate, bool)
	Authorization() AuthState
}

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
func DistanceMeters(a, b Coordinate) float64 {
	const earthRadiusM = 6371000

	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// Static is a fixed-position provider, used for tests and for hosts
// running without platform positioning support.
type Static struct {
	Pos    Coordinate
	HasFix bool
	Auth   AuthState
}

func (s *Static) Current() (Coordinate, bool) { return s.Pos, s.HasFix }
func (s *Static) Authorization() AuthState    { return s.Auth }

// None is a provider with no fix and unknown authorization.
func None() *Static { return &Static{Auth: AuthUnknown} }

// At returns an authorized provider fixed at the given coordinate.
func At(lat, lng float64) *Static {
	return &Static{Pos: Coordinate{Lat: lat, Lng: lng}, HasFix: true, Auth: AuthAuthorized}
}
