package coordinates

import (
	"math"

	"github.com/tidwall/geodesic"
)

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's radius in kilometers (WGS84 mean radius)
	EarthRadiusKm = 6371.0

	// FeetToMeters converts feet to meters
	FeetToMeters = 0.3048

	// KnotsToMetersPerSecond converts knots to meters per second
	KnotsToMetersPerSecond = 0.514444

	// MetersPerSecondToKmh converts meters per second to kilometers per hour
	MetersPerSecondToKmh = 3.6
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64 `json:"longitude"`

	// Altitude in meters above mean sea level (MSL)
	Altitude float64 `json:"altitude,omitempty"`
}

// IsZero reports whether the position is the 0,0 sentinel that feeds use
// for "no position".
func (g Geographic) IsZero() bool {
	return g.Latitude == 0 && g.Longitude == 0
}

// Valid reports whether the latitude and longitude are finite and in range.
func (g Geographic) Valid() bool {
	if math.IsNaN(g.Latitude) || math.IsNaN(g.Longitude) ||
		math.IsInf(g.Latitude, 0) || math.IsInf(g.Longitude, 0) {
		return false
	}
	return g.Latitude >= -90 && g.Latitude <= 90 &&
		g.Longitude >= -180 && g.Longitude <= 180
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	// math.Mod of a tiny negative value can round up to exactly 360.
	if az >= 360.0 {
		az = 0
	}
	return az
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Uses spherical trigonometry to calculate the bearing along a great circle.
// Returns bearing in degrees [0, 360), where 0 = North, 90 = East, 180 = South, 270 = West.
//
// Identical points have no defined bearing; 0 is returned by convention.
func Bearing(from, to Geographic) float64 {
	if from.Latitude == to.Latitude && from.Longitude == to.Longitude {
		return 0
	}

	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return NormalizeAzimuth(bearing + 360)
}

// DistanceMeters calculates the geodesic distance between two points on the
// WGS84 ellipsoid. Accurate to the nanometer for any pair of points,
// including nearly antipodal ones.
func DistanceMeters(from, to Geographic) float64 {
	if from.Latitude == to.Latitude && from.Longitude == to.Longitude {
		return 0
	}

	var s12, azi1, azi2 float64
	geodesic.WGS84.Inverse(from.Latitude, from.Longitude, to.Latitude, to.Longitude, &s12, &azi1, &azi2)
	if math.IsNaN(s12) {
		return HaversineMeters(from, to)
	}
	return s12
}

// DistanceKm is DistanceMeters expressed in kilometers.
func DistanceKm(from, to Geographic) float64 {
	return DistanceMeters(from, to) / 1000.0
}

// HaversineMeters calculates the great-circle distance on a sphere of radius
// EarthRadiusKm. Up to ~0.5% off the ellipsoidal distance; only used as a
// fallback when the geodesic solver does not converge.
func HaversineMeters(from, to Geographic) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lon1Rad := from.Longitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	lon2Rad := to.Longitude * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	if a > 1 {
		a = 1
	}
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c * 1000.0
}
