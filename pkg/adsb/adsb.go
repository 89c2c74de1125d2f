// Package adsb decodes readsb / airplanes.live style aircraft snapshots and
// converts their entries into validated wind.PositionReports.
package adsb

import (
	"strings"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// FeetPerMinuteToMetersPerSecond converts a vertical rate in ft/min to m/s.
const FeetPerMinuteToMetersPerSecond = coordinates.FeetToMeters / 60.0

// Aircraft represents one entry of a snapshot, converted to SI units.
// All position data is in WGS84 coordinate system. Readings the feed did not
// include are nil.
type Aircraft struct {
	// ICAO is the unique 24-bit ICAO aircraft address, lower case (e.g., "a12345")
	ICAO string

	// Callsign is the flight number or balloon label, trimmed
	Callsign string

	// Latitude and Longitude in decimal degrees
	Latitude  *float64
	Longitude *float64

	// BaroAltitude is barometric altitude in meters
	BaroAltitude *float64

	// GeoAltitude is geometric (GPS) altitude in meters
	GeoAltitude *float64

	// OnGround is set when the feed reported the altitude as "ground"
	OnGround bool

	// GroundSpeed in meters per second
	GroundSpeed *float64

	// Track is the ground track in degrees (0-359)
	// 0 = North, 90 = East, 180 = South, 270 = West
	Track *float64

	// VerticalRate in meters per second (positive = climbing)
	VerticalRate *float64

	// LastSeen is when the position was measured
	LastSeen time.Time
}

// HasPosition reports whether the entry carries both coordinates.
func (a Aircraft) HasPosition() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// PositionReport validates the entry and converts it into a report tagged
// with dataSource. An entry without a position becomes a report at the 0,0
// sentinel: it still carries altitude for vertical rate estimation but never
// takes part in wind differencing.
func (a Aircraft) PositionReport(dataSource string) (wind.PositionReport, error) {
	f := wind.ReportFields{
		ID:           strings.ToLower(strings.TrimSpace(a.ICAO)),
		Timestamp:    a.LastSeen,
		BaroAltitude: a.BaroAltitude,
		GeoAltitude:  a.GeoAltitude,
		GroundSpeed:  a.GroundSpeed,
		Track:        a.Track,
		VerticalRate: a.VerticalRate,
		Callsign:     a.Callsign,
		OnGround:     a.OnGround,
		DataSource:   dataSource,
	}
	if a.HasPosition() {
		f.Latitude = *a.Latitude
		f.Longitude = *a.Longitude
	}
	return wind.NewPositionReport(f)
}
