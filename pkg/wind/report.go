// Package wind estimates winds aloft from the GPS trajectory of a drifting
// object (typically a high-altitude balloon) and aggregates the estimates by
// altitude into a wind profile.
//
// Everything in this package is computed synchronously from in-memory report
// slices. Inputs are never mutated and results share no state with them, so
// independent identifiers can be processed concurrently without coordination.
package wind

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

// MaxAltitude bounds the magnitude of an accepted altitude, in meters.
const MaxAltitude = 1e6

var (
	// ErrInvalidReport is returned by NewPositionReport when a required field
	// is missing or malformed.
	ErrInvalidReport = errors.New("invalid position report")

	// ErrInvalidConfig is returned when a component is constructed with
	// settings that would produce nonsensical results.
	ErrInvalidConfig = errors.New("invalid wind configuration")
)

// AltitudeSource selects which of the two parallel altitude readings of a
// report is used.
type AltitudeSource int

const (
	// Barometric is pressure altitude converted to meters.
	Barometric AltitudeSource = iota

	// Geometric is GNSS (GPS) height in meters.
	Geometric
)

// String returns the canonical name of the source.
func (s AltitudeSource) String() string {
	switch s {
	case Geometric:
		return "geometric"
	default:
		return "barometric"
	}
}

// ParseAltitudeSource maps the names used by feeds, configuration and query
// strings onto an AltitudeSource. Unknown names fall back to Barometric.
func ParseAltitudeSource(s string) AltitudeSource {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "geometric", "geo", "gps", "geo_altitude", "alt_geom":
		return Geometric
	default:
		return Barometric
	}
}

// PositionReport is a single observation of a tracked object.
//
// Reports are values: the package only ever reads them. Optional readings are
// pointers so that "absent" is distinguishable from zero.
type PositionReport struct {
	// ID is the tracked object's identifier (e.g. ICAO hex), lower case.
	ID string

	// Timestamp is when the position was measured.
	Timestamp time.Time

	// Latitude and Longitude in decimal degrees. 0,0 is the feed sentinel
	// for "no position" and is treated as invalid.
	Latitude  float64
	Longitude float64

	// BaroAltitude is barometric altitude in meters, nil if not reported.
	BaroAltitude *float64

	// GeoAltitude is geometric (GPS) altitude in meters, nil if not reported.
	GeoAltitude *float64

	// GroundSpeed in m/s, carried through but unused by wind computation.
	GroundSpeed *float64

	// Track is the reported ground track in degrees, carried through.
	Track *float64

	// VerticalRate in m/s, carried through but unused by wind computation.
	VerticalRate *float64

	Callsign   string
	OnGround   bool
	DataSource string
}

// ReportFields holds the raw values handed to NewPositionReport.
type ReportFields struct {
	ID           string
	Timestamp    time.Time
	Latitude     float64
	Longitude    float64
	BaroAltitude *float64
	GeoAltitude  *float64
	GroundSpeed  *float64
	Track        *float64
	VerticalRate *float64
	Callsign     string
	OnGround     bool
	DataSource   string
}

// NewPositionReport validates raw fields once at ingestion and returns an
// immutable report. The identifier is normalized to lower case so lookups
// are case-insensitive.
func NewPositionReport(f ReportFields) (PositionReport, error) {
	id := strings.ToLower(strings.TrimSpace(f.ID))
	if id == "" {
		return PositionReport{}, fmt.Errorf("%w: missing identifier", ErrInvalidReport)
	}
	if f.Timestamp.IsZero() {
		return PositionReport{}, fmt.Errorf("%w: %s: missing timestamp", ErrInvalidReport, id)
	}

	pos := coordinates.Geographic{Latitude: f.Latitude, Longitude: f.Longitude}
	if !pos.Valid() {
		return PositionReport{}, fmt.Errorf("%w: %s: position %.6f,%.6f out of range",
			ErrInvalidReport, id, f.Latitude, f.Longitude)
	}

	for _, opt := range []struct {
		name string
		v    *float64
	}{
		{"barometric altitude", f.BaroAltitude},
		{"geometric altitude", f.GeoAltitude},
		{"ground speed", f.GroundSpeed},
		{"track", f.Track},
		{"vertical rate", f.VerticalRate},
	} {
		if opt.v != nil && (math.IsNaN(*opt.v) || math.IsInf(*opt.v, 0)) {
			return PositionReport{}, fmt.Errorf("%w: %s: %s is not finite", ErrInvalidReport, id, opt.name)
		}
	}
	for _, alt := range []*float64{f.BaroAltitude, f.GeoAltitude} {
		if alt != nil && math.Abs(*alt) > MaxAltitude {
			return PositionReport{}, fmt.Errorf("%w: %s: altitude %.0f out of range", ErrInvalidReport, id, *alt)
		}
	}

	return PositionReport{
		ID:           id,
		Timestamp:    f.Timestamp.UTC(),
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		BaroAltitude: copyFloat(f.BaroAltitude),
		GeoAltitude:  copyFloat(f.GeoAltitude),
		GroundSpeed:  copyFloat(f.GroundSpeed),
		Track:        copyFloat(f.Track),
		VerticalRate: copyFloat(f.VerticalRate),
		Callsign:     strings.TrimSpace(f.Callsign),
		OnGround:     f.OnGround,
		DataSource:   f.DataSource,
	}, nil
}

// Position returns the report's horizontal position.
func (r PositionReport) Position() coordinates.Geographic {
	return coordinates.Geographic{Latitude: r.Latitude, Longitude: r.Longitude}
}

// HasPosition reports whether the report carries a usable latitude and
// longitude (in range and not the 0,0 sentinel).
func (r PositionReport) HasPosition() bool {
	pos := r.Position()
	return pos.Valid() && !pos.IsZero()
}

// Altitude returns the altitude reading for the given source.
func (r PositionReport) Altitude(source AltitudeSource) (float64, bool) {
	var v *float64
	if source == Geometric {
		v = r.GeoAltitude
	} else {
		v = r.BaroAltitude
	}
	if v == nil || math.IsNaN(*v) {
		return 0, false
	}
	return *v, true
}

// Usable reports whether the report can take part in wind differencing for
// the given altitude source: it needs a valid position and a positive
// altitude.
func (r PositionReport) Usable(source AltitudeSource) bool {
	if !r.HasPosition() || r.Timestamp.IsZero() {
		return false
	}
	alt, ok := r.Altitude(source)
	return ok && alt > 0
}

// Float returns a pointer to v. Handy for building reports in literals.
func Float(v float64) *float64 {
	return &v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
