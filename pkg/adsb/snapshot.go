package adsb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// DefaultDataSource tags reports decoded from a snapshot without an explicit
// source.
const DefaultDataSource = "adsb"

// Snapshot is one decoded aircraft.json style document.
type Snapshot struct {
	// Now is the snapshot time; entries' LastSeen is relative to it
	Now time.Time

	// Messages is the receiver's running message count, if reported
	Messages int

	Aircraft []Aircraft
}

// Decode reads a readsb / airplanes.live snapshot (`{"now": ..., "ac": [...]}`;
// readsb's "aircraft" key is accepted as well). When the document carries no
// "now", fallback is used. Altitudes are converted from feet, speeds from
// knots and vertical rates from ft/min.
// API Documentation: https://airplanes.live/api-guide/
func Decode(r io.Reader, fallback time.Time) (Snapshot, error) {
	var doc snapshotResponse
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	now := fallback.UTC()
	if doc.Now > 0 {
		// Fractional epoch seconds
		sec, frac := math.Modf(doc.Now)
		now = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}

	entries := doc.Aircraft
	if len(entries) == 0 {
		entries = doc.ReadsbAircraft
	}

	snap := Snapshot{
		Now:      now,
		Messages: doc.Messages,
		Aircraft: make([]Aircraft, 0, len(entries)),
	}
	for _, ac := range entries {
		if strings.TrimSpace(ac.Hex) == "" {
			continue
		}
		snap.Aircraft = append(snap.Aircraft, convertAircraft(ac, now))
	}
	return snap, nil
}

// Reports converts every entry into a position report. Entries that fail
// validation are skipped; their errors are joined into the returned error so
// callers can log them without aborting the batch.
func (s Snapshot) Reports(dataSource string) ([]wind.PositionReport, error) {
	if dataSource == "" {
		dataSource = DefaultDataSource
	}

	reports := make([]wind.PositionReport, 0, len(s.Aircraft))
	var errs []error
	for _, ac := range s.Aircraft {
		r, err := ac.PositionReport(dataSource)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}

// snapshotResponse represents the JSON snapshot document.
type snapshotResponse struct {
	// Aircraft is the array of aircraft data (airplanes.live)
	Aircraft []snapshotAircraft `json:"ac"`

	// ReadsbAircraft is the same array under readsb's key
	ReadsbAircraft []snapshotAircraft `json:"aircraft"`

	// Now is the snapshot time in epoch seconds
	Now float64 `json:"now"`

	// Messages is the message count
	Messages int `json:"messages"`
}

// snapshotAircraft represents a single aircraft in the snapshot.
// Field documentation: https://airplanes.live/adsb-field-explanations/
type snapshotAircraft struct {
	// Hex is the ICAO Mode S hex code (e.g., "a12345")
	Hex string `json:"hex"`

	// Flight is the callsign/flight number
	Flight *string `json:"flight"`

	// Lat is latitude in decimal degrees
	Lat *float64 `json:"lat"`

	// Lon is longitude in decimal degrees
	Lon *float64 `json:"lon"`

	// AltBaro is barometric altitude in feet
	// Note: Can be string "ground" or float
	AltBaro interface{} `json:"alt_baro"`

	// AltGeom is geometric (GPS) altitude in feet
	// Note: Can be string "ground" or float
	AltGeom interface{} `json:"alt_geom"`

	// Gs is ground speed in knots
	Gs *float64 `json:"gs"`

	// Track is ground track in degrees (0-360)
	Track *float64 `json:"track"`

	// BaroRate is barometric vertical rate in feet/minute
	BaroRate *float64 `json:"baro_rate"`

	// GeomRate is geometric vertical rate in feet/minute
	GeomRate *float64 `json:"geom_rate"`

	// Seen is seconds since any message was received
	Seen *float64 `json:"seen"`

	// SeenPos is seconds since the last position message
	SeenPos *float64 `json:"seen_pos"`
}

// convertAircraft converts a snapshot entry to SI units.
func convertAircraft(ac snapshotAircraft, now time.Time) Aircraft {
	aircraft := Aircraft{
		ICAO:      strings.ToLower(strings.TrimSpace(ac.Hex)),
		Latitude:  ac.Lat,
		Longitude: ac.Lon,
		Track:     ac.Track,
	}

	// Callsign (trim whitespace)
	if ac.Flight != nil {
		aircraft.Callsign = strings.TrimSpace(*ac.Flight)
	}

	baro, baroGround := parseAltitude(ac.AltBaro)
	geom, geomGround := parseAltitude(ac.AltGeom)
	aircraft.BaroAltitude = scale(baro, coordinates.FeetToMeters)
	aircraft.GeoAltitude = scale(geom, coordinates.FeetToMeters)
	aircraft.OnGround = baroGround || geomGround

	aircraft.GroundSpeed = scale(ac.Gs, coordinates.KnotsToMetersPerSecond)

	// Prefer the barometric rate, it is the smoother of the two
	if ac.BaroRate != nil {
		aircraft.VerticalRate = scale(ac.BaroRate, FeetPerMinuteToMetersPerSecond)
	} else {
		aircraft.VerticalRate = scale(ac.GeomRate, FeetPerMinuteToMetersPerSecond)
	}

	// Timestamp - the position's age when known, otherwise the entry's age
	age := ac.SeenPos
	if age == nil {
		age = ac.Seen
	}
	aircraft.LastSeen = now
	if age != nil && *age > 0 {
		aircraft.LastSeen = now.Add(-time.Duration(*age * float64(time.Second)))
	}

	return aircraft
}

// parseAltitude safely extracts altitude from interface{} which can be
// float64 or string. "ground" yields no altitude and onGround set.
func parseAltitude(val interface{}) (alt *float64, onGround bool) {
	switch v := val.(type) {
	case float64:
		return &v, false
	case string:
		return nil, strings.EqualFold(v, "ground")
	default:
		return nil, false
	}
}

func scale(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v * factor
	return &out
}
