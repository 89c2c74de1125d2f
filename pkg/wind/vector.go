package wind

import (
	"sort"
	"strings"
	"time"
)

// Convention selects how a trajectory segment is turned into a wind vector.
//
// The two conventions are physically inconsistent with each other (one
// reports the drift bearing, the other its reciprocal) but both are consumed
// by existing displays, so both are kept as distinct, named modes.
type Convention int

const (
	// TrajectoryAsWind reports the drift bearing as the wind direction, speed
	// in m/s, altitude at the segment midpoint. Segments slower than the
	// significance threshold are dropped as GPS noise.
	TrajectoryAsWind Convention = iota

	// Reciprocal reports the "wind from" direction (bearing + 180), speed in
	// km/h, altitude of the later report. No significance threshold.
	Reciprocal
)

// String returns the convention's query-string name.
func (c Convention) String() string {
	if c == Reciprocal {
		return "reciprocal"
	}
	return "trajectory"
}

// Units returns the speed unit emitted under the convention.
func (c Convention) Units() string {
	if c == Reciprocal {
		return "km/h"
	}
	return "m/s"
}

// ParseConvention maps "reciprocal" (or "from") to Reciprocal and anything
// else to TrajectoryAsWind. Case is ignored.
func ParseConvention(s string) Convention {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reciprocal", "from":
		return Reciprocal
	default:
		return TrajectoryAsWind
	}
}

// Vector is the wind inferred between two consecutive usable reports.
type Vector struct {
	// Altitude in meters (segment midpoint or later report, per Convention).
	Altitude float64 `json:"altitude"`

	// Speed is always >= 0; m/s or km/h per Convention.
	Speed float64 `json:"wind_speed"`

	// Direction in degrees [0, 360).
	Direction float64 `json:"wind_direction"`

	// SampleCount is 1 for raw vectors.
	SampleCount int `json:"sample_count"`

	// Timestamp is the later of the two reports' timestamps.
	Timestamp time.Time `json:"timestamp"`

	// Distance in meters and Interval between the two reports.
	Distance float64       `json:"distance_m"`
	Interval time.Duration `json:"-"`
}

// Bin is an altitude-bucketed aggregate of wind vectors.
type Bin struct {
	// Altitude is the lower edge of the bin in meters for aggregated bins,
	// or the vector's own altitude for raw pseudo-bins.
	Altitude float64 `json:"altitude_bin"`

	// Speed and Direction are the vector (circular) mean.
	Speed     float64 `json:"wind_speed"`
	Direction float64 `json:"wind_direction"`

	SampleCount int `json:"sample_count"`

	// SpeedStdDev and DirectionStdDev are population standard deviations of
	// the raw samples. DirectionStdDev ignores wraparound and is only meant
	// for diagnostics.
	SpeedStdDev     float64 `json:"wind_speed_std"`
	DirectionStdDev float64 `json:"wind_direction_std"`

	// Timestamp is the latest sample timestamp in the bin.
	Timestamp time.Time `json:"timestamp"`
}

// RawBins wraps each vector as a unit-count pseudo-bin keyed by its own
// continuous altitude, preserving full resolution for scatter displays.
func RawBins(vectors []Vector) []Bin {
	bins := make([]Bin, 0, len(vectors))
	for _, v := range vectors {
		bins = append(bins, Bin{
			Altitude:    v.Altitude,
			Speed:       v.Speed,
			Direction:   v.Direction,
			SampleCount: 1,
			Timestamp:   v.Timestamp,
		})
	}
	return bins
}

// SortedBins returns the bins of an aggregation ordered by altitude.
func SortedBins(m map[int]Bin) []Bin {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	bins := make([]Bin, 0, len(keys))
	for _, k := range keys {
		bins = append(bins, m[k])
	}
	return bins
}
