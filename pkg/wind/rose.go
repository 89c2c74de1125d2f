package wind

import "fmt"

// RoseSectorWidth is the width of one wind rose direction sector in degrees.
const RoseSectorWidth = 22.5

// RoseSectors is the number of direction sectors (16 compass points).
const RoseSectors = 16

// RoseSpeedBands are the speed band edges in m/s. Speeds at or above the
// last edge are not counted.
var RoseSpeedBands = []float64{0, 5, 10, 15, 20, 25, 30, 50, 100}

// RoseSector holds the per-band counts for one direction sector.
type RoseSector struct {
	// From and To bound the sector in degrees, From inclusive.
	From float64 `json:"from"`
	To   float64 `json:"to"`

	Label string `json:"label"`

	// Counts[i] is the number of vectors with speed in
	// [RoseSpeedBands[i], RoseSpeedBands[i+1]).
	Counts []int `json:"counts"`

	Total int `json:"total"`
}

// WindRose is a direction by speed histogram of wind vectors.
type WindRose struct {
	Sectors    []RoseSector `json:"sectors"`
	SpeedBands []string     `json:"speed_bands"`
	Total      int          `json:"total"`
}

// BuildWindRose counts vectors into 16 direction sectors crossed with the
// RoseSpeedBands. Speeds are taken as given, so callers should pass
// trajectory-mode (m/s) vectors.
func BuildWindRose(vectors []Vector) WindRose {
	bands := len(RoseSpeedBands) - 1

	rose := WindRose{
		Sectors:    make([]RoseSector, RoseSectors),
		SpeedBands: make([]string, bands),
	}
	for j := 0; j < bands; j++ {
		rose.SpeedBands[j] = fmt.Sprintf("%.0f-%.0f m/s", RoseSpeedBands[j], RoseSpeedBands[j+1])
	}
	for i := range rose.Sectors {
		from := float64(i) * RoseSectorWidth
		to := from + RoseSectorWidth
		rose.Sectors[i] = RoseSector{
			From:   from,
			To:     to,
			Label:  fmt.Sprintf("%.0f-%.0f°", from, to),
			Counts: make([]int, bands),
		}
	}

	for _, v := range vectors {
		if v.Direction < 0 || v.Direction >= 360 {
			continue
		}
		band := speedBand(v.Speed)
		if band < 0 {
			continue
		}
		sector := int(v.Direction / RoseSectorWidth)
		if sector >= RoseSectors {
			sector = RoseSectors - 1
		}
		rose.Sectors[sector].Counts[band]++
		rose.Sectors[sector].Total++
		rose.Total++
	}
	return rose
}

func speedBand(speed float64) int {
	for j := 0; j < len(RoseSpeedBands)-1; j++ {
		if speed >= RoseSpeedBands[j] && speed < RoseSpeedBands[j+1] {
			return j
		}
	}
	return -1
}

// WithinAltitude returns the reports whose altitude for source lies within
// [lo, hi]. Nil bounds are open. Reports without an altitude are dropped
// when either bound is set.
func WithinAltitude(reports []PositionReport, source AltitudeSource, lo, hi *float64) []PositionReport {
	if lo == nil && hi == nil {
		return reports
	}
	out := make([]PositionReport, 0, len(reports))
	for _, r := range reports {
		alt, ok := r.Altitude(source)
		if !ok {
			continue
		}
		if lo != nil && alt < *lo {
			continue
		}
		if hi != nil && alt > *hi {
			continue
		}
		out = append(out, r)
	}
	return out
}
