package wind

import (
	"fmt"
	"math"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

// Default aggregation parameters.
const (
	DefaultBinSize    = 500 // meters
	DefaultMinSamples = 3
)

// AggregatorConfig holds the altitude binning parameters.
type AggregatorConfig struct {
	// BinSize is the bin width in meters.
	BinSize int

	// MinSamples is the smallest sample count a bin needs to be reported.
	MinSamples int
}

// DefaultAggregatorConfig returns 500 m bins with at least 3 samples.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{BinSize: DefaultBinSize, MinSamples: DefaultMinSamples}
}

// Aggregator bins wind vectors by altitude.
type Aggregator struct {
	cfg AggregatorConfig
}

// NewAggregator validates cfg and returns an Aggregator. A non-positive bin
// size or a minimum sample count below one is a configuration error.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.BinSize <= 0 {
		return nil, fmt.Errorf("%w: altitude bin size must be positive, got %d", ErrInvalidConfig, cfg.BinSize)
	}
	if cfg.MinSamples < 1 {
		return nil, fmt.Errorf("%w: min samples per bin must be at least 1, got %d", ErrInvalidConfig, cfg.MinSamples)
	}
	return &Aggregator{cfg: cfg}, nil
}

// Config returns the aggregator's parameters.
func (a *Aggregator) Config() AggregatorConfig {
	return a.cfg
}

// BinAltitude returns the lower edge of the bin containing altitude. ok is
// false for altitudes that are not finite or exceed MaxAltitude.
func (a *Aggregator) BinAltitude(altitude float64) (bin int, ok bool) {
	if math.IsNaN(altitude) || math.Abs(altitude) > MaxAltitude {
		return 0, false
	}
	return int(math.Floor(altitude/float64(a.cfg.BinSize))) * a.cfg.BinSize, true
}

// Aggregate groups vectors by altitude bin and returns the circular-mean
// aggregate of every bin holding at least MinSamples vectors.
func (a *Aggregator) Aggregate(vectors []Vector) map[int]Bin {
	groups := make(map[int][]Vector)
	for _, v := range vectors {
		key, ok := a.BinAltitude(v.Altitude)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], v)
	}

	bins := make(map[int]Bin, len(groups))
	for key, group := range groups {
		if len(group) < a.cfg.MinSamples {
			continue
		}
		bin := summarize(group)
		bin.Altitude = float64(key)
		bins[key] = bin
	}
	return bins
}

// summarize decomposes each sample into east (u) and north (v) components so
// directions either side of north average towards north, not south.
func summarize(group []Vector) Bin {
	n := float64(len(group))

	var u, v float64
	speeds := make([]float64, len(group))
	directions := make([]float64, len(group))
	var latest time.Time
	for i, s := range group {
		rad := s.Direction * coordinates.DegreesToRadians
		u += s.Speed * math.Sin(rad)
		v += s.Speed * math.Cos(rad)
		speeds[i] = s.Speed
		directions[i] = s.Direction
		if s.Timestamp.After(latest) {
			latest = s.Timestamp
		}
	}
	u /= n
	v /= n

	return Bin{
		Speed:           math.Sqrt(u*u + v*v),
		Direction:       coordinates.NormalizeAzimuth(math.Atan2(u, v)*coordinates.RadiansToDegrees + 360),
		SampleCount:     len(group),
		SpeedStdDev:     stdDev(speeds),
		DirectionStdDev: stdDev(directions),
		Timestamp:       latest,
	}
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
