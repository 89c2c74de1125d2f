package wind

import (
	"fmt"
	"sort"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

// Default differencing parameters.
const (
	DefaultMaxPairInterval   = 300 * time.Second
	DefaultSignificanceSpeed = 1.0 // m/s
)

// RejectReason names why a consecutive pair produced no vector.
type RejectReason string

const (
	// RejectNonPositiveInterval covers duplicate and out-of-order timestamps.
	RejectNonPositiveInterval RejectReason = "non_positive_interval"

	// RejectIntervalTooLong covers gaps longer than MaxPairInterval.
	RejectIntervalTooLong RejectReason = "interval_too_long"

	// RejectInsignificant covers trajectory-mode pairs moving no faster than
	// the significance threshold.
	RejectInsignificant RejectReason = "insignificant"
)

// DifferencerConfig holds the pair rejection thresholds.
type DifferencerConfig struct {
	// MaxPairInterval is the largest accepted gap between paired reports.
	MaxPairInterval time.Duration

	// SignificanceSpeed in m/s. Trajectory-mode pairs at or below it are
	// attributed to GPS noise. Zero disables the check.
	SignificanceSpeed float64
}

// DefaultDifferencerConfig returns the standard thresholds.
func DefaultDifferencerConfig() DifferencerConfig {
	return DifferencerConfig{
		MaxPairInterval:   DefaultMaxPairInterval,
		SignificanceSpeed: DefaultSignificanceSpeed,
	}
}

// DifferenceStats counts what happened to the input of one Difference call.
type DifferenceStats struct {
	Reports  int                  `json:"reports"`
	Unusable int                  `json:"unusable"`
	Pairs    int                  `json:"pairs"`
	Emitted  int                  `json:"emitted"`
	Rejected map[RejectReason]int `json:"rejected"`
}

// Differencer converts a trajectory into per-pair wind vectors.
type Differencer struct {
	cfg DifferencerConfig
}

// NewDifferencer validates cfg and returns a Differencer.
func NewDifferencer(cfg DifferencerConfig) (*Differencer, error) {
	if cfg.MaxPairInterval <= 0 {
		return nil, fmt.Errorf("%w: max pair interval must be positive, got %s",
			ErrInvalidConfig, cfg.MaxPairInterval)
	}
	if cfg.SignificanceSpeed < 0 {
		return nil, fmt.Errorf("%w: significance speed must not be negative, got %.2f",
			ErrInvalidConfig, cfg.SignificanceSpeed)
	}
	return &Differencer{cfg: cfg}, nil
}

// Config returns the differencer's thresholds.
func (d *Differencer) Config() DifferencerConfig {
	return d.cfg
}

// Difference sorts a copy of reports by timestamp, drops reports that are not
// usable for the altitude source, and emits one vector per consecutive pair
// that passes the interval and significance checks.
//
// The input slice is not modified. Fewer than two usable reports yield an
// empty (non-nil) result.
func (d *Differencer) Difference(reports []PositionReport, source AltitudeSource, conv Convention) ([]Vector, DifferenceStats) {
	stats := DifferenceStats{
		Reports:  len(reports),
		Rejected: make(map[RejectReason]int),
	}

	usable := make([]PositionReport, 0, len(reports))
	for _, r := range reports {
		if r.Usable(source) {
			usable = append(usable, r)
		} else {
			stats.Unusable++
		}
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Timestamp.Before(usable[j].Timestamp)
	})

	vectors := make([]Vector, 0, len(usable))
	for i := 1; i < len(usable); i++ {
		stats.Pairs++
		v, reason, ok := d.pair(usable[i-1], usable[i], source, conv)
		if !ok {
			stats.Rejected[reason]++
			continue
		}
		vectors = append(vectors, v)
	}
	stats.Emitted = len(vectors)

	return vectors, stats
}

func (d *Differencer) pair(prev, curr PositionReport, source AltitudeSource, conv Convention) (Vector, RejectReason, bool) {
	dt := curr.Timestamp.Sub(prev.Timestamp)
	if dt <= 0 {
		return Vector{}, RejectNonPositiveInterval, false
	}
	if dt > d.cfg.MaxPairInterval {
		return Vector{}, RejectIntervalTooLong, false
	}

	from, to := prev.Position(), curr.Position()
	distance := coordinates.DistanceMeters(from, to)
	bearing := coordinates.Bearing(from, to)
	speed := distance / dt.Seconds()

	prevAlt, _ := prev.Altitude(source)
	currAlt, _ := curr.Altitude(source)

	v := Vector{
		SampleCount: 1,
		Timestamp:   curr.Timestamp,
		Distance:    distance,
		Interval:    dt,
	}

	switch conv {
	case Reciprocal:
		v.Speed = speed * coordinates.MetersPerSecondToKmh
		v.Direction = coordinates.NormalizeAzimuth(bearing + 180)
		v.Altitude = currAlt
	default:
		if d.cfg.SignificanceSpeed > 0 && speed <= d.cfg.SignificanceSpeed {
			return Vector{}, RejectInsignificant, false
		}
		v.Speed = speed
		v.Direction = bearing
		v.Altitude = (prevAlt + currAlt) / 2
	}

	return v, "", true
}
