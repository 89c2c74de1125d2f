package wind

import (
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

// FilterConfig selects which reports of a trajectory take part in a
// computation. Zero values disable the corresponding stage.
type FilterConfig struct {
	// Since excludes reports strictly before it (session or range start).
	Since time.Time

	// Window excludes reports older than Now - Window.
	Window time.Duration

	// Now anchors Window. Zero means time.Now().
	Now time.Time

	// Reference and MaxDistanceKm enable the distance stage only when both
	// are set.
	Reference     *coordinates.Geographic
	MaxDistanceKm float64

	// Source is the altitude source the validity stage checks.
	Source AltitudeSource
}

// FilterStats counts the reports excluded at each stage.
type FilterStats struct {
	Input         int `json:"input"`
	BeforeSince   int `json:"before_since"`
	OutsideWindow int `json:"outside_window"`
	TooFar        int `json:"too_far"`
	Invalid       int `json:"invalid"`
	Kept          int `json:"kept"`
}

// ApplyFilters runs the session cutoff, time window, distance and validity
// stages in that order and returns the surviving reports in input order.
// Malformed reports are excluded and counted, never reported as errors.
func ApplyFilters(reports []PositionReport, cfg FilterConfig) ([]PositionReport, FilterStats) {
	stats := FilterStats{Input: len(reports)}

	var windowStart time.Time
	if cfg.Window > 0 {
		now := cfg.Now
		if now.IsZero() {
			now = time.Now()
		}
		windowStart = now.Add(-cfg.Window)
	}
	distanceActive := cfg.Reference != nil && cfg.MaxDistanceKm > 0

	kept := make([]PositionReport, 0, len(reports))
	for _, r := range reports {
		if !cfg.Since.IsZero() && r.Timestamp.Before(cfg.Since) {
			stats.BeforeSince++
			continue
		}
		if !windowStart.IsZero() && r.Timestamp.Before(windowStart) {
			stats.OutsideWindow++
			continue
		}
		if distanceActive {
			if !r.HasPosition() {
				stats.Invalid++
				continue
			}
			if coordinates.DistanceKm(*cfg.Reference, r.Position()) > cfg.MaxDistanceKm {
				stats.TooFar++
				continue
			}
		}
		if !r.Usable(cfg.Source) {
			stats.Invalid++
			continue
		}
		kept = append(kept, r)
	}
	stats.Kept = len(kept)

	return kept, stats
}
