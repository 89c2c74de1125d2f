package wind

import (
	"sort"
	"time"
)

// DefaultSmoothingWindow is the minimum regression window, in reports.
const DefaultSmoothingWindow = 5

// minVerticalWindow is the floor applied to every regression window.
const minVerticalWindow = 3

// VerticalSample is the ascent or descent rate at one report.
type VerticalSample struct {
	Timestamp time.Time `json:"timestamp"`
	Altitude  float64   `json:"altitude"`

	// VerticalVelocity in m/s, positive when climbing.
	VerticalVelocity float64 `json:"vertical_velocity"`

	// WindowSize is the number of reports in the fit.
	WindowSize int `json:"window_size"`
}

// EstimateVerticalVelocity fits altitude = a*t + b by least squares over a
// sliding window ending at each report and reports the slope a.
//
// The window spans w+1 reports where w = max(smoothingWindow, n/10, 3). The
// first w reports have no sample. Windows whose timestamps are all equal are
// skipped.
func EstimateVerticalVelocity(reports []PositionReport, source AltitudeSource, smoothingWindow int) []VerticalSample {
	type point struct {
		t   time.Time
		alt float64
	}

	points := make([]point, 0, len(reports))
	for _, r := range reports {
		if r.Timestamp.IsZero() {
			continue
		}
		alt, ok := r.Altitude(source)
		if !ok {
			continue
		}
		points = append(points, point{t: r.Timestamp, alt: alt})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].t.Before(points[j].t) })

	samples := make([]VerticalSample, 0)
	if len(points) < 2 {
		return samples
	}

	w := max(smoothingWindow, len(points)/10, minVerticalWindow)
	for i := w; i < len(points); i++ {
		window := points[i-w : i+1]
		origin := window[0].t

		xs := make([]float64, len(window))
		ys := make([]float64, len(window))
		for j, p := range window {
			xs[j] = p.t.Sub(origin).Seconds()
			ys[j] = p.alt
		}

		slope, ok := leastSquaresSlope(xs, ys)
		if !ok {
			continue
		}
		samples = append(samples, VerticalSample{
			Timestamp:        points[i].t,
			Altitude:         points[i].alt,
			VerticalVelocity: slope,
			WindowSize:       len(window),
		})
	}
	return samples
}

func leastSquaresSlope(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return 0, false
	}
	return sxy / sxx, true
}
