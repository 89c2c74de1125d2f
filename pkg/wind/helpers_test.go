package wind

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// mkReport builds a validated report with the same barometric and geometric
// altitude.
func mkReport(t *testing.T, id string, at time.Time, lat, lon, alt float64) PositionReport {
	t.Helper()
	r, err := NewPositionReport(ReportFields{
		ID:           id,
		Timestamp:    at,
		Latitude:     lat,
		Longitude:    lon,
		BaroAltitude: Float(alt),
		GeoAltitude:  Float(alt),
	})
	require.NoError(t, err)
	return r
}

// straightEastward is 10 reports 60 s apart from Boston, longitude increasing
// by 0.001 degrees per step at 15,000 m.
func straightEastward(t *testing.T) []PositionReport {
	t.Helper()
	reports := make([]PositionReport, 0, 10)
	for i := 0; i < 10; i++ {
		reports = append(reports, mkReport(t, "balloon1",
			t0.Add(time.Duration(i)*60*time.Second),
			42.3601, -71.0589+float64(i)*0.001, 15000))
	}
	return reports
}

// closedCircle is 12 reports 150 s apart on a circle of radius 0.01 degrees
// at 20,000 m.
func closedCircle(t *testing.T) []PositionReport {
	t.Helper()
	reports := make([]PositionReport, 0, 12)
	for i := 0; i < 12; i++ {
		angle := 2 * math.Pi * float64(i) / 12
		reports = append(reports, mkReport(t, "balloon2",
			t0.Add(time.Duration(i)*150*time.Second),
			42.3601+0.01*math.Cos(angle), -71.0589+0.01*math.Sin(angle), 20000))
	}
	return reports
}

// angleDiff is the absolute angular difference in degrees, in [0, 180].
func angleDiff(a, b float64) float64 {
	d := math.Abs(math.Mod(a-b, 360))
	if d > 180 {
		d = 360 - d
	}
	return d
}

func newTestDifferencer(t *testing.T) *Differencer {
	t.Helper()
	d, err := NewDifferencer(DefaultDifferencerConfig())
	require.NoError(t, err)
	return d
}

func newTestAggregator(t *testing.T, binSize, minSamples int) *Aggregator {
	t.Helper()
	a, err := NewAggregator(AggregatorConfig{BinSize: binSize, MinSamples: minSamples})
	require.NoError(t, err)
	return a
}

// fakeSource is an in-memory ReportSource.
type fakeSource struct {
	reports  map[string][]PositionReport
	sessions map[string]time.Time
	err      error

	calls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		reports:  make(map[string][]PositionReport),
		sessions: make(map[string]time.Time),
	}
}

func (f *fakeSource) add(reports ...PositionReport) {
	for _, r := range reports {
		f.reports[r.ID] = append(f.reports[r.ID], r)
	}
}

func (f *fakeSource) PositionReports(_ context.Context, id string, since time.Time) ([]PositionReport, error) {
	f.calls = append(f.calls, "reports:"+id)
	if f.err != nil {
		return nil, f.err
	}
	var out []PositionReport
	for _, r := range f.reports[id] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestPositionReport(_ context.Context, id string) (PositionReport, bool, error) {
	f.calls = append(f.calls, "latest:"+id)
	if f.err != nil {
		return PositionReport{}, false, f.err
	}
	valid := make([]PositionReport, 0)
	for _, r := range f.reports[id] {
		if r.HasPosition() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return PositionReport{}, false, nil
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Timestamp.Before(valid[j].Timestamp) })
	return valid[len(valid)-1], true, nil
}

func (f *fakeSource) SessionStart(_ context.Context, id string) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	start, ok := f.sessions[id]
	return start, ok, nil
}
