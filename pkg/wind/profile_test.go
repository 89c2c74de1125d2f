package wind

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

func newTestService(t *testing.T, src ReportSource, now time.Time) *Service {
	t.Helper()
	svc, err := NewService(src, DefaultConfig(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg := DefaultConfig()
	cfg.Aggregator.BinSize = 0
	_, err = NewService(newFakeSource(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.SmoothingWindow = 0
	_, err = NewService(newFakeSource(), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// ---- Pure computation ----

func TestComputeStraightEastwardFlight(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0.Add(time.Hour))

	p := svc.Compute(straightEastward(t), nil, ProfileRequest{ID: "balloon1"})
	require.Len(t, p.Bins, 1)

	bin := p.Bins[0]
	assert.Equal(t, 15000.0, bin.Altitude)
	assert.Greater(t, bin.Direction, 45.0)
	assert.Less(t, bin.Direction, 135.0)
	assert.Greater(t, bin.Speed, 0.0)
	assert.Equal(t, 9, bin.SampleCount)
	assert.Equal(t, "m/s", p.Units)
	assert.Equal(t, DefaultBinSize, p.BinSize)
}

func TestComputeClosedCircle(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0.Add(time.Hour))

	p := svc.Compute(closedCircle(t), nil, ProfileRequest{ID: "balloon2"})
	require.Len(t, p.Bins, 1)
	assert.Equal(t, 20000.0, p.Bins[0].Altitude)
	assert.Less(t, p.Bins[0].Speed, 20.0)

	raw := svc.Compute(closedCircle(t), nil, ProfileRequest{ID: "balloon2", Mode: Raw})
	require.NotEmpty(t, raw.Bins)
	var perPair float64
	for _, b := range raw.Bins {
		perPair += b.Speed
	}
	perPair /= float64(len(raw.Bins))
	assert.Less(t, p.Bins[0].Speed, perPair/2, "a closed loop cancels out relative to its per-pair speeds")
}

func TestComputeIsIdempotent(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0.Add(time.Hour))
	reports := append(straightEastward(t), closedCircle(t)...)
	snapshot := append([]PositionReport(nil), reports...)
	ref := coordinates.Geographic{Latitude: 42.3601, Longitude: -71.0589}

	req := ProfileRequest{ID: "mixed", MaxDistanceKm: 50, Window: 2 * time.Hour, Now: t0.Add(time.Hour)}
	first := svc.Compute(reports, &ref, req)
	second := svc.Compute(reports, &ref, req)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, reports)
}

func TestComputeRawMode(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0.Add(time.Hour))
	reports := []PositionReport{
		mkReport(t, "b", t0, 10, 10, 15100),
		mkReport(t, "b", t0.Add(60*time.Second), 10, 10.01, 15300),
		mkReport(t, "b", t0.Add(120*time.Second), 10, 10.02, 15700),
	}

	p := svc.Compute(reports, nil, ProfileRequest{ID: "b", Mode: Raw})
	require.Len(t, p.Bins, 2, "raw mode ignores min samples")
	assert.Equal(t, 15200.0, p.Bins[0].Altitude)
	assert.Equal(t, 15500.0, p.Bins[1].Altitude)
	for _, b := range p.Bins {
		assert.Equal(t, 1, b.SampleCount)
	}
	assert.Equal(t, "raw", p.Mode)
	assert.Zero(t, p.BinSize)
}

func TestComputeReciprocalConvention(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0.Add(time.Hour))

	p := svc.Compute(straightEastward(t), nil, ProfileRequest{ID: "balloon1", Convention: Reciprocal})
	require.Len(t, p.Bins, 1)
	assert.InDelta(t, 270, p.Bins[0].Direction, 1)
	assert.Equal(t, "km/h", p.Units)
	assert.Equal(t, "reciprocal", p.Convention)
}

func TestComputeEmptyInput(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0)

	for _, reports := range [][]PositionReport{nil, {mkReport(t, "b", t0, 10, 10, 1000)}} {
		p := svc.Compute(reports, nil, ProfileRequest{ID: "b"})
		assert.True(t, p.Empty())
		assert.NotNil(t, p.Bins)
	}
}

func TestComputeAllPairsOverCap(t *testing.T) {
	svc := newTestService(t, newFakeSource(), t0)
	reports := []PositionReport{
		mkReport(t, "b", t0, 10, 10, 1000),
		mkReport(t, "b", t0.Add(10*time.Minute), 10, 10.1, 1000),
		mkReport(t, "b", t0.Add(20*time.Minute), 10, 10.2, 1000),
	}

	p := svc.Compute(reports, nil, ProfileRequest{ID: "b", Mode: Raw})
	assert.True(t, p.Empty())
	assert.Equal(t, 2, p.Pairs.Rejected[RejectIntervalTooLong])
}

// ---- Service with a report source ----

func TestProfileWithoutSessionIsEmpty(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	svc := newTestService(t, src, t0.Add(time.Hour))

	p, err := svc.Profile(context.Background(), ProfileRequest{ID: "BALLOON1"})
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Equal(t, "balloon1", p.ID)
	assert.Empty(t, src.calls, "no reports are loaded without a cutoff")
}

func TestProfileLogsDiagnostics(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	src.sessions["balloon1"] = t0

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc, err := NewService(src, DefaultConfig(),
		WithClock(func() time.Time { return t0.Add(time.Hour) }),
		WithLogger(log))
	require.NoError(t, err)

	_, err = svc.Profile(context.Background(), ProfileRequest{ID: "balloon1", Mode: Raw})
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wind profile computed", rec["msg"])
	assert.Equal(t, "balloon1", rec["id"])
	assert.Equal(t, float64(9), rec["vectors"])
}

func TestProfileUsesSessionStart(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	src.sessions["balloon1"] = t0.Add(5 * time.Minute)
	svc := newTestService(t, src, t0.Add(time.Hour))

	p, err := svc.Profile(context.Background(), ProfileRequest{ID: "balloon1", Mode: Raw})
	require.NoError(t, err)
	assert.Equal(t, 5, p.Filter.Input)
	assert.Len(t, p.Bins, 4)
}

func TestProfileHistoryFallback(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	svc := newTestService(t, src, t0.Add(9*time.Minute))

	p, err := svc.Profile(context.Background(), ProfileRequest{ID: "balloon1", History: 3 * time.Minute, Mode: Raw})
	require.NoError(t, err)
	assert.Equal(t, 4, p.Filter.Input)
	assert.Len(t, p.Bins, 3)
}

func TestProfileExplicitSinceWins(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	src.sessions["balloon1"] = t0.Add(8 * time.Minute)
	svc := newTestService(t, src, t0.Add(time.Hour))

	p, err := svc.Profile(context.Background(), ProfileRequest{ID: "balloon1", Since: t0, Mode: Raw})
	require.NoError(t, err)
	assert.Len(t, p.Bins, 9)
}

func TestProfileDistanceFilterUsesReferenceTrajectory(t *testing.T) {
	src := newFakeSource()
	src.add(
		mkReport(t, "ref", t0, 45.0, -71.0, 1000),
		mkReport(t, "ref", t0.Add(30*time.Minute), 42.3601, -71.0589, 1000),
	)
	subject := straightEastward(t)
	// A report far from the reference, in the middle of the trajectory.
	subject[5] = mkReport(t, "balloon1", subject[5].Timestamp, 43.0, -71.0539, 15000)
	src.add(subject...)
	svc := newTestService(t, src, t0.Add(time.Hour))

	p, err := svc.Profile(context.Background(), ProfileRequest{
		ID:            "balloon1",
		Since:         t0,
		Mode:          Raw,
		ReferenceID:   "REF",
		MaxDistanceKm: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, p.Reference)
	assert.Equal(t, 42.3601, p.Reference.Latitude)
	assert.Equal(t, 1, p.Filter.TooFar)
	assert.Contains(t, src.calls, "latest:ref")
}

func TestProfileMissingReferenceDisablesDistanceFilter(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	svc := newTestService(t, src, t0.Add(time.Hour))

	p, err := svc.Profile(context.Background(), ProfileRequest{
		ID: "balloon1", Since: t0, ReferenceID: "ghost", MaxDistanceKm: 0.001,
	})
	require.NoError(t, err)
	assert.Nil(t, p.Reference)
	assert.Len(t, p.Bins, 1)
}

func TestProfileSourceError(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("connection refused")
	svc := newTestService(t, src, t0)

	_, err := svc.Profile(context.Background(), ProfileRequest{ID: "balloon1", Since: t0})
	require.Error(t, err)
	assert.ErrorIs(t, err, src.err)

	_, err = svc.Profile(context.Background(), ProfileRequest{ID: "balloon1"})
	assert.ErrorIs(t, err, src.err, "session lookup failure")
}

func TestServiceConcurrentProfiles(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	src.add(closedCircle(t)...)
	svc := newTestService(t, src, t0.Add(time.Hour))

	ids := []string{"balloon1", "balloon2"}
	profiles := make([]Profile, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			profiles[i] = svc.Compute(src.reports[id], nil, ProfileRequest{ID: id})
		}(i, id)
	}
	wg.Wait()

	for i, p := range profiles {
		assert.Equal(t, ids[i], p.ID)
		assert.Len(t, p.Bins, 1)
	}
}

func TestRose(t *testing.T) {
	src := newFakeSource()
	src.add(straightEastward(t)...)
	svc := newTestService(t, src, t0.Add(time.Hour))

	rose, err := svc.Rose(context.Background(), RoseRequest{ID: "balloon1"})
	require.NoError(t, err)
	assert.Equal(t, 9, rose.Total)
	assert.Equal(t, 9, rose.Sectors[3].Total, "eastward vectors fall in 67.5-90")

	lo := 16000.0
	rose, err = svc.Rose(context.Background(), RoseRequest{ID: "balloon1", AltitudeMin: &lo})
	require.NoError(t, err)
	assert.Zero(t, rose.Total)
}

func TestRoseSkipsReportsAtOrBelowZero(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 5; i++ {
		src.add(mkReport(t, "ground", t0.Add(time.Duration(i)*time.Minute), 42.3601, -71.0589+float64(i)*0.001, 0))
		src.add(mkReport(t, "below", t0.Add(time.Duration(i)*time.Minute), 42.3601, -71.0589+float64(i)*0.001, -20))
	}
	svc := newTestService(t, src, t0.Add(time.Hour))

	for _, id := range []string{"ground", "below"} {
		rose, err := svc.Rose(context.Background(), RoseRequest{ID: id})
		require.NoError(t, err)
		assert.Zero(t, rose.Total, "%s: reports without a positive altitude form no pairs", id)
	}
}

func TestVertical(t *testing.T) {
	src := newFakeSource()
	for i := 0; i < 20; i++ {
		src.add(mkReport(t, "climber", t0.Add(time.Duration(i)*10*time.Second), 10, 10, 1000+float64(i)*50))
	}
	svc := newTestService(t, src, t0.Add(5*time.Minute))

	samples, err := svc.Vertical(context.Background(), VerticalRequest{ID: "climber"})
	require.NoError(t, err)
	require.Len(t, samples, 15)
	for _, s := range samples {
		assert.InDelta(t, 5.0, s.VerticalVelocity, 1e-9)
		assert.Equal(t, 6, s.WindowSize)
	}
}
