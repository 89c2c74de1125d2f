package wind

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPositionReport(t *testing.T) {
	r, err := NewPositionReport(ReportFields{
		ID:           "  A1B2C3 ",
		Timestamp:    time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("EDT", -4*3600)),
		Latitude:     42.36,
		Longitude:    -71.06,
		BaroAltitude: Float(12000),
		Callsign:     " HBAL123 ",
	})
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3", r.ID)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, "HBAL123", r.Callsign)
	assert.Nil(t, r.GeoAltitude)
	assert.True(t, r.Usable(Barometric))
	assert.False(t, r.Usable(Geometric), "no geometric altitude")
}

func TestNewPositionReportRejects(t *testing.T) {
	tests := []struct {
		name   string
		fields ReportFields
	}{
		{"missing id", ReportFields{Timestamp: t0, Latitude: 1, Longitude: 1}},
		{"missing timestamp", ReportFields{ID: "x", Latitude: 1, Longitude: 1}},
		{"latitude out of range", ReportFields{ID: "x", Timestamp: t0, Latitude: 91, Longitude: 1}},
		{"longitude NaN", ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: math.NaN()}},
		{"infinite altitude", ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: 1, BaroAltitude: Float(math.Inf(1))}},
		{"huge altitude", ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: 1, BaroAltitude: Float(1e300)}},
		{"huge negative geometric altitude", ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: 1, GeoAltitude: Float(-MaxAltitude - 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPositionReport(tt.fields)
			assert.ErrorIs(t, err, ErrInvalidReport)
		})
	}
}

func TestNewPositionReportAltitudeBound(t *testing.T) {
	r, err := NewPositionReport(ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: 1, BaroAltitude: Float(MaxAltitude)})
	require.NoError(t, err)
	alt, ok := r.Altitude(Barometric)
	assert.True(t, ok)
	assert.Equal(t, MaxAltitude, alt)
}

func TestNewPositionReportCopiesOptionalValues(t *testing.T) {
	alt := 1000.0
	r, err := NewPositionReport(ReportFields{ID: "x", Timestamp: t0, Latitude: 1, Longitude: 1, BaroAltitude: &alt})
	require.NoError(t, err)

	alt = -5
	got, ok := r.Altitude(Barometric)
	require.True(t, ok)
	assert.Equal(t, 1000.0, got)
}

func TestUsable(t *testing.T) {
	tests := []struct {
		name string
		r    PositionReport
		want bool
	}{
		{"valid", PositionReport{Timestamp: t0, Latitude: 10, Longitude: 10, BaroAltitude: Float(100)}, true},
		{"zero-zero sentinel", PositionReport{Timestamp: t0, BaroAltitude: Float(100)}, false},
		{"zero latitude only is a real position", PositionReport{Timestamp: t0, Longitude: 10, BaroAltitude: Float(100)}, true},
		{"zero altitude", PositionReport{Timestamp: t0, Latitude: 10, Longitude: 10, BaroAltitude: Float(0)}, false},
		{"negative altitude", PositionReport{Timestamp: t0, Latitude: 10, Longitude: 10, BaroAltitude: Float(-20)}, false},
		{"missing altitude", PositionReport{Timestamp: t0, Latitude: 10, Longitude: 10}, false},
		{"missing timestamp", PositionReport{Latitude: 10, Longitude: 10, BaroAltitude: Float(100)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Usable(Barometric))
		})
	}
}

func TestParseAltitudeSource(t *testing.T) {
	assert.Equal(t, Geometric, ParseAltitudeSource("geometric"))
	assert.Equal(t, Geometric, ParseAltitudeSource("GPS"))
	assert.Equal(t, Geometric, ParseAltitudeSource(" geo_altitude "))
	assert.Equal(t, Barometric, ParseAltitudeSource("barometric"))
	assert.Equal(t, Barometric, ParseAltitudeSource("altitude"))
	assert.Equal(t, Barometric, ParseAltitudeSource(""))
	assert.Equal(t, "geometric", Geometric.String())
	assert.Equal(t, "barometric", Barometric.String())
}
