package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/unklstewy/windaloft/pkg/wind"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return c, reg
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	c, reg := newTestCollector(t)

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/v1/wind/{id}/profile", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/v1/wind/a1/profile", "/api/v1/wind/b2/profile", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/v1/wind/{id}/profile", "GET", "418")); got != 2 {
		t.Fatalf("windaloft_http_requests_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/health", "GET", "200")); got != 1 {
		t.Fatalf("implicit 200 not recorded, got %v", got)
	}
	if count := histogramSampleCount(t, reg, "windaloft_http_request_duration_seconds", map[string]string{
		"route":  "/api/v1/wind/{id}/profile",
		"method": "GET",
	}); count != 2 {
		t.Fatalf("windaloft_http_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	c, _ := newTestCollector(t)

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Fatalf("unmatched request not recorded, got %v", got)
	}
}

func TestRecordProfile(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordProfile(wind.Profile{
		ID:     "a1",
		Mode:   wind.Aggregated.String(),
		Source: wind.Barometric.String(),
		Bins:   make([]wind.Bin, 3),
		Pairs: wind.DifferenceStats{Rejected: map[wind.RejectReason]int{
			wind.RejectIntervalTooLong: 2,
			wind.RejectInsignificant:   0,
		}},
	})
	c.RecordProfile(wind.Profile{ID: "a1", Mode: wind.Raw.String(), Source: wind.Barometric.String(), Bins: make([]wind.Bin, 9)})
	c.RecordProfile(wind.Profile{ID: "a1", Mode: wind.Aggregated.String(), Source: wind.Geometric.String(), Bins: make([]wind.Bin, 5)})
	c.RecordProfile(wind.Profile{ID: "b2", Mode: wind.Aggregated.String(), Source: wind.Barometric.String(), Bins: make([]wind.Bin, 1)})

	if got := testutil.ToFloat64(c.ProfilesComputed.WithLabelValues("aggregated")); got != 1 {
		t.Fatalf("aggregated profiles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ProfilesComputed.WithLabelValues("raw")); got != 1 {
		t.Fatalf("raw profiles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.PairsRejected.WithLabelValues(string(wind.RejectIntervalTooLong))); got != 2 {
		t.Fatalf("interval_too_long rejections = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.PairsRejected); got != 1 {
		t.Fatalf("zero rejections should not create series, got %d", got)
	}
	if got := testutil.ToFloat64(c.ProfileBins.WithLabelValues("a1", "barometric")); got != 3 {
		t.Fatalf("raw profile must not overwrite bin gauge, got %v", got)
	}
	if got := testutil.ToFloat64(c.ProfileBins.WithLabelValues("a1", "geometric")); got != 5 {
		t.Fatalf("geometric bin gauge = %v, want 5", got)
	}

	c.ForgetObject("a1")
	if got := testutil.CollectAndCount(c.ProfileBins); got != 1 {
		t.Fatalf("bin gauge series after ForgetObject = %d, want 1", got)
	}
	if got := testutil.ToFloat64(c.ProfileBins.WithLabelValues("b2", "barometric")); got != 1 {
		t.Fatalf("ForgetObject must keep other objects, got %v", got)
	}
}

func TestRecordIngested(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordIngested(5)
	c.RecordIngested(0)
	c.RecordIngested(-3)

	if got := testutil.ToFloat64(c.ReportsIngested); got != 5 {
		t.Fatalf("windaloft_reports_ingested_total = %v, want 5", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordProfile(wind.Profile{Mode: "aggregated"})
	c.RecordIngested(1)
	c.ForgetObject("a1")

	rr := httptest.NewRecorder()
	c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
}

func TestRegisterTwiceSharesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}

	first.RecordIngested(2)
	second.RecordIngested(3)
	if got := testutil.ToFloat64(second.ReportsIngested); got != 5 {
		t.Fatalf("shared counter = %v, want 5", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, _ := newTestCollector(t)
	c.RecordIngested(1)
	c.RecordProfile(wind.Profile{ID: "a1", Mode: "aggregated", Source: "barometric", Bins: make([]wind.Bin, 4)})
	c.HTTPRequests.WithLabelValues("/health", "GET", "200").Inc()
	c.HTTPDurations.WithLabelValues("/health", "GET").Observe(0.01)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"windaloft_http_requests_total",
		"windaloft_http_request_duration_seconds",
		"windaloft_profiles_computed_total",
		"windaloft_reports_ingested_total",
		`windaloft_profile_bins{id="a1",source="barometric"} 4`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
