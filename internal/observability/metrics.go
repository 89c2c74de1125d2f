// Package observability exposes windaloft's Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unklstewy/windaloft/pkg/wind"
)

// Collector bundles the HTTP and wind computation metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	ProfilesComputed *prometheus.CounterVec
	PairsRejected    *prometheus.CounterVec
	ReportsIngested  prometheus.Counter
	ProfileBins      *prometheus.GaugeVec
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil. Registering twice
// against the same registry returns collectors sharing the existing series.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "windaloft_http_requests_total",
		Help: "Total number of handled HTTP requests, labeled by route pattern, method, and status code.",
	}, []string{"route", "method", "code"}), "windaloft_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "windaloft_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route", "method"}), "windaloft_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	profiles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "windaloft_profiles_computed_total",
		Help: "Wind profiles computed, labeled by mode.",
	}, []string{"mode"}), "windaloft_profiles_computed_total")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "windaloft_pairs_rejected_total",
		Help: "Consecutive report pairs that produced no wind vector, labeled by reason.",
	}, []string{"reason"}), "windaloft_pairs_rejected_total")
	if err != nil {
		return nil, err
	}

	ingested, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "windaloft_reports_ingested_total",
		Help: "Position reports accepted and stored.",
	}), "windaloft_reports_ingested_total")
	if err != nil {
		return nil, err
	}

	bins, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "windaloft_profile_bins",
		Help: "Altitude bins in the most recent aggregated profile of each tracked object and altitude source.",
	}, []string{"id", "source"}), "windaloft_profile_bins")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:         gatherer,
		HTTPRequests:     requests,
		HTTPDurations:    durations,
		ProfilesComputed: profiles,
		PairsRejected:    rejected,
		ReportsIngested:  ingested,
		ProfileBins:      bins,
	}, nil
}

// Middleware records request counts and durations, labeled by the matched
// chi route pattern so path parameters don't explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}

		route := RoutePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RoutePattern returns the chi route pattern that served r, or "unmatched".
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// RecordProfile counts a computed profile and its rejected pairs. Aggregated
// profiles also update the bin gauge of their object and altitude source.
func (c *Collector) RecordProfile(p wind.Profile) {
	if c == nil {
		return
	}
	c.ProfilesComputed.WithLabelValues(p.Mode).Inc()
	for reason, n := range p.Pairs.Rejected {
		if n > 0 {
			c.PairsRejected.WithLabelValues(string(reason)).Add(float64(n))
		}
	}
	if p.Mode == wind.Aggregated.String() && p.ID != "" {
		c.ProfileBins.WithLabelValues(p.ID, p.Source).Set(float64(len(p.Bins)))
	}
}

// RecordIngested counts stored reports.
func (c *Collector) RecordIngested(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ReportsIngested.Add(float64(n))
}

// ForgetObject drops the bin gauges, for every altitude source, of an object
// removed by retention.
func (c *Collector) ForgetObject(id string) {
	if c == nil {
		return
	}
	c.ProfileBins.DeletePartialMatch(prometheus.Labels{"id": id})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
