package wind

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/unklstewy/windaloft/pkg/coordinates"
)

// Default look-back windows for the auxiliary estimators.
const (
	DefaultRoseHistory     = 6 * time.Hour
	DefaultVerticalHistory = 1 * time.Hour
)

// ReportSource supplies position reports. Implementations do the I/O; the
// service only ever sees in-memory snapshots.
type ReportSource interface {
	// PositionReports returns the reports of id at or after since, in any order.
	PositionReports(ctx context.Context, id string, since time.Time) ([]PositionReport, error)

	// LatestPositionReport returns the most recent report of id that carries
	// a valid position. ok is false when there is none.
	LatestPositionReport(ctx context.Context, id string) (report PositionReport, ok bool, err error)

	// SessionStart returns when the current tracking session of id began.
	SessionStart(ctx context.Context, id string) (start time.Time, ok bool, err error)
}

// Mode selects between aggregated bins and raw per-pair vectors.
type Mode int

const (
	// Aggregated returns altitude bins with at least MinSamples vectors.
	Aggregated Mode = iota

	// Raw returns every vector as a unit-count pseudo-bin at its own altitude.
	Raw
)

// String returns the mode's query-string name.
func (m Mode) String() string {
	if m == Raw {
		return "raw"
	}
	return "aggregated"
}

// ParseMode maps "raw" to Raw and anything else to Aggregated.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "raw") {
		return Raw
	}
	return Aggregated
}

// Config bundles the settings of a Service.
type Config struct {
	Differencer     DifferencerConfig
	Aggregator      AggregatorConfig
	SmoothingWindow int
}

// DefaultConfig returns the default service settings.
func DefaultConfig() Config {
	return Config{
		Differencer:     DefaultDifferencerConfig(),
		Aggregator:      DefaultAggregatorConfig(),
		SmoothingWindow: DefaultSmoothingWindow,
	}
}

// ProfileRequest describes one wind profile computation.
type ProfileRequest struct {
	ID         string
	Source     AltitudeSource
	Mode       Mode
	Convention Convention

	// Since is an explicit cutoff. When zero the session start is used, or
	// Now - History when no session is recorded.
	Since   time.Time
	History time.Duration

	// Window keeps only reports newer than Now - Window.
	Window time.Duration

	// ReferenceID and MaxDistanceKm enable distance filtering around the
	// reference trajectory's latest position.
	ReferenceID   string
	MaxDistanceKm float64

	// Now anchors Window and History. Zero means the service clock.
	Now time.Time
}

// Profile is the result of a wind profile computation. An empty Bins slice
// means no estimate is available, which is a routine condition.
type Profile struct {
	ID         string          `json:"id"`
	Source     string          `json:"altitude_source"`
	Mode       string          `json:"mode"`
	Convention string          `json:"convention"`
	Units      string          `json:"speed_units"`
	BinSize    int             `json:"bin_size,omitempty"`
	Bins       []Bin           `json:"bins"`
	Filter     FilterStats     `json:"filter"`
	Pairs      DifferenceStats `json:"pairs"`

	// Reference is the resolved reference position, if distance filtering ran.
	Reference *coordinates.Geographic `json:"reference,omitempty"`
}

// Empty reports whether the profile carries no bins.
func (p Profile) Empty() bool {
	return len(p.Bins) == 0
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for debug diagnostics. By default the
// service logs nothing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service orchestrates filtering, differencing and aggregation on top of a
// ReportSource. It holds no per-request state and is safe for concurrent use.
type Service struct {
	source    ReportSource
	diff      *Differencer
	roseDiff  *Differencer
	agg       *Aggregator
	smoothing int
	log       *slog.Logger
	now       func() time.Time
}

// NewService validates cfg and returns a Service reading from source.
func NewService(source ReportSource, cfg Config, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: report source is required", ErrInvalidConfig)
	}
	diff, err := NewDifferencer(cfg.Differencer)
	if err != nil {
		return nil, err
	}
	// The wind rose counts every pair regardless of speed.
	roseDiff, err := NewDifferencer(DifferencerConfig{MaxPairInterval: cfg.Differencer.MaxPairInterval})
	if err != nil {
		return nil, err
	}
	agg, err := NewAggregator(cfg.Aggregator)
	if err != nil {
		return nil, err
	}
	if cfg.SmoothingWindow < 1 {
		return nil, fmt.Errorf("%w: smoothing window must be at least 1, got %d", ErrInvalidConfig, cfg.SmoothingWindow)
	}

	s := &Service{
		source:    source,
		diff:      diff,
		roseDiff:  roseDiff,
		agg:       agg,
		smoothing: cfg.SmoothingWindow,
		log:       slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Compute runs the filter, differencing and aggregation stages over an
// in-memory snapshot. It performs no I/O: the same inputs always produce the
// same Profile. reference may be nil.
func (s *Service) Compute(reports []PositionReport, reference *coordinates.Geographic, req ProfileRequest) Profile {
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	p := Profile{
		ID:         normalizeID(req.ID),
		Source:     req.Source.String(),
		Mode:       req.Mode.String(),
		Convention: req.Convention.String(),
		Units:      req.Convention.Units(),
		Bins:       []Bin{},
	}
	if req.Mode == Aggregated {
		p.BinSize = s.agg.Config().BinSize
	}

	cfg := FilterConfig{
		Since:  req.Since,
		Window: req.Window,
		Now:    now,
		Source: req.Source,
	}
	if reference != nil && req.MaxDistanceKm > 0 {
		ref := *reference
		cfg.Reference = &ref
		cfg.MaxDistanceKm = req.MaxDistanceKm
		p.Reference = &ref
	}

	filtered, fstats := ApplyFilters(reports, cfg)
	p.Filter = fstats

	vectors, dstats := s.diff.Difference(filtered, req.Source, req.Convention)
	p.Pairs = dstats

	if req.Mode == Raw {
		p.Bins = RawBins(vectors)
	} else {
		p.Bins = SortedBins(s.agg.Aggregate(vectors))
	}
	return p
}

// Profile fetches the reports of req.ID (and of the reference trajectory when
// distance filtering is requested) and computes its wind profile.
//
// Without an explicit cutoff the tracking session start is used. When there
// is no session and no History, the profile is empty.
func (s *Service) Profile(ctx context.Context, req ProfileRequest) (Profile, error) {
	req.ID = normalizeID(req.ID)
	if req.Now.IsZero() {
		req.Now = s.now()
	}

	since, ok, err := s.cutoff(ctx, req)
	if err != nil {
		return Profile{}, err
	}
	if !ok {
		s.log.DebugContext(ctx, "no tracking session, returning empty profile", slog.String("id", req.ID))
		return s.Compute(nil, nil, req), nil
	}
	req.Since = since

	reports, err := s.source.PositionReports(ctx, req.ID, since)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load reports for %s: %w", req.ID, err)
	}

	var reference *coordinates.Geographic
	if req.ReferenceID != "" && req.MaxDistanceKm > 0 {
		ref, found, err := s.source.LatestPositionReport(ctx, normalizeID(req.ReferenceID))
		if err != nil {
			return Profile{}, fmt.Errorf("failed to resolve reference %s: %w", req.ReferenceID, err)
		}
		if found && ref.HasPosition() {
			pos := ref.Position()
			reference = &pos
		} else {
			s.log.DebugContext(ctx, "reference has no position, distance filter disabled",
				slog.String("reference", req.ReferenceID))
		}
	}

	p := s.Compute(reports, reference, req)
	s.log.DebugContext(ctx, "wind profile computed",
		slog.String("id", p.ID),
		slog.String("mode", p.Mode),
		slog.Int("reports", p.Filter.Input),
		slog.Int("kept", p.Filter.Kept),
		slog.Int("vectors", p.Pairs.Emitted),
		slog.Any("rejected", p.Pairs.Rejected),
		slog.Int("bins", len(p.Bins)),
	)
	return p, nil
}

func (s *Service) cutoff(ctx context.Context, req ProfileRequest) (time.Time, bool, error) {
	if !req.Since.IsZero() {
		return req.Since, true, nil
	}
	start, ok, err := s.source.SessionStart(ctx, req.ID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load session for %s: %w", req.ID, err)
	}
	if ok {
		return start, true, nil
	}
	if req.History > 0 {
		return req.Now.Add(-req.History), true, nil
	}
	return time.Time{}, false, nil
}

// RoseRequest describes a wind rose computation.
type RoseRequest struct {
	ID      string
	Source  AltitudeSource
	History time.Duration // defaults to DefaultRoseHistory

	// AltitudeMin and AltitudeMax bound the reports considered, inclusive.
	AltitudeMin *float64
	AltitudeMax *float64

	Now time.Time
}

// Rose builds the wind rose of req.ID over the last History.
func (s *Service) Rose(ctx context.Context, req RoseRequest) (WindRose, error) {
	id := normalizeID(req.ID)
	history := req.History
	if history <= 0 {
		history = DefaultRoseHistory
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	reports, err := s.source.PositionReports(ctx, id, now.Add(-history))
	if err != nil {
		return WindRose{}, fmt.Errorf("failed to load reports for %s: %w", id, err)
	}
	reports = WithinAltitude(reports, req.Source, req.AltitudeMin, req.AltitudeMax)

	vectors, _ := s.roseDiff.Difference(reports, req.Source, TrajectoryAsWind)
	return BuildWindRose(vectors), nil
}

// VerticalRequest describes a vertical velocity computation.
type VerticalRequest struct {
	ID      string
	Source  AltitudeSource
	History time.Duration // defaults to DefaultVerticalHistory
	Now     time.Time
}

// Vertical estimates the ascent rate of req.ID over the last History.
func (s *Service) Vertical(ctx context.Context, req VerticalRequest) ([]VerticalSample, error) {
	id := normalizeID(req.ID)
	history := req.History
	if history <= 0 {
		history = DefaultVerticalHistory
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}

	reports, err := s.source.PositionReports(ctx, id, now.Add(-history))
	if err != nil {
		return nil, fmt.Errorf("failed to load reports for %s: %w", id, err)
	}
	return EstimateVerticalVelocity(reports, req.Source, s.smoothing), nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
