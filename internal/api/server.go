// Package api serves windaloft's REST API: wind profiles, roses and vertical
// velocity for tracked objects, plus report ingestion and session control.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/unklstewy/windaloft/internal/auth"
	"github.com/unklstewy/windaloft/internal/db"
	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/internal/observability"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// ProfileService computes wind products; *wind.Service implements it.
type ProfileService interface {
	Profile(ctx context.Context, req wind.ProfileRequest) (wind.Profile, error)
	Rose(ctx context.Context, req wind.RoseRequest) (wind.WindRose, error)
	Vertical(ctx context.Context, req wind.VerticalRequest) ([]wind.VerticalSample, error)
}

// ReportStore persists ingested reports.
type ReportStore interface {
	InsertReports(ctx context.Context, reports []wind.PositionReport) (int, error)
}

// TrackedStore manages tracked objects and their sessions.
type TrackedStore interface {
	StartSession(ctx context.Context, id string, at time.Time) (*db.TrackedObject, error)
	Get(ctx context.Context, id string) (*db.TrackedObject, error)
	List(ctx context.Context, activeOnly bool) ([]db.TrackedObject, error)
}

// BinStore reads persisted wind bins.
type BinStore interface {
	History(ctx context.Context, id string, since time.Time) ([]db.StoredBin, error)
}

// TokenValidator checks bearer tokens; *auth.Service implements it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Config holds the HTTP surface settings.
type Config struct {
	// CORSOrigins lists allowed browser origins; empty allows all
	CORSOrigins []string

	// RequestsPerSecond and Burst configure the server-wide rate limiter.
	// 0 disables limiting.
	RequestsPerSecond float64
	Burst             int

	// MaxBodyBytes caps ingestion request bodies
	MaxBodyBytes int64

	// DefaultSource is used when a request names no altitude source
	DefaultSource wind.AltitudeSource

	// AuthDisabled opens the write routes to unauthenticated clients
	AuthDisabled bool
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Profiles ProfileService
	Reports  ReportStore
	Tracked  TrackedStore
	Bins     BinStore

	// Auth validates bearer tokens on write routes. When nil and auth is
	// not disabled, write routes reject every request.
	Auth TokenValidator

	// Health is polled by GET /health; nil always reports healthy
	Health func(ctx context.Context) error

	Metrics *observability.Collector
	Logger  logging.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router  *chi.Mux
	cfg     Config
	deps    Deps
	log     logging.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.deps.Metrics.Middleware)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Route("/wind/{id}", func(r chi.Router) {
			r.Get("/profile", s.handleProfile)
			r.Get("/rose", s.handleRose)
			r.Get("/vertical", s.handleVertical)
			r.Get("/history", s.handleHistory)
		})

		r.With(
			s.requireRole(auth.RoleFeeder),
			middleware.AllowContentType("application/json"),
		).Post("/reports", s.handleIngest)

		r.Get("/tracked", s.handleListTracked)
		r.Get("/tracked/{id}", s.handleGetTracked)
		r.With(s.requireRole(auth.RoleOperator)).Post("/tracked/{id}/session", s.handleStartSession)
	})
}
