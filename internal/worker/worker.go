// Package worker periodically recomputes and persists the wind profiles of
// recently seen objects and enforces data retention.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unklstewy/windaloft/internal/db"
	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/internal/observability"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// Profiler computes wind profiles; *wind.Service implements it.
type Profiler interface {
	Profile(ctx context.Context, req wind.ProfileRequest) (wind.Profile, error)
}

// ObjectLister finds objects worth recomputing.
type ObjectLister interface {
	SeenSince(ctx context.Context, since time.Time) ([]string, error)
}

// BinWriter persists aggregated bins.
type BinWriter interface {
	UpsertBins(ctx context.Context, id string, source wind.AltitudeSource, bins []wind.Bin, computedAt time.Time) error
}

// Maintainer enforces retention and reports table sizes.
type Maintainer interface {
	CleanupOldData(ctx context.Context, maxAge time.Duration) (db.CleanupResult, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Config controls the worker's schedule.
type Config struct {
	UpdateInterval  time.Duration
	CleanupInterval time.Duration

	// Lookback selects objects seen this recently, and is the profile
	// history used when an object has no tracking session.
	Lookback time.Duration

	MaxDataAge time.Duration

	// Sources lists the altitude sources profiles are computed for
	Sources []wind.AltitudeSource
}

// Deps are the worker's collaborators.
type Deps struct {
	Profiles   Profiler
	Objects    ObjectLister
	Bins       BinWriter
	Maintainer Maintainer
	Metrics    *observability.Collector
	Logger     logging.Logger
}

// Stats summarizes the worker's activity.
type Stats struct {
	Updates     int       `json:"updates"`
	Profiles    int       `json:"profiles"`
	Failures    int       `json:"failures"`
	Cleanups    int       `json:"cleanups"`
	LastUpdate  time.Time `json:"last_update"`
	LastCleanup time.Time `json:"last_cleanup"`
}

// Worker owns the recompute and retention loops.
type Worker struct {
	cfg  Config
	deps Deps
	log  logging.Logger
	now  func() time.Time

	mu    sync.Mutex
	stats Stats
	known map[string]bool
}

// New validates cfg and builds a worker.
func New(cfg Config, deps Deps) (*Worker, error) {
	if deps.Profiles == nil || deps.Objects == nil || deps.Bins == nil || deps.Maintainer == nil {
		return nil, errors.New("worker: missing dependency")
	}
	if cfg.UpdateInterval <= 0 || cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("worker: intervals must be positive (update %v, cleanup %v)",
			cfg.UpdateInterval, cfg.CleanupInterval)
	}
	if cfg.Lookback <= 0 || cfg.MaxDataAge <= 0 {
		return nil, fmt.Errorf("worker: lookback and max data age must be positive")
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []wind.AltitudeSource{wind.Barometric}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}

	return &Worker{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger,
		now:   func() time.Time { return time.Now().UTC() },
		known: make(map[string]bool),
	}, nil
}

// Run performs an immediate update and then loops until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.UpdateInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	w.Update(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Update(ctx)
		case <-cleanupTicker.C:
			w.Cleanup(ctx)
		}
	}
}

// Update recomputes and stores the aggregated profile of every object seen
// within the lookback, for each configured altitude source. A failure for
// one object doesn't stop the others. Returns the number of profiles stored.
func (w *Worker) Update(ctx context.Context) (stored int) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error(ctx, "panic in update, will retry next cycle", logging.Any("panic", r))
		}
	}()

	now := w.now()
	ids, err := w.deps.Objects.SeenSince(ctx, now.Add(-w.cfg.Lookback))
	if err != nil {
		w.log.Error(ctx, "failed to list recent objects", logging.Err(err))
		w.record(func(s *Stats) { s.Updates++; s.Failures++ })
		return 0
	}

	failures := 0
	for _, id := range ids {
		for _, source := range w.cfg.Sources {
			if err := w.updateOne(ctx, id, source, now); err != nil {
				failures++
				w.log.Warn(ctx, "profile update failed",
					logging.String("id", id),
					logging.String("source", source.String()),
					logging.Err(err),
				)
				continue
			}
			stored++
		}
	}

	w.forgetStale(ids)
	w.record(func(s *Stats) {
		s.Updates++
		s.Profiles += stored
		s.Failures += failures
		s.LastUpdate = now
	})

	w.log.Info(ctx, "profiles updated",
		logging.Int("objects", len(ids)),
		logging.Int("stored", stored),
		logging.Int("failed", failures),
	)
	return stored
}

func (w *Worker) updateOne(ctx context.Context, id string, source wind.AltitudeSource, now time.Time) error {
	p, err := w.deps.Profiles.Profile(ctx, wind.ProfileRequest{
		ID:         id,
		Source:     source,
		Mode:       wind.Aggregated,
		Convention: wind.TrajectoryAsWind,
		History:    w.cfg.Lookback,
		Now:        now,
	})
	if err != nil {
		return err
	}
	w.deps.Metrics.RecordProfile(p)

	if len(p.Bins) == 0 {
		return nil
	}
	return db.WithRetry(ctx, func(ctx context.Context) error {
		return w.deps.Bins.UpsertBins(ctx, id, source, p.Bins, now)
	}, 2)
}

// forgetStale drops metrics series of objects that left the lookback.
func (w *Worker) forgetStale(ids []string) {
	current := make(map[string]bool, len(ids))
	for _, id := range ids {
		current[id] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.known {
		if !current[id] {
			w.deps.Metrics.ForgetObject(id)
		}
	}
	w.known = current
}

// Cleanup deletes data older than MaxDataAge.
func (w *Worker) Cleanup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error(ctx, "panic in cleanup", logging.Any("panic", r))
		}
	}()

	res, err := w.deps.Maintainer.CleanupOldData(ctx, w.cfg.MaxDataAge)
	if err != nil {
		w.log.Error(ctx, "cleanup failed", logging.Err(err))
		return
	}
	w.record(func(s *Stats) {
		s.Cleanups++
		s.LastCleanup = w.now()
	})

	fields := []logging.Field{
		logging.Any("deleted_reports", res.Reports),
		logging.Any("deleted_bins", res.Bins),
		logging.Any("deleted_objects", res.Objects),
		logging.Any("deactivated", res.Deactivated),
	}
	if stats, err := w.deps.Maintainer.GetStats(ctx); err == nil {
		fields = append(fields, logging.Any("tables", stats))
	}
	w.log.Info(ctx, "cleanup completed", fields...)
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Worker) record(fn func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}
