package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/windaloft/internal/db"
	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/internal/observability"
	"github.com/unklstewy/windaloft/internal/worker"
	"github.com/unklstewy/windaloft/pkg/config"
	"github.com/unklstewy/windaloft/pkg/wind"
)

// windaloft-worker recomputes and persists wind profiles in the background
// so that several API replicas share the same history, and enforces
// retention.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9102", "Address for the Prometheus endpoint (empty disables it)")
	bothSources := flag.Bool("both-sources", false, "Compute profiles for barometric and geometric altitude")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *metricsAddr, *bothSources); err != nil {
		logging.NewFromEnv().Error(context.Background(), "worker exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, metricsAddr string, bothSources bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.Info(ctx, "starting wind worker",
		logging.Duration("update_interval", cfg.Worker.UpdateInterval()),
		logging.Duration("lookback", cfg.Worker.Lookback()),
		logging.Duration("max_data_age", cfg.Retention.MaxDataAge()),
	)

	// 0 retries: keep trying until the signal arrives
	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 0, 2*time.Second, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		return err
	}

	svc, err := wind.NewService(db.NewReportRepository(database), cfg.Wind.ServiceConfig(), wind.WithLogger(logging.Slog(log)))
	if err != nil {
		return err
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}

	sources := []wind.AltitudeSource{cfg.Wind.AltitudeSource()}
	if bothSources {
		sources = []wind.AltitudeSource{wind.Barometric, wind.Geometric}
	}

	w, err := worker.New(worker.Config{
		UpdateInterval:  cfg.Worker.UpdateInterval(),
		CleanupInterval: cfg.Retention.CleanupInterval(),
		Lookback:        cfg.Worker.Lookback(),
		MaxDataAge:      cfg.Retention.MaxDataAge(),
		Sources:         sources,
	}, worker.Deps{
		Profiles:   svc,
		Objects:    db.NewTrackedRepository(database),
		Bins:       db.NewWindBinRepository(database),
		Maintainer: database,
		Metrics:    metrics,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              metricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info(ctx, "metrics listening", logging.String("addr", metricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "metrics server failed", logging.Err(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	err = w.Run(ctx)

	stats := w.Stats()
	log.Info(context.Background(), "worker stopped",
		logging.Int("updates", stats.Updates),
		logging.Int("profiles", stats.Profiles),
		logging.Int("failures", stats.Failures),
		logging.Int("cleanups", stats.Cleanups),
	)
	return err
}
