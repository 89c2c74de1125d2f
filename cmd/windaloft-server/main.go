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

	"github.com/unklstewy/windaloft/internal/api"
	"github.com/unklstewy/windaloft/internal/auth"
	"github.com/unklstewy/windaloft/internal/db"
	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/internal/observability"
	"github.com/unklstewy/windaloft/pkg/config"
	"github.com/unklstewy/windaloft/pkg/wind"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

// windaloft-server answers wind profile queries and ingests position
// snapshots over HTTP.
func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logging.NewFromEnv().Error(context.Background(), "server exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
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
	log.Info(ctx, "starting wind server", logging.String("config", *configPath))

	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 5, 2*time.Second, log)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		return err
	}

	reports := db.NewReportRepository(database)
	svc, err := wind.NewService(reports, cfg.Wind.ServiceConfig(), wind.WithLogger(logging.Slog(log)))
	if err != nil {
		return err
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		return err
	}

	var authSvc api.TokenValidator
	switch {
	case cfg.Auth.Disabled:
		log.Warn(ctx, "authentication disabled, write routes are open")
	case cfg.Auth.JWTSecret == "":
		log.Warn(ctx, "auth.jwt_secret not set, write routes will reject every request")
	default:
		tokens, err := auth.NewService(auth.Config{
			JWTSecret:     cfg.Auth.JWTSecret,
			TokenDuration: cfg.Auth.TokenDuration(),
		})
		if err != nil {
			return err
		}
		authSvc = tokens
	}

	srv := api.NewServer(api.Config{
		CORSOrigins:       cfg.Server.CORSOrigins,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		DefaultSource:     cfg.Wind.AltitudeSource(),
		AuthDisabled:      cfg.Auth.Disabled,
	}, api.Deps{
		Profiles: svc,
		Reports:  reports,
		Tracked:  db.NewTrackedRepository(database),
		Bins:     db.NewWindBinRepository(database),
		Auth:     authSvc,
		Health: func(ctx context.Context) error {
			return db.HealthCheck(ctx, database)
		},
		Metrics: metrics,
		Logger:  log,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", logging.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}
