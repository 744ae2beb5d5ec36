// Command ormserver runs the operational-risk capital engine API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/logicthinker/orm-capital-engine/infrastructure/config"
	"github.com/logicthinker/orm-capital-engine/infrastructure/database"
	"github.com/logicthinker/orm-capital-engine/infrastructure/metrics"
	"github.com/logicthinker/orm-capital-engine/internal/api"
	"github.com/logicthinker/orm-capital-engine/internal/engine"
	"github.com/logicthinker/orm-capital-engine/internal/services/analytics"
	"github.com/logicthinker/orm-capital-engine/internal/services/calculations"
	"github.com/logicthinker/orm-capital-engine/internal/services/consolidation"
	"github.com/logicthinker/orm-capital-engine/internal/services/jobs"
	"github.com/logicthinker/orm-capital-engine/internal/services/lineage"
	"github.com/logicthinker/orm-capital-engine/internal/services/losses"
	"github.com/logicthinker/orm-capital-engine/internal/services/overrides"
	"github.com/logicthinker/orm-capital-engine/internal/services/parameters"
	storagepg "github.com/logicthinker/orm-capital-engine/internal/storage/postgres"

	"github.com/logicthinker/orm-capital-engine/internal/storage"
	"github.com/logicthinker/orm-capital-engine/pkg/fixedpoint"
	"github.com/logicthinker/orm-capital-engine/pkg/logger"
)

// runtime bundles every long-lived handle. Constructed once at startup; no
// package-level singletons.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	store   storage.Store
	jobs    *jobs.Service
	server  *http.Server
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ormserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("ormserver", logger.Config(cfg.Logging))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", rt.server.Addr).Info("serving")
		if err := rt.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := rt.server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	rt.jobs.Shutdown()
	return nil
}

func build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*runtime, error) {
	var store storage.Store
	if cfg.Database.DSN != "" {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		pg, err := storagepg.NewStore(ctx, db)
		if err != nil {
			return nil, err
		}
		store = pg
	} else {
		log.Warn("no database DSN configured; using the in-memory store")
		store = storage.NewMemory()
	}

	m := metrics.New("orm-capital-engine")

	paramSvc := parameters.NewService(store, log)
	if err := paramSvc.Seed(ctx); err != nil {
		return nil, fmt.Errorf("seed parameters: %w", err)
	}

	threshold := fixedpoint.MustParse("10000000")
	if snap, err := paramSvc.GetActive(ctx, "sma"); err == nil {
		threshold = snap.Number(engine.ParamMinLossThreshold, threshold)
	}

	lossSvc := losses.NewService(store, threshold, log)
	overrideSvc := overrides.NewService(store, log)
	lineageSvc := lineage.NewService(store, store, log)
	consolidationSvc := consolidation.NewService(store, store, log)
	analyticsSvc := analytics.NewService(lossSvc, log)
	calcSvc := calculations.NewService(store, paramSvc, lossSvc, overrideSvc, lineageSvc, log)

	webhook := jobs.NewWebhookDeliverer(cfg.Jobs, m, log)
	jobSvc := jobs.NewService(store, calcSvc, webhook, cfg.Jobs, m, log)
	if err := jobSvc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	server := api.NewServer(cfg, store, jobSvc, lossSvc, paramSvc, overrideSvc,
		consolidationSvc, lineageSvc, analyticsSvc, m, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &runtime{
		cfg:    cfg,
		log:    log,
		store:  store,
		jobs:   jobSvc,
		server: httpServer,
	}, nil
}
