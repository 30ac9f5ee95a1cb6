package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"garbanzo/internal/backend"
	"garbanzo/internal/cache"
	"garbanzo/internal/cli"
	"garbanzo/internal/core"
	apphttp "garbanzo/internal/http"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	grain, _ := core.ParseGrain(cfg.DefaultGrain)
	dash := services.NewDashboardService(
		res.Source,
		res.Store,
		res.Publisher(),
		cache.NewManager(logger.Logger),
		logger,
		services.DashboardConfig{
			Grain:     grain,
			Depth:     cfg.AccountDepth,
			Segments:  cfg.StackSegments,
			CacheSize: cfg.CacheSize,
			CacheTTL:  cfg.CacheTTL,
			Retention: cfg.SnapshotRetention,
		},
	)

	// A failed first load leaves the server up but not ready; the next
	// reload or watch tick can recover.
	if _, err := dash.Reload(context.Background()); err != nil {
		logger.Error("Initial ledger load failed", log.FieldError, err, log.FieldOperation, log.OpStartup)
	}

	srv := apphttp.NewServer(":"+cfg.Port, dash, logger, apphttp.Options{})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err)
		}
	})

	go dash.Watch(ctx, cfg.ReloadInterval)

	logger.Info("Starting garbanzo server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"source", res.Source.Describe(),
		"reload_interval", cfg.ReloadInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
