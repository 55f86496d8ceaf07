package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
	"github.com/JonMunkholm/nashingest/internal/analytics"
	"github.com/JonMunkholm/nashingest/internal/config"
	"github.com/JonMunkholm/nashingest/internal/ingest"
	"github.com/JonMunkholm/nashingest/internal/logging"
	"github.com/JonMunkholm/nashingest/internal/nash"
	"github.com/JonMunkholm/nashingest/internal/registry"
	"github.com/JonMunkholm/nashingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"data_dir", cfg.Storage.DataDir,
		"uploads_dir", cfg.Storage.UploadsDir,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create directory", "dir", dir, "error", err)
			os.Exit(1)
		}
	}

	allow := allowlist.NewHolder(allowlist.Load(cfg.Storage.AllowlistPath, cfg.Storage.AllowlistSheet, logger))

	stores := registry.NewStores(cfg.Storage.StoreRegistryPath(), allow, logger)
	rateCards := registry.NewRateCards(cfg.Storage.RateCardsPath(), logger)

	limiter := ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime)
	orch, err := ingest.New(ingest.Options{
		Dir:         cfg.Storage.UploadsDir,
		MaxFileSize: cfg.Upload.MaxFileSize,
		Validator:   nash.NewValidator(allow, logger),
		Stores:      stores,
		Limiter:     limiter,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create upload orchestrator", "error", err)
		os.Exit(1)
	}

	svc := analytics.NewService(analytics.Config{
		Runner: &analytics.ProcessRunner{
			Python:       cfg.Analytics.Python,
			ModulePrefix: cfg.Analytics.ModulePrefix,
			WorkDir:      cfg.Analytics.WorkDir,
			PythonPath:   cfg.Analytics.PythonPath,
			Logger:       logger,
		},
		Uploads:   orch,
		Stores:    stores,
		RateCards: rateCards,
		TempDir:   cfg.Storage.TempDir,
		Timeout:   cfg.Analytics.Timeout,
		Logger:    logger,
	})

	server := web.NewServer(cfg, web.Deps{
		Uploads:   orch,
		Stores:    stores,
		RateCards: rateCards,
		Analytics: svc,
		Allowlist: allow,
	}, logger)

	jobCtx, cancelJobs := context.WithCancel(context.Background())

	if cfg.Sweeper.Enabled {
		sweeper := ingest.NewSweeper(ingest.SweeperConfig{
			Interval: cfg.Sweeper.Interval,
			MaxAge:   cfg.Sweeper.MaxAge,
		}, logger,
			orch.StagingTarget(),
			ingest.SweepTarget{Dir: svc.TempDir(), Prefix: analytics.TempPrefix},
		)
		go sweeper.Run(jobCtx)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := limiter.Active(); active > 0 {
			logger.Info("waiting for uploads to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				logger.Warn("uploads did not complete in time", "error", err)
			} else {
				logger.Info("all uploads completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
