package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/movimentacao/internal/config"
	"github.com/JonMunkholm/movimentacao/internal/core"
	"github.com/JonMunkholm/movimentacao/internal/logging"
	"github.com/JonMunkholm/movimentacao/internal/metrics"
	"github.com/JonMunkholm/movimentacao/internal/staging"
	"github.com/JonMunkholm/movimentacao/internal/web"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"staging_enabled", cfg.Staging.Enabled,
		"staging_driver", cfg.Staging.Driver,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Staging store for large imports
	var store staging.Store
	if cfg.Staging.Enabled {
		store, err = staging.Open(ctx, cfg.Staging.Driver, cfg.Staging.DSN)
		if err != nil {
			slog.Error("failed to open staging store", "driver", cfg.Staging.Driver, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		slog.Info("staging store opened", "driver", cfg.Staging.Driver)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		slog.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	svcCfg := core.ServiceConfig{
		StagingThreshold:     cfg.Staging.Threshold,
		StagingChunkSize:     cfg.Staging.ChunkSize,
		StagingMaxAge:        cfg.Staging.MaxAge,
		ImportTimeout:        cfg.Import.Timeout,
		MaxImportSize:        cfg.Import.MaxFileSize,
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		MaxImportWait:        cfg.Import.MaxWaitTime,
		ChunkSize:            cfg.Import.ChunkSize,
		ParallelThreshold:    cfg.Import.ParallelThreshold,
		Workers:              cfg.Import.Workers,
		WorkspaceTTL:         cfg.Import.WorkspaceTTL,
		Recorder:             m,
		Staging:              store,
	}
	service := core.NewService(svcCfg)
	reg.MustRegister(metrics.NewLimiterCollector(service.LimiterStatus))

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler(reg)
	}

	// Create server with config
	server := web.NewServer(service, cfg, metricsHandler)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartJanitor(jobCtx, cfg.Staging.JanitorInterval)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Cancel running imports and wait for their slots to drain
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for imports to stop", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not stop in time", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
