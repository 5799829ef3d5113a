package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tonwatch/service/config"
	"github.com/brojonat/tonwatch/service/db"
	"github.com/brojonat/tonwatch/service/metrics"
	natspkg "github.com/brojonat/tonwatch/service/nats"
	"github.com/brojonat/tonwatch/service/query"
	"github.com/brojonat/tonwatch/service/server"
	syncpkg "github.com/brojonat/tonwatch/service/sync"
	"github.com/brojonat/tonwatch/service/temporal"
	"github.com/brojonat/tonwatch/service/ton"
	"github.com/brojonat/tonwatch/service/validate"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"account", cfg.MonitoredWallet,
		"provider", cfg.TONProvider,
		"log_level", cfg.LogLevel,
	)

	// Reject a malformed monitored address before anything connects
	if err := server.ValidateAddress(cfg.MonitoredWallet); err != nil {
		logger.Error("invalid MONITORED_WALLET", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize database store and run migrations
	store := db.NewStore(dbPool, metricsCollector)
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database schema up to date")

	// Initialize TON provider client
	tonClient, err := ton.NewClient(cfg.TONProvider, cfg.ProviderBaseURL(), nil, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create TON client", "error", err)
		os.Exit(1)
	}
	logger.Info("initialized TON provider client", "provider", cfg.TONProvider)

	// Initialize the transaction classifier from the configured constants
	validator := validate.NewWithConfig(validate.Config{
		BlockedOpcodes: append(validate.DefaultBlockedOpcodes(), cfg.ExtraBlockedOpcodes...),
		UnitExponent:   cfg.UnitExponent(),
	})

	// Initialize the synchronizer for the monitored account
	syncer, err := syncpkg.New(syncpkg.Config{
		Account:   cfg.MonitoredWallet,
		Client:    tonClient,
		Ledger:    store,
		Validator: validator,
		MinAmount: cfg.MinAmountTON,
		Metrics:   metricsCollector,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create synchronizer", "error", err)
		os.Exit(1)
	}

	// Initialize the read-side query service
	querySvc, err := query.New(query.Config{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create query service", "error", err)
		os.Exit(1)
	}

	// Initialize NATS publisher (optional: skipped when NATS_URL is empty)
	var publisher natspkg.Publisher
	if cfg.NATSURL != "" {
		jsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer jsPublisher.Close()
		publisher = jsPublisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, deposit events will not be published")
	}

	// Register the polling schedule for the monitored account (optional:
	// skipped when TEMPORAL_HOST is empty, in which case polling is
	// driven by the sync endpoint only)
	if cfg.TemporalHost != "" {
		temporalClient, err := temporal.NewClient(
			cfg.TemporalHost,
			cfg.TemporalNamespace,
			cfg.TemporalTaskQueue,
			logger,
		)
		if err != nil {
			logger.Error("failed to create temporal client", "error", err)
			os.Exit(1)
		}
		defer temporalClient.Close()

		if err := temporalClient.UpsertDepositSchedule(ctx, cfg.MonitoredWallet, cfg.DefaultFetchLimit, cfg.PollInterval); err != nil {
			logger.Error("failed to upsert deposit schedule", "error", err)
			os.Exit(1)
		}
		logger.Info("deposit polling schedule registered",
			"account", cfg.MonitoredWallet,
			"interval", cfg.PollInterval,
		)
	} else {
		logger.Warn("TEMPORAL_HOST not set, scheduled polling disabled")
	}

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, querySvc, syncer, tonClient, publisher, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"provider", cfg.TONProvider,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
