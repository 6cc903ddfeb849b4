package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/oakmere/drguard/internal/alerting"
	"github.com/oakmere/drguard/internal/api"
	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/config"
	"github.com/oakmere/drguard/internal/database"
	"github.com/oakmere/drguard/internal/dr"
	"github.com/oakmere/drguard/internal/events"
	"github.com/oakmere/drguard/internal/health"
	"github.com/oakmere/drguard/internal/metrics"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	regions, err := database.OpenRegions(cfg.Database, cfg.DR.PrimaryRegion, cfg.DR.SecondaryRegion)
	if err != nil {
		logger.Fatal("open region databases", zap.Error(err))
	}
	defer func() { _ = regions.Close() }()

	prober := health.NewProber(regions, cfg.DR.HealthCheckTimeout, logger)

	backupMgr := backup.NewManager(cfg.Backup, func(ctx context.Context, opts backup.RestoreOptions) error {
		// Restore lands in the currently active region's database;
		// a reachable connection is the minimum bar for it.
		logger.Info("restoring from backup",
			zap.String("backup_id", opts.BackupID),
			zap.Bool("documents", opts.RestoreDocuments),
			zap.Bool("configuration", opts.RestoreConfiguration))
		return regions.Ping(ctx, cfg.DR.PrimaryRegion)
	}, logger)

	var base alerting.Alerter = alerting.NewLogAlerter(logger)
	if cfg.Alerting.WebhookURL != "" {
		base = alerting.NewMultiAlerter(
			alerting.NewWebhookAlerter(cfg.Alerting.WebhookURL, cfg.Alerting.Timeout),
			base,
		)
	}
	alerter := alerting.NewThrottledAlerter(base, cfg.Alerting.MinInterval, cfg.Alerting.BurstAllowance, logger)

	bus := events.NewSimpleBus()
	m := metrics.New()

	orch, err := dr.New(cfg.DR, prober, dr.NewLoggingDriver(logger), backupMgr, alerter, bus, m, logger)
	if err != nil {
		logger.Fatal("wire orchestrator", zap.Error(err))
	}

	ctx := context.Background()
	if err := orch.Initialize(ctx); err != nil {
		logger.Fatal("initialize orchestrator", zap.Error(err))
	}

	server := api.NewServer(cfg, logger, orch, bus, m.Handler())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		if err := orch.Cleanup(); err != nil {
			logger.Error("orchestrator cleanup", zap.Error(err))
		}
	}()

	logger.Info("drguard started",
		zap.Int("port", cfg.Server.Port),
		zap.String("primary_region", cfg.DR.PrimaryRegion),
		zap.String("secondary_region", cfg.DR.SecondaryRegion),
		zap.Bool("auto_failover", cfg.DR.AutoFailover))

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := os.Getenv("DRGUARD_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
