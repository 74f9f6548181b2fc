// Package main is the entry point for the harvest data acquisition
// pipeline. The harvester pulls equity fundamentals and daily prices from
// a configurable provider waterfall, derives valuation ratios and
// technical indicators, and serves a small status API.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/harvest/internal/batch"
	"github.com/aristath/harvest/internal/clientdata"
	"github.com/aristath/harvest/internal/config"
	"github.com/aristath/harvest/internal/domain"
	"github.com/aristath/harvest/internal/indicators"
	"github.com/aristath/harvest/internal/pipeline"
	"github.com/aristath/harvest/internal/pricecheck"
	"github.com/aristath/harvest/internal/providers"
	"github.com/aristath/harvest/internal/ratelimit"
	"github.com/aristath/harvest/internal/reliability"
	"github.com/aristath/harvest/internal/retry"
	"github.com/aristath/harvest/internal/server"
	"github.com/aristath/harvest/internal/storage"
	"github.com/aristath/harvest/internal/waterfall"
	"github.com/aristath/harvest/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run one pipeline cycle and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting harvester")

	// Main database: snapshots, prices, derived data, quota state.
	mainDB, err := storage.New(storage.Config{
		Path: filepath.Join(cfg.DataDir, "harvest.db"),
		Name: "harvest",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open harvest database")
	}
	defer mainDB.Close()
	if err := mainDB.InitSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	// Cache database: raw provider payloads, replaceable at any time.
	cacheDB, err := storage.New(storage.Config{
		Path: filepath.Join(cfg.DataDir, "client_data.db"),
		Name: "client_data",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()
	if err := cacheDB.InitCacheSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize cache schema")
	}

	payloadCache := clientdata.NewRepository(cacheDB.Conn())
	if removed, err := payloadCache.CleanupExpired(); err == nil && removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Cleaned expired cache entries")
	}

	// Quota tracker, seeded with persisted usage from previous runs.
	tracker := ratelimit.NewTracker(log)
	for _, provider := range cfg.Providers.Providers {
		quotas := make([]ratelimit.AccountQuota, 0, len(provider.Accounts))
		for _, account := range provider.Accounts {
			quotas = append(quotas, ratelimit.AccountQuota{
				Name:      account.Name,
				PerMinute: account.PerMinute,
				PerDay:    account.PerDay,
			})
		}
		tracker.Register(provider.Name, quotas)
	}

	quotaRepo := storage.NewQuotaRepository(mainDB.Conn(), log)
	if err := quotaRepo.RestoreInto(tracker); err != nil {
		log.Warn().Err(err).Msg("Failed to restore quota state, starting fresh")
	}

	adapters := buildAdapters(cfg, payloadCache, log)
	if len(adapters) == 0 {
		log.Fatal().Msg("No usable providers configured")
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Batch.RetryAttempts,
		Delay:       cfg.RetryDelay(),
	}
	manager := waterfall.NewManager(adapters, tracker, requiredFields(cfg, log), policy, log)

	svc := pipeline.New(pipeline.Deps{
		Acquirer:     manager,
		Orchestrator: batch.NewOrchestrator(log),
		Validator:    pricecheck.NewValidator(log),
		Engine:       indicators.NewEngine(log),
		Snapshots:    storage.NewSnapshotRepository(mainDB.Conn(), log),
		Prices:       storage.NewPriceRepository(mainDB.Conn(), log),
		Derived:      storage.NewDerivedRepository(mainDB.Conn(), log),
		QuotaStore:   quotaRepo,
		QuotaSource:  tracker,
	}, batch.Options{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		BatchSize:      cfg.Batch.Size,
		BatchPause:     cfg.BatchPause(),
		Policy:         policy,
	}, cfg.HistoryDays, log)

	var backupSvc *reliability.BackupService
	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize backup client, backups disabled")
		} else {
			backupSvc = reliability.NewBackupService(s3Client, map[string]*sql.DB{
				"harvest":     mainDB.Conn(),
				"client_data": cacheDB.Conn(),
			}, cfg.DataDir, log)
		}
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The manual-run endpoint needs the cycle function, which needs the
	// status handlers; the indirection breaks the cycle.
	var runCycle func()
	srv := server.New(server.Config{
		Log:     log,
		Port:    cfg.Port,
		DataDir: cfg.DataDir,
		Quotas:  tracker,
		RunFunc: func() { runCycle() },
	})
	status := srv.StatusHandlers()

	runCycle = func() {
		status.SetRunning(true)
		defer status.SetRunning(false)

		report := svc.RunDaily(rootCtx, cfg.Tickers)
		status.SetLastReport(report)

		if backupSvc != nil {
			backupCtx, backupCancel := context.WithTimeout(rootCtx, 10*time.Minute)
			defer backupCancel()
			if err := backupSvc.CreateAndUploadBackup(backupCtx); err != nil {
				log.Error().Err(err).Msg("Backup failed")
			} else if err := backupSvc.RotateOldBackups(backupCtx, 30); err != nil {
				log.Error().Err(err).Msg("Backup rotation failed")
			}
		}
	}

	if *once {
		runCycle()
		log.Info().Msg("Single run complete")
		return
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	scheduler := cron.New(cron.WithSeconds())
	if _, err := scheduler.AddFunc(cfg.Schedule, runCycle); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Schedule).Msg("Invalid schedule")
	}
	scheduler.Start()
	log.Info().Str("schedule", cfg.Schedule).Int("tickers", len(cfg.Tickers)).Msg("Scheduler started")

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}

// buildAdapters constructs provider adapters in configured priority order.
func buildAdapters(cfg *config.Config, cache providers.PayloadCache, log zerolog.Logger) []providers.Adapter {
	var adapters []providers.Adapter
	for _, provider := range cfg.Providers.Providers {
		keys := make(map[string]string, len(provider.Accounts))
		for _, account := range provider.Accounts {
			keys[account.Name] = account.APIKey
		}

		switch provider.Name {
		case "yahoo":
			adapters = append(adapters, providers.NewYahooClient(log))
		case "alphavantage":
			client := providers.NewAlphaVantageClient(keys, log)
			client.SetCache(cache)
			adapters = append(adapters, client)
		case "fmp":
			adapters = append(adapters, providers.NewFMPClient(keys, log))
		}
	}
	return adapters
}

// requiredFields parses the configured field names, dropping unknown ones
// with a warning. An empty result means "all canonical fields".
func requiredFields(cfg *config.Config, log zerolog.Logger) []domain.Field {
	var fields []domain.Field
	for _, name := range cfg.RequiredFields {
		if !domain.IsValidField(domain.Field(name)) {
			log.Warn().Str("field", name).Msg("Unknown required field in configuration, ignoring")
			continue
		}
		fields = append(fields, domain.Field(name))
	}
	return fields
}
