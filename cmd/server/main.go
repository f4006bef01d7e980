package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/api"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/backfill"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/config"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/processor"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/scheduler"
)

func main() {
	var (
		configPath string
		noBackfill bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.BoolVar(&noBackfill, "no-backfill", false, "Skip the startup CSV backfill")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Str("version", "0.1.0").Str("config", configPath).Msg("Starting swap tracker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker, err := processor.NewTracker(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start tracker")
	}
	defer tracker.Close()

	allow := pipeline.AllowAll()
	if len(cfg.Backfill.Wallets) > 0 {
		allow = pipeline.NewAllowlist(cfg.Backfill.Wallets)
	}

	webhook := api.NewWebhookHandler(ctx, tracker.Orchestrator, allow, cfg.Server.MaxInFlight, m, logger)
	server := api.NewServer(api.ServerOptions{
		WebhookPath: cfg.Server.WebhookPath,
		SigningKey:  cfg.Server.SigningKey,
		Webhook:     webhook,
		Health:      api.NewHealthChecker(tracker.DB, tracker.RPC, cfg.Chain.ChainID, logger),
		Metrics:     m,
	}, logger)

	jobs, err := scheduler.NewScheduler(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	if err := scheduleJobs(ctx, jobs, cfg, tracker, allow, noBackfill, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to schedule jobs")
	}
	jobs.Start()

	if err := server.Start(ctx, cfg.Server.Addr()); err != nil {
		logger.Error().Err(err).Msg("API server failed")
		stop()
	}

	jobs.Stop()
	webhook.Wait()
	logger.Info().Msg("Swap tracker stopped")
}

func scheduleJobs(
	ctx context.Context,
	jobs *scheduler.Scheduler,
	cfg *config.Config,
	tracker *processor.Tracker,
	allow pipeline.Allowlist,
	noBackfill bool,
	logger zerolog.Logger,
) error {
	if !noBackfill && cfg.Backfill.CSVPath != "" {
		if _, err := os.Stat(cfg.Backfill.CSVPath); errors.Is(err, fs.ErrNotExist) {
			logger.Warn().Str("path", cfg.Backfill.CSVPath).Msg("Backfill CSV not found; skipping startup backfill")
		} else {
			runner := backfill.NewRunner(tracker.Scanner, logger)
			path := cfg.Backfill.CSVPath
			err := jobs.AddStartupJob(ctx, "csv-backfill", func(ctx context.Context) error {
				return runner.RunFile(ctx, path)
			})
			if err != nil {
				return err
			}
		}
	}

	if cfg.Backfill.FollowInterval > 0 {
		follower := pipeline.NewFollower(tracker.RPC, tracker.Scanner, allow, logger)
		if err := jobs.AddIntervalJob(ctx, "head-follow", cfg.Backfill.FollowInterval, follower.Poll); err != nil {
			return err
		}
	}
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}
	return logger
}
