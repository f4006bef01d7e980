package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/backfill"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/config"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/processor"
)

func main() {
	var (
		configPath string
		csvPath    string
		fromBlock  uint64
		toBlock    uint64
		wallets    string
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&csvPath, "csv", "", "Backfill CSV with from,to,wallets rows (defaults to backfill.csv_path)")
	flag.Uint64Var(&fromBlock, "from", 0, "Starting block")
	flag.Uint64Var(&toBlock, "to", 0, "Ending block")
	flag.StringVar(&wallets, "wallets", "", "Comma-separated wallet addresses for -from/-to")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(lvl)
	}

	var ranges []backfill.Range
	if toBlock > 0 {
		if fromBlock > toBlock {
			fmt.Fprintf(os.Stderr, "Invalid range: from %d is after to %d\n", fromBlock, toBlock)
			os.Exit(1)
		}
		ranges = []backfill.Range{{
			From:    fromBlock,
			To:      toBlock,
			Wallets: config.NormalizeWallets(strings.Split(wallets, ",")),
		}}
	} else {
		if csvPath == "" {
			csvPath = cfg.Backfill.CSVPath
		}
		ranges, err = backfill.LoadCSV(csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read backfill CSV: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker, err := processor.NewTracker(ctx, cfg, metrics.New(prometheus.NewRegistry()), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start tracker")
	}
	defer tracker.Close()

	logger.Info().Int("ranges", len(ranges)).Msg("Starting backfill")

	if err := backfill.NewRunner(tracker.Scanner, logger).Run(ctx, ranges); err != nil {
		logger.Error().Err(err).Msg("Backfill finished with errors")
		tracker.Close()
		os.Exit(1)
	}

	logger.Info().Msg("Backfill completed successfully")
}
