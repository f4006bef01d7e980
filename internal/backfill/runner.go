package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
)

// RangeScanner is satisfied by *pipeline.Scanner.
type RangeScanner interface {
	ScanRange(ctx context.Context, from, to uint64, allow pipeline.Allowlist) (pipeline.ScanStats, error)
}

// Runner drives backfill ranges through a scanner one row at a time.
type Runner struct {
	scanner RangeScanner
	logger  zerolog.Logger
}

func NewRunner(scanner RangeScanner, logger zerolog.Logger) *Runner {
	return &Runner{
		scanner: scanner,
		logger:  logger.With().Str("component", "backfill").Logger(),
	}
}

// Run scans every range in order. A failing row is logged and the next row
// still runs; the row errors are joined in the result. Cancellation stops
// the run immediately.
func (r *Runner) Run(ctx context.Context, ranges []Range) error {
	start := time.Now()
	var (
		errs  []error
		total pipeline.ScanStats
	)

	for i, rg := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		stats, err := r.scanner.ScanRange(ctx, rg.From, rg.To, pipeline.NewAllowlist(rg.Wallets))
		total.Windows += stats.Windows
		total.Logs += stats.Logs
		total.Batches += stats.Batches
		total.Swaps += stats.Swaps

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error().
				Err(err).
				Int("row", i+1).
				Uint64("from", rg.From).
				Uint64("to", rg.To).
				Msg("Backfill range failed")
			errs = append(errs, fmt.Errorf("range %d-%d: %w", rg.From, rg.To, err))
			continue
		}
	}

	r.logger.Info().
		Int("ranges", len(ranges)).
		Int("failed", len(errs)).
		Int("logs", total.Logs).
		Int("swaps", total.Swaps).
		Dur("duration", time.Since(start)).
		Msg("Backfill completed")

	return errors.Join(errs...)
}

// RunFile loads path and runs its ranges.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	ranges, err := LoadCSV(path)
	if err != nil {
		return err
	}
	return r.Run(ctx, ranges)
}
