package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// DefaultWindow is the block span of one eth_getLogs request.
const DefaultWindow uint64 = 500

const fetchRetries = 3

// ScanStats summarizes one ScanRange call.
type ScanStats struct {
	Windows int
	Logs    int
	Batches int
	Swaps   int
}

// Scanner fetches swap logs over a block range window by window and feeds
// each window to the orchestrator.
type Scanner struct {
	chain        Chain
	orchestrator *Orchestrator
	window       uint64
	logger       zerolog.Logger
}

func NewScanner(chain Chain, orchestrator *Orchestrator, window uint64, logger zerolog.Logger) *Scanner {
	if window == 0 {
		window = DefaultWindow
	}
	return &Scanner{
		chain:        chain,
		orchestrator: orchestrator,
		window:       window,
		logger:       logger.With().Str("component", "scanner").Logger(),
	}
}

// ScanRange processes [from, to] inclusive. A window whose logs cannot be
// fetched after retries stops the scan with an error.
func (s *Scanner) ScanRange(ctx context.Context, from, to uint64, allow Allowlist) (ScanStats, error) {
	var stats ScanStats
	if from > to {
		return stats, fmt.Errorf("invalid block range %d-%d", from, to)
	}

	s.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("wallets", allow.Len()).
		Msg("Scanning block range")

	for start := from; start <= to; {
		end := start + s.window - 1
		if end > to || end < start {
			end = to
		}

		logs, err := s.fetch(ctx, start, end)
		if err != nil {
			return stats, err
		}

		batches, err := s.orchestrator.Process(ctx, logs, allow)
		stats.Windows++
		stats.Logs += len(logs)
		stats.Batches += len(batches)
		for _, b := range batches {
			stats.Swaps += len(b.Swaps)
		}
		if err != nil {
			return stats, err
		}

		s.logger.Debug().
			Uint64("from", start).
			Uint64("to", end).
			Int("logs", len(logs)).
			Int("batches", len(batches)).
			Msg("Scanned window")

		if end == to {
			break
		}
		start = end + 1
	}

	s.logger.Info().
		Uint64("from", from).
		Uint64("to", to).
		Int("logs", stats.Logs).
		Int("swaps", stats.Swaps).
		Msg("Finished block range")
	return stats, nil
}

func (s *Scanner) fetch(ctx context.Context, from, to uint64) ([]swap.RawLog, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Topics:    swap.Topics(),
	}

	var logs []types.Log
	err := s.chain.Retry(ctx, func() error {
		var err error
		logs, err = s.chain.GetLogs(ctx, query)
		return err
	}, fetchRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs %d-%d: %w", from, to, err)
	}

	raw := make([]swap.RawLog, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		raw = append(raw, swap.FromLog(l))
	}
	return raw, nil
}
