package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/valuation"
)

// Chain is the subset of the RPC client used by the pipeline.
type Chain interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetTransactionSender(ctx context.Context, txHash common.Hash) (common.Address, error)
	GetBlockTime(ctx context.Context, number uint64) (time.Time, error)
	Retry(ctx context.Context, fn func() error, maxRetries int) error
}

// Orchestrator turns raw swap logs into valued batches, one per block, and
// hands each batch to the sinks.
type Orchestrator struct {
	chain      Chain
	normalizer *swap.Normalizer
	resolver   *valuation.Resolver
	sinks      []Sink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewOrchestrator(
	chain Chain,
	normalizer *swap.Normalizer,
	resolver *valuation.Resolver,
	sinks []Sink,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		chain:      chain,
		normalizer: normalizer,
		resolver:   resolver,
		sinks:      sinks,
		metrics:    m,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Process groups logs by block hash in first-seen order, keeps the logs sent
// by allowed wallets, and values each block group as one batch. Blocks are
// processed sequentially. It returns the batches that reached the sinks.
func (o *Orchestrator) Process(ctx context.Context, logs []swap.RawLog, allow Allowlist) ([]*Batch, error) {
	o.metrics.LogsFetched.Add(float64(len(logs)))

	var batches []*Batch
	for _, group := range groupByBlock(logs) {
		if err := ctx.Err(); err != nil {
			return batches, err
		}

		matched := o.filterSenders(ctx, group, allow)
		if len(matched) == 0 {
			continue
		}
		o.metrics.LogsFiltered.Add(float64(len(matched)))

		batch, err := o.processBlock(ctx, matched)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return batches, err
			}
			o.logger.Error().
				Err(err).
				Uint64("block", group[0].BlockNumber).
				Msg("Failed to process block")
			continue
		}
		if batch != nil {
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

func groupByBlock(logs []swap.RawLog) [][]swap.RawLog {
	index := make(map[common.Hash]int)
	var groups [][]swap.RawLog
	for _, l := range logs {
		i, ok := index[l.BlockHash]
		if !ok {
			i = len(groups)
			index[l.BlockHash] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], l)
	}
	return groups
}

// filterSenders resolves each transaction's sender once per block and keeps
// the logs whose sender is allowed. Logs that already carry a sender skip
// the lookup.
func (o *Orchestrator) filterSenders(ctx context.Context, group []swap.RawLog, allow Allowlist) []swap.RawLog {
	senders := make(map[common.Hash]common.Address)
	failed := make(map[common.Hash]bool)

	matched := make([]swap.RawLog, 0, len(group))
	for _, l := range group {
		if l.From == (common.Address{}) {
			if failed[l.TxHash] {
				continue
			}
			sender, ok := senders[l.TxHash]
			if !ok {
				var err error
				sender, err = o.chain.GetTransactionSender(ctx, l.TxHash)
				if err != nil {
					o.logger.Warn().
						Err(err).
						Str("tx_hash", l.TxHash.Hex()).
						Msg("Failed to resolve transaction sender")
					failed[l.TxHash] = true
					continue
				}
				senders[l.TxHash] = sender
			}
			l.From = sender
		}

		if allow.Allows(l.From) {
			matched = append(matched, l)
		}
	}
	return matched
}

func (o *Orchestrator) processBlock(ctx context.Context, logs []swap.RawLog) (*Batch, error) {
	start := time.Now()

	swaps := make([]*swap.NormalizedSwap, 0, len(logs))
	for _, l := range logs {
		s, err := o.normalizer.Normalize(ctx, l)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.metrics.SwapsDropped.WithLabelValues("metadata").Inc()
			o.logger.Warn().
				Err(err).
				Str("tx_hash", l.TxHash.Hex()).
				Str("pool", l.Address.Hex()).
				Msg("Dropping swap with unresolved pool")
			continue
		}
		if s == nil {
			o.metrics.SwapsDropped.WithLabelValues("unsupported").Inc()
			continue
		}
		o.metrics.SwapsNormalized.WithLabelValues(o.normalizer.ShapeOf(l.Topics).String()).Inc()
		swaps = append(swaps, s)
	}
	if len(swaps) == 0 {
		return nil, nil
	}

	blockNumber := swaps[0].BlockNumber
	blockTime, err := o.chain.GetBlockTime(ctx, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block time: %w", err)
	}

	result := o.resolver.Resolve(ctx, swaps, blockTime)
	batch := &Batch{
		BlockNumber: blockNumber,
		BlockHash:   swaps[0].BlockHash,
		BlockTime:   blockTime,
		NativePrice: result.NativePrice,
		Swaps:       swaps,
	}

	o.publish(ctx, batch)

	o.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	o.metrics.LastBatchBlock.Set(float64(blockNumber))

	event := o.logger.Info().
		Uint64("block", blockNumber).
		Int("swaps", len(swaps)).
		Int("legs_valued", result.Valued).
		Int("legs_unvalued", result.Unvalued).
		Dur("duration", time.Since(start))
	if result.NativePrice.Valid {
		event = event.Str("native_usd", result.NativePrice.Decimal.String())
	}
	event.Msg("Processed block")

	return batch, nil
}

func (o *Orchestrator) publish(ctx context.Context, batch *Batch) {
	for _, sink := range o.sinks {
		if err := sink.Publish(ctx, batch); err != nil {
			o.metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			o.logger.Error().
				Err(err).
				Str("sink", sink.Name()).
				Uint64("block", batch.BlockNumber).
				Msg("Failed to publish batch")
		}
	}
}
