package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
)

const insertSwapEvent = `
	INSERT INTO swap_events (
		block_number, block_hash, transaction_hash, wallet_address,
		token0_id, token0_symbol, token0_amount, token0_value_in_usd, token0_total_exchanged_usd,
		token1_id, token1_symbol, token1_amount, token1_value_in_usd, token1_total_exchanged_usd,
		eth_price_usd, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SwapEventRepository writes valued swaps to swap_events, one row per
// statement with no transaction around a batch.
type SwapEventRepository struct {
	db      execer
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

var _ pipeline.Sink = (*SwapEventRepository)(nil)

func NewSwapEventRepository(db *Database, m *metrics.Metrics, logger zerolog.Logger) *SwapEventRepository {
	return newSwapEventRepository(db.pool, m, logger)
}

func newSwapEventRepository(db execer, m *metrics.Metrics, logger zerolog.Logger) *SwapEventRepository {
	return &SwapEventRepository{
		db:      db,
		metrics: m,
		logger:  logger.With().Str("component", "swap_events").Logger(),
	}
}

// Insert writes a single row.
func (r *SwapEventRepository) Insert(ctx context.Context, event *SwapEvent) error {
	if _, err := r.db.Exec(ctx, insertSwapEvent, event.args()...); err != nil {
		return fmt.Errorf("failed to insert swap event: %w", err)
	}
	return nil
}

func (r *SwapEventRepository) Name() string { return "postgres" }

// Publish inserts every swap of the batch. Failed rows are logged and
// skipped; rows already written stay committed.
func (r *SwapEventRepository) Publish(ctx context.Context, batch *pipeline.Batch) error {
	inserted := 0
	for _, s := range batch.Swaps {
		event := NewSwapEvent(s, batch.NativePrice, batch.BlockTime)
		if err := r.Insert(ctx, event); err != nil {
			r.metrics.InsertFailures.Inc()
			r.logger.Error().
				Err(err).
				Str("tx_hash", event.TransactionHash).
				Uint64("block", event.BlockNumber).
				Msg("Skipping swap event row")
			continue
		}
		r.metrics.RowsInserted.Inc()
		inserted++
	}

	r.logger.Debug().
		Uint64("block", batch.BlockNumber).
		Int("inserted", inserted).
		Int("swaps", len(batch.Swaps)).
		Msg("Persisted batch")
	return nil
}
