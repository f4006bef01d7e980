package database

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// setupTestDB starts a PostgreSQL container and applies the embedded
// migrations.
func setupTestDB(t *testing.T) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, dsn, zerolog.Nop()))
	// a second run is a no-op
	require.NoError(t, RunMigrations(ctx, dsn, zerolog.Nop()))

	db, err := Connect(ctx, dsn, 4, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestSwapEventRepositoryIntegration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewSwapEventRepository(db, metrics.New(prometheus.NewRegistry()), zerolog.Nop())

	s := testSwap()
	batch := &pipeline.Batch{
		BlockNumber: s.BlockNumber,
		BlockHash:   s.BlockHash,
		BlockTime:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		NativePrice: decimal.NewNullDecimal(decimal.RequireFromString("2250.75")),
		Swaps:       []*swap.NormalizedSwap{s},
	}
	require.NoError(t, repo.Publish(ctx, batch))

	n, err := db.CountSwapEvents(ctx, HashToString(s.TxHash))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var soldTotal, boughtValue, ethPrice string
	var createdAt time.Time
	err = db.Pool().QueryRow(ctx, `
		SELECT token0_total_exchanged_usd::text, token1_value_in_usd::text, eth_price_usd::text, created_at
		FROM swap_events WHERE transaction_hash = $1`,
		HashToString(s.TxHash),
	).Scan(&soldTotal, &boughtValue, &ethPrice, &createdAt)
	require.NoError(t, err)

	assert.Equal(t, "100.5", soldTotal)
	assert.Equal(t, "0", boughtValue)
	assert.Equal(t, "2250.75", ethPrice)
	assert.True(t, batch.BlockTime.Equal(createdAt))
}
