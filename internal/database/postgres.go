package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/config"
)

type Database struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New opens a pool from the database section of the config.
func New(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (*Database, error) {
	db, err := Connect(ctx, cfg.ConnectionString(), cfg.MaxConnections, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Msg("Connected to database")
	return db, nil
}

// Connect opens and pings a pool for connString.
func Connect(ctx context.Context, connString string, maxConns int32, logger zerolog.Logger) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{
		pool:   pool,
		logger: logger,
	}, nil
}

func (db *Database) Close() {
	db.pool.Close()
	db.logger.Info().Msg("Database connection closed")
}

func (db *Database) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (db *Database) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// CountSwapEvents returns the number of rows for a transaction hash.
func (db *Database) CountSwapEvents(ctx context.Context, txHash string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM swap_events WHERE transaction_hash = $1`,
		txHash,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count swap events: %w", err)
	}
	return n, nil
}
