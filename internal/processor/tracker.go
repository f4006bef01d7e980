package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/config"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/database"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metadata"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/prices"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/realtime"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/rpc"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/stream"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/valuation"
)

const priceCacheSize = 10_000

// Tracker owns the connections and the assembled swap pipeline shared by the
// webhook listener and the backfill driver.
type Tracker struct {
	RPC          *rpc.Client
	DB           *database.Database
	Metadata     *metadata.Cache
	Orchestrator *pipeline.Orchestrator
	Scanner      *pipeline.Scanner

	closers []io.Closer
	logger  zerolog.Logger
}

// NewTracker connects to the chain and the database, applies migrations and
// builds the pipeline with every enabled sink.
func NewTracker(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*Tracker, error) {
	rpcClient, err := rpc.NewClient(cfg.Chain.RPCURL(), cfg.Chain.ChainID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}

	t := &Tracker{RPC: rpcClient, logger: logger}

	if err := database.RunMigrations(ctx, cfg.Database.ConnectionString(), logger); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	t.DB = db

	contracts := metadata.NewContractSource(rpcClient.Eth())
	var tokens metadata.TokenSource = contracts
	if cfg.Chain.AlchemyMetadata {
		tokens = metadata.NewAlchemySource(rpcClient)
	}
	t.Metadata = metadata.NewCache(contracts, tokens, logger)

	normalizer, err := swap.NewNormalizer(t.Metadata, logger)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to create normalizer: %w", err)
	}

	var store prices.Store
	if cfg.Redis.Enabled {
		redisStore, err := prices.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			t.Close()
			return nil, err
		}
		store = redisStore
		t.closers = append(t.closers, redisStore)
	}

	cmc := prices.NewCMCClient(prices.CMCConfig{
		MapURL:     cfg.Oracle.MapURL,
		ChartURL:   cfg.Oracle.ChartURL,
		Timeout:    cfg.Oracle.Timeout,
		MaxRetries: cfg.Oracle.MaxRetries,
		ChartTTL:   cfg.Redis.TTL,
	}, store, logger)

	resolver := valuation.NewResolver(prices.NewCachedProvider(cmc, priceCacheSize), valuation.Anchors{
		Stablecoins:   cfg.Valuation.Stablecoins,
		NativeSymbol:  cfg.Valuation.NativeSymbol,
		NativeAddress: cfg.Valuation.NativeAddress,
	}, m, logger)

	sinks := []pipeline.Sink{database.NewSwapEventRepository(db, m, logger)}
	if cfg.Kafka.Enabled {
		producer := stream.NewKafkaProducer(stream.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		sinks = append(sinks, producer)
		t.closers = append(t.closers, producer)
	}
	if cfg.Realtime.Enabled {
		sinks = append(sinks, realtime.NewPublisher(realtime.PublishConfig{
			APIURL:  cfg.Realtime.URL,
			APIKey:  cfg.Realtime.APIKey,
			Channel: cfg.Realtime.Channel,
		}, logger))
	}

	t.Orchestrator = pipeline.NewOrchestrator(rpcClient, normalizer, resolver, sinks, m, logger)
	t.Scanner = pipeline.NewScanner(rpcClient, t.Orchestrator, cfg.Chain.LogWindow, logger)

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	logger.Info().
		Str("chain", cfg.Chain.Name).
		Strs("sinks", names).
		Bool("redis", cfg.Redis.Enabled).
		Int("stablecoins", len(cfg.Valuation.Stablecoins)).
		Msg("Tracker pipeline ready")

	return t, nil
}

// Close releases sinks, the database pool and the RPC connection.
func (t *Tracker) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		if err := t.closers[i].Close(); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	if t.DB != nil {
		t.DB.Close()
	}
	if t.RPC != nil {
		t.RPC.Close()
	}
}
