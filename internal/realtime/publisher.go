package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
)

type PublishConfig struct {
	APIURL  string
	APIKey  string
	Channel string
}

type publishFunc func(ctx context.Context, channel string, data []byte) error

// Publisher pushes valued swaps to Centrifugo. Each swap goes to the wallet
// channel "<channel>.<wallet>" and a block summary goes to "<channel>".
type Publisher struct {
	publish publishFunc
	channel string
	logger  zerolog.Logger
}

var _ pipeline.Sink = (*Publisher)(nil)

func NewPublisher(config PublishConfig, logger zerolog.Logger) *Publisher {
	gc := gocent.New(gocent.Config{
		Addr: config.APIURL,
		Key:  config.APIKey,
	})
	return newPublisher(func(ctx context.Context, channel string, data []byte) error {
		_, err := gc.Publish(ctx, channel, data)
		return err
	}, config.Channel, logger)
}

func newPublisher(publish publishFunc, channel string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		publish: publish,
		channel: channel,
		logger:  logger.With().Str("component", "realtime-publisher").Logger(),
	}
}

func (p *Publisher) Name() string { return "centrifugo" }

type blockSummary struct {
	Type        string `json:"type"`
	BlockNumber uint64 `json:"block_number"`
	Swaps       int    `json:"swaps"`
	EthPriceUSD string `json:"eth_price_usd,omitempty"`
}

// Publish sends every swap and then the block summary. It keeps going after
// a failed swap and returns the first error.
func (p *Publisher) Publish(ctx context.Context, batch *pipeline.Batch) error {
	var firstErr error
	for _, msg := range batch.Messages() {
		payload, err := json.Marshal(map[string]any{
			"type": "swap",
			"data": msg,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal swap: %w", err)
		}

		channel := p.channel + "." + msg.WalletAddress
		if err := p.publish(ctx, channel, payload); err != nil {
			p.logger.Warn().
				Err(err).
				Str("channel", channel).
				Str("tx_hash", msg.TransactionHash).
				Msg("Failed to publish swap")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	summary := blockSummary{
		Type:        "block",
		BlockNumber: batch.BlockNumber,
		Swaps:       len(batch.Swaps),
	}
	if batch.NativePrice.Valid {
		summary.EthPriceUSD = batch.NativePrice.Decimal.String()
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal block summary: %w", err)
	}
	if err := p.publish(ctx, p.channel, payload); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return fmt.Errorf("failed to publish block %d: %w", batch.BlockNumber, firstErr)
	}
	return nil
}
