// Package stream publishes valued swaps to Kafka for downstream analytics.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes one message per swap keyed by wallet address, so a
// wallet's swaps stay ordered within a partition.
type KafkaProducer struct {
	writer messageWriter
	logger zerolog.Logger
}

var _ pipeline.Sink = (*KafkaProducer)(nil)

func NewKafkaProducer(config KafkaConfig, logger zerolog.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaProducer(writer, logger)
}

func newKafkaProducer(writer messageWriter, logger zerolog.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: writer,
		logger: logger.With().Str("component", "kafka").Logger(),
	}
}

func (p *KafkaProducer) Name() string { return "kafka" }

func (p *KafkaProducer) Publish(ctx context.Context, batch *pipeline.Batch) error {
	messages := batch.Messages()
	if len(messages) == 0 {
		return nil
	}

	out := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal swap: %w", err)
		}
		out = append(out, kafka.Message{
			Key:   []byte(msg.WalletAddress),
			Value: data,
			Time:  msg.Timestamp,
		})
	}

	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("failed to write %d swaps for block %d: %w", len(out), batch.BlockNumber, err)
	}
	p.logger.Debug().Uint64("block", batch.BlockNumber).Int("messages", len(out)).Msg("Published swaps")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
