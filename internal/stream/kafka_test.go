package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/pipeline"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducer(w, zerolog.Nop())
	blockTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := &pipeline.Batch{
		BlockNumber: 7,
		BlockTime:   blockTime,
		Swaps: []*swap.NormalizedSwap{{
			BlockNumber: 7,
			From:        common.HexToAddress("0xAB"),
			Sold:        swap.Leg{ID: "0x01", Symbol: "WETH", Amount: decimal.NewFromInt(1)},
			Bought:      swap.Leg{ID: "0x02", Symbol: "USDC", Amount: decimal.NewFromInt(3000)},
		}},
	}
	require.NoError(t, p.Publish(context.Background(), batch))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", string(msg.Key))
	assert.True(t, blockTime.Equal(msg.Time))

	var decoded pipeline.SwapMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, uint64(7), decoded.BlockNumber)
	assert.Equal(t, "WETH", decoded.Sold.Symbol)
	assert.True(t, decimal.NewFromInt(3000).Equal(decoded.Bought.Amount))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newKafkaProducer(w, zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), &pipeline.Batch{}))

	err := p.Publish(context.Background(), &pipeline.Batch{
		BlockNumber: 9,
		Swaps:       []*swap.NormalizedSwap{{Sold: swap.Leg{Amount: decimal.NewFromInt(1)}, Bought: swap.Leg{Amount: decimal.NewFromInt(1)}}},
	})
	assert.ErrorContains(t, err, "leader not available")
}
