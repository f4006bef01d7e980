package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

func TestBatchMessages(t *testing.T) {
	s := &swap.NormalizedSwap{
		BlockNumber: 10,
		TxHash:      common.HexToHash("0x01"),
		Pool:        pool,
		From:        common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		Sold:        swap.Leg{ID: usdc.Address.Hex(), Symbol: "USDC", Amount: decimal.NewFromInt(100)},
		Bought:      swap.Leg{ID: foo.Address.Hex(), Symbol: "FOO", Amount: decimal.NewFromInt(50)},
	}
	s.Sold.Assign(decimal.NewFromInt(1))
	batch := &Batch{BlockNumber: 10, BlockTime: time.Unix(1700000000, 0).UTC(), Swaps: []*swap.NormalizedSwap{s}}

	msgs := batch.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", msgs[0].WalletAddress)
	assert.Equal(t, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", msgs[0].Sold.ID)

	data, err := json.Marshal(msgs[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	sold := decoded["sold"].(map[string]any)
	bought := decoded["bought"].(map[string]any)
	assert.Equal(t, "100", sold["total_exchanged_usd"])
	assert.Nil(t, bought["value_in_usd"])
	assert.Nil(t, decoded["eth_price_usd"])
}
