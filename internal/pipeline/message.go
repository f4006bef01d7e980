package pipeline

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// SwapMessage is the JSON form of a valued swap for streaming sinks.
type SwapMessage struct {
	BlockNumber     uint64              `json:"block_number"`
	BlockHash       string              `json:"block_hash"`
	TransactionHash string              `json:"transaction_hash"`
	LogIndex        uint                `json:"log_index"`
	Pool            string              `json:"pool"`
	WalletAddress   string              `json:"wallet_address"`
	Sold            LegMessage          `json:"sold"`
	Bought          LegMessage          `json:"bought"`
	EthPriceUSD     decimal.NullDecimal `json:"eth_price_usd"`
	Timestamp       time.Time           `json:"timestamp"`
}

type LegMessage struct {
	ID                string              `json:"id"`
	Symbol            string              `json:"symbol"`
	Amount            decimal.Decimal     `json:"amount"`
	ValueInUSD        decimal.NullDecimal `json:"value_in_usd"`
	TotalExchangedUSD decimal.NullDecimal `json:"total_exchanged_usd"`
}

// Messages converts every swap of the batch.
func (b *Batch) Messages() []SwapMessage {
	out := make([]SwapMessage, 0, len(b.Swaps))
	for _, s := range b.Swaps {
		out = append(out, SwapMessage{
			BlockNumber:     s.BlockNumber,
			BlockHash:       s.BlockHash.Hex(),
			TransactionHash: s.TxHash.Hex(),
			LogIndex:        s.LogIndex,
			Pool:            strings.ToLower(s.Pool.Hex()),
			WalletAddress:   strings.ToLower(s.From.Hex()),
			Sold:            legMessage(s.Sold),
			Bought:          legMessage(s.Bought),
			EthPriceUSD:     b.NativePrice,
			Timestamp:       b.BlockTime,
		})
	}
	return out
}

func legMessage(l swap.Leg) LegMessage {
	return LegMessage{
		ID:                strings.ToLower(l.ID),
		Symbol:            l.Symbol,
		Amount:            l.Amount,
		ValueInUSD:        l.ValueUSD,
		TotalExchangedUSD: l.TotalUSD,
	}
}
