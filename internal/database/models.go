package database

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// SwapEvent is one row of swap_events. The token0 columns hold the sold leg
// and the token1 columns the bought leg. Numeric columns are decimal strings.
type SwapEvent struct {
	BlockNumber     uint64
	BlockHash       string
	TransactionHash string
	WalletAddress   string
	Token0          LegColumns
	Token1          LegColumns
	EthPriceUSD     string
	CreatedAt       time.Time
}

// LegColumns are the per-leg columns of a SwapEvent.
type LegColumns struct {
	ID                string
	Symbol            string
	Amount            string
	ValueInUSD        string
	TotalExchangedUSD string
}

// NewSwapEvent maps a valued swap to a row. Unpriced values become "0".
func NewSwapEvent(s *swap.NormalizedSwap, nativePrice decimal.NullDecimal, createdAt time.Time) *SwapEvent {
	return &SwapEvent{
		BlockNumber:     s.BlockNumber,
		BlockHash:       HashToString(s.BlockHash),
		TransactionHash: HashToString(s.TxHash),
		WalletAddress:   AddressToString(s.From),
		Token0:          legColumns(s.Sold),
		Token1:          legColumns(s.Bought),
		EthPriceUSD:     NumericOrZero(nativePrice),
		CreatedAt:       createdAt.UTC(),
	}
}

func legColumns(l swap.Leg) LegColumns {
	return LegColumns{
		ID:                strings.ToLower(l.ID),
		Symbol:            l.Symbol,
		Amount:            l.Amount.String(),
		ValueInUSD:        NumericOrZero(l.ValueUSD),
		TotalExchangedUSD: NumericOrZero(l.TotalUSD),
	}
}

// args returns the insert parameters in column order.
func (e *SwapEvent) args() []any {
	return []any{
		e.BlockNumber,
		e.BlockHash,
		e.TransactionHash,
		e.WalletAddress,
		e.Token0.ID,
		e.Token0.Symbol,
		e.Token0.Amount,
		e.Token0.ValueInUSD,
		e.Token0.TotalExchangedUSD,
		e.Token1.ID,
		e.Token1.Symbol,
		e.Token1.Amount,
		e.Token1.ValueInUSD,
		e.Token1.TotalExchangedUSD,
		e.EthPriceUSD,
		e.CreatedAt,
	}
}

func HashToString(hash common.Hash) string {
	return hash.Hex()
}

// AddressToString returns the lowercase hex form used for lookups.
func AddressToString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func NumericOrZero(value decimal.NullDecimal) string {
	if !value.Valid {
		return "0"
	}
	return value.Decimal.String()
}
