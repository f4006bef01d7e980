package swap

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// RawLog is a fetched swap log plus the sender of its transaction, which is
// resolved separately from the log itself.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	Index       uint
	From        common.Address
}

// FromLog copies the fields of a go-ethereum log. From is left empty.
func FromLog(l types.Log) RawLog {
	return RawLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		Index:       l.Index,
	}
}

// Leg is one side of a swap. Amount is always a positive magnitude.
type Leg struct {
	ID       string
	Symbol   string
	Decimals uint8
	Amount   decimal.Decimal

	ValueUSD decimal.NullDecimal
	TotalUSD decimal.NullDecimal
}

// Assign sets the USD unit price and the leg total.
func (l *Leg) Assign(price decimal.Decimal) {
	l.ValueUSD = decimal.NewNullDecimal(price)
	l.TotalUSD = decimal.NewNullDecimal(price.Mul(l.Amount))
}

func (l *Leg) Valued() bool {
	return l.ValueUSD.Valid
}

// NormalizedSwap is a swap in sold/bought form. Sold is the leg that flowed
// into the pool.
type NormalizedSwap struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
	Pool        common.Address
	From        common.Address

	Sold   Leg
	Bought Leg
}
