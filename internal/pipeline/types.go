package pipeline

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// Batch is the valued output of one block group.
type Batch struct {
	BlockNumber uint64
	BlockHash   common.Hash
	// BlockTime is the timestamp of the first swap's block, in UTC.
	BlockTime   time.Time
	NativePrice decimal.NullDecimal
	Swaps       []*swap.NormalizedSwap
}

// Sink receives valued batches. A Sink error is logged by the orchestrator
// and does not stop other sinks.
type Sink interface {
	Name() string
	Publish(ctx context.Context, batch *Batch) error
}
