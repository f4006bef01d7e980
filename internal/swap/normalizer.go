package swap

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metadata"
)

// PoolResolver looks up a pool's tokens.
type PoolResolver interface {
	ResolvePool(ctx context.Context, pool common.Address) (metadata.PoolInfo, error)
}

// Normalizer turns swap logs into NormalizedSwaps.
type Normalizer struct {
	parser *EventParser
	pools  PoolResolver
	logger zerolog.Logger
}

func NewNormalizer(pools PoolResolver, logger zerolog.Logger) (*Normalizer, error) {
	parser, err := NewEventParser()
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		parser: parser,
		pools:  pools,
		logger: logger.With().Str("component", "normalizer").Logger(),
	}, nil
}

// ShapeOf reports the event layout of a log's topics.
func (n *Normalizer) ShapeOf(topics []common.Hash) Shape {
	return n.parser.ShapeOf(topics)
}

// Normalize decodes one log. It returns nil without error when the log is
// not a supported swap, cannot be decoded, or moves no tokens. Pool metadata
// failures are returned to the caller.
func (n *Normalizer) Normalize(ctx context.Context, log RawLog) (*NormalizedSwap, error) {
	amount0, amount1, err := n.parser.Deltas(log)
	if err != nil {
		var parseErr ErrEventParsing
		if errors.As(err, &parseErr) {
			n.logger.Debug().
				Err(err).
				Str("tx_hash", log.TxHash.Hex()).
				Uint("log_index", log.Index).
				Msg("Skipping malformed swap log")
		}
		return nil, nil
	}

	pool, err := n.pools.ResolvePool(ctx, log.Address)
	if err != nil {
		return nil, err
	}

	sold, bought, ok := Canonicalize(amount0, amount1, pool)
	if !ok {
		n.logger.Debug().
			Str("tx_hash", log.TxHash.Hex()).
			Uint("log_index", log.Index).
			Msg("Skipping swap with a zero leg")
		return nil, nil
	}

	return &NormalizedSwap{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Pool:        log.Address,
		From:        log.From,
		Sold:        sold,
		Bought:      bought,
	}, nil
}

// Canonicalize scales both amounts by their token decimals and orders them
// as sold then bought. When amount0 is positive token0 is the sold leg,
// otherwise token1 is. Both returned amounts are magnitudes; ok is false if
// either is zero.
func Canonicalize(amount0, amount1 *big.Int, pool metadata.PoolInfo) (sold, bought Leg, ok bool) {
	leg0 := newLeg(pool.Token0, amount0)
	leg1 := newLeg(pool.Token1, amount1)

	if leg0.Amount.IsPositive() {
		sold, bought = leg0, leg1
	} else {
		sold, bought = leg1, leg0
	}
	sold.Amount = sold.Amount.Abs()
	bought.Amount = bought.Amount.Abs()

	if sold.Amount.IsZero() || bought.Amount.IsZero() {
		return Leg{}, Leg{}, false
	}
	return sold, bought, true
}

func newLeg(token metadata.TokenInfo, raw *big.Int) Leg {
	return Leg{
		ID:       token.Address.Hex(),
		Symbol:   token.Symbol,
		Decimals: token.Decimals,
		Amount:   decimal.NewFromBigInt(raw, -int32(token.Decimals)),
	}
}
