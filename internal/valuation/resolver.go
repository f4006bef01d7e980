package valuation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// PriceOracle returns a historical USD price for a token address. ok is
// false when no price is available; failures are not distinguished.
type PriceOracle interface {
	USDPrice(ctx context.Context, token string, at time.Time) (price decimal.Decimal, ok bool)
}

// Anchors lists the symbols priced without the graph.
type Anchors struct {
	// Stablecoins are seeded at 1 USD.
	Stablecoins []string
	// NativeSymbol is priced from the oracle at the batch timestamp using
	// NativeAddress.
	NativeSymbol  string
	NativeAddress string
}

// Result summarizes one batch valuation.
type Result struct {
	NativePrice decimal.NullDecimal
	Prices      map[string]decimal.Decimal
	Valued      int
	Unvalued    int
}

// Resolver assigns USD values to swap legs using a per-batch exchange graph.
type Resolver struct {
	oracle  PriceOracle
	anchors Anchors
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewResolver(oracle PriceOracle, anchors Anchors, m *metrics.Metrics, logger zerolog.Logger) *Resolver {
	return &Resolver{
		oracle:  oracle,
		anchors: anchors,
		metrics: m,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve values every leg it can reach and mutates swaps in place. Legs
// without a price are left unset. The outcome depends on swap order: the
// first path that reaches a symbol fixes its price for the whole batch.
func (r *Resolver) Resolve(ctx context.Context, swaps []*swap.NormalizedSwap, at time.Time) Result {
	if len(swaps) == 0 {
		return Result{}
	}

	graph := BuildGraph(swaps)
	prices := NewPriceTable()

	stack := make([]string, 0, len(r.anchors.Stablecoins)+1)
	for _, symbol := range r.anchors.Stablecoins {
		prices.SetIfAbsent(symbol, decimal.NewFromInt(1))
		stack = append(stack, symbol)
	}

	var result Result
	if native, ok := r.oraclePrice(ctx, r.anchors.NativeAddress, at); ok {
		prices.SetIfAbsent(r.anchors.NativeSymbol, native)
		stack = append(stack, r.anchors.NativeSymbol)
		result.NativePrice = decimal.NewNullDecimal(native)
	} else {
		r.logger.Warn().
			Str("symbol", r.anchors.NativeSymbol).
			Time("at", at).
			Msg("Native asset price unavailable, continuing without it")
	}

	Propagate(graph, prices, stack)

	for _, s := range swaps {
		if _, ok := prices.Get(s.Sold.Symbol); !ok {
			if s.Sold.Symbol == "" {
				continue
			}
			price, ok := r.oraclePrice(ctx, s.Sold.ID, at)
			if !ok {
				continue
			}
			prices.SetIfAbsent(s.Sold.Symbol, price)
			Propagate(graph, prices, []string{s.Sold.Symbol})
		}
		assign(s, prices)
	}

	for _, s := range swaps {
		for _, leg := range []*swap.Leg{&s.Sold, &s.Bought} {
			if leg.Valued() {
				result.Valued++
			} else {
				result.Unvalued++
			}
		}
	}
	r.metrics.LegsValued.WithLabelValues("valued").Add(float64(result.Valued))
	r.metrics.LegsValued.WithLabelValues("unvalued").Add(float64(result.Unvalued))

	result.Prices = prices.Snapshot()
	return result
}

// assign values the sold leg and, only when sold is priced, the bought leg.
func assign(s *swap.NormalizedSwap, prices *PriceTable) {
	price, ok := prices.Get(s.Sold.Symbol)
	if !ok {
		return
	}
	s.Sold.Assign(price)
	if price, ok := prices.Get(s.Bought.Symbol); ok && s.Bought.Symbol != "" {
		s.Bought.Assign(price)
	}
}

func (r *Resolver) oraclePrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, bool) {
	if token == "" {
		return decimal.Decimal{}, false
	}
	price, ok := r.oracle.USDPrice(ctx, token, at)
	if ok {
		r.metrics.OracleRequests.WithLabelValues("hit").Inc()
	} else {
		r.metrics.OracleRequests.WithLabelValues("miss").Inc()
	}
	return price, ok
}
