package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/swap"
)

// ratioPrecision is the number of fractional digits kept when dividing leg
// amounts. Token prices span many orders of magnitude, so the default
// shopspring precision of 16 digits is not enough.
const ratioPrecision = 36

// Edge converts a price of its source symbol into a price of To.
type Edge struct {
	To    string
	Ratio decimal.Decimal
}

// Graph is a per-batch exchange-rate graph keyed by token symbol. Edges keep
// insertion order and are never merged, so parallel edges between the same
// pair are all retained.
type Graph struct {
	edges map[string][]Edge
}

func NewGraph() *Graph {
	return &Graph{edges: make(map[string][]Edge)}
}

// BuildGraph adds sold->bought and bought->sold edges for every swap whose
// legs both carry a symbol.
func BuildGraph(swaps []*swap.NormalizedSwap) *Graph {
	g := NewGraph()
	for _, s := range swaps {
		g.AddSwap(s)
	}
	return g
}

// AddSwap records the two directed edges of a swap. A sold price times
// sold/bought gives the bought price, and the inverse edge goes back.
func (g *Graph) AddSwap(s *swap.NormalizedSwap) {
	if s.Sold.Symbol == "" || s.Bought.Symbol == "" {
		return
	}
	if s.Sold.Amount.IsZero() || s.Bought.Amount.IsZero() {
		return
	}
	g.AddEdge(s.Sold.Symbol, s.Bought.Symbol, s.Sold.Amount.DivRound(s.Bought.Amount, ratioPrecision))
	g.AddEdge(s.Bought.Symbol, s.Sold.Symbol, s.Bought.Amount.DivRound(s.Sold.Amount, ratioPrecision))
}

func (g *Graph) AddEdge(from, to string, ratio decimal.Decimal) {
	g.edges[from] = append(g.edges[from], Edge{To: to, Ratio: ratio})
}

// Edges returns the outgoing edges of symbol in insertion order.
func (g *Graph) Edges(symbol string) []Edge {
	return g.edges[symbol]
}

func (g *Graph) Has(symbol string) bool {
	_, ok := g.edges[symbol]
	return ok
}

// PriceTable maps symbols to USD prices. A price is written at most once.
type PriceTable struct {
	prices map[string]decimal.Decimal
}

func NewPriceTable() *PriceTable {
	return &PriceTable{prices: make(map[string]decimal.Decimal)}
}

// SetIfAbsent stores price for symbol unless one is already present and
// reports whether it was stored.
func (p *PriceTable) SetIfAbsent(symbol string, price decimal.Decimal) bool {
	if _, ok := p.prices[symbol]; ok {
		return false
	}
	p.prices[symbol] = price
	return true
}

func (p *PriceTable) Get(symbol string) (decimal.Decimal, bool) {
	price, ok := p.prices[symbol]
	return price, ok
}

func (p *PriceTable) Len() int {
	return len(p.prices)
}

// Snapshot copies the table.
func (p *PriceTable) Snapshot() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

// Propagate prices the graph outward from the symbols on stack. The stack is
// consumed from the end. Each reached symbol without a price takes
// price[src] * ratio of the first edge that reaches it and is pushed in turn;
// symbols that already have a price are left alone.
func Propagate(g *Graph, prices *PriceTable, stack []string) {
	for len(stack) > 0 {
		symbol := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges := g.Edges(symbol)
		if len(edges) == 0 {
			continue
		}
		base, ok := prices.Get(symbol)
		if !ok {
			continue
		}
		for _, e := range edges {
			if prices.SetIfAbsent(e.To, base.Mul(e.Ratio)) {
				stack = append(stack, e.To)
			}
		}
	}
}
