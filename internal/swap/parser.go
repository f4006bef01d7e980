package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Shape identifies which swap event layout a log uses.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeSigned carries signed amount0/amount1 (Uniswap V3).
	ShapeSigned
	// ShapeInOut carries amount0In/amount1In/amount0Out/amount1Out (Uniswap V2).
	ShapeInOut
)

func (s Shape) String() string {
	switch s {
	case ShapeSigned:
		return "v3"
	case ShapeInOut:
		return "v2"
	default:
		return "unknown"
	}
}

// EventParser decodes swap logs into a signed token0/token1 delta pair.
type EventParser struct {
	events map[common.Hash]*abi.Event
	shapes map[common.Hash]Shape
}

func NewEventParser() (*EventParser, error) {
	v2, err := parseSwapEvent(UniswapV2PairABI)
	if err != nil {
		return nil, err
	}
	v3, err := parseSwapEvent(UniswapV3PoolABI)
	if err != nil {
		return nil, err
	}

	return &EventParser{
		events: map[common.Hash]*abi.Event{
			v2.ID: v2,
			v3.ID: v3,
		},
		shapes: map[common.Hash]Shape{
			v2.ID: ShapeInOut,
			v3.ID: ShapeSigned,
		},
	}, nil
}

// ShapeOf returns the layout for the log's first topic.
func (p *EventParser) ShapeOf(topics []common.Hash) Shape {
	if len(topics) == 0 {
		return ShapeUnknown
	}
	return p.shapes[topics[0]]
}

// Deltas returns amount0 and amount1 signed from the pool's point of view:
// positive flowed into the pool, negative flowed out.
func (p *EventParser) Deltas(log RawLog) (*big.Int, *big.Int, error) {
	if len(log.Topics) == 0 {
		return nil, nil, ErrInvalidEvent{Reason: "no topics in log"}
	}
	event, ok := p.events[log.Topics[0]]
	if !ok {
		return nil, nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, nil, ErrEventParsing{Event: event.Name, Err: err}
	}

	switch p.shapes[event.ID] {
	case ShapeSigned:
		amount0, ok0 := values[0].(*big.Int)
		amount1, ok1 := values[1].(*big.Int)
		if !ok0 || !ok1 {
			return nil, nil, ErrEventParsing{Event: event.Name, Err: fmt.Errorf("unexpected amount types %T, %T", values[0], values[1])}
		}
		return amount0, amount1, nil

	case ShapeInOut:
		amounts := make([]*big.Int, 4)
		for i := range amounts {
			v, ok := values[i].(*big.Int)
			if !ok {
				return nil, nil, ErrEventParsing{Event: event.Name, Err: fmt.Errorf("unexpected amount type %T", values[i])}
			}
			amounts[i] = v
		}
		amount0, amount1 := collapseInOut(amounts[0], amounts[1], amounts[2], amounts[3])
		return amount0, amount1, nil
	}

	return nil, nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
}

// collapseInOut folds the four V2 amounts into a signed pair. A zero
// amount0In means token1 was paid in and token0 paid out; otherwise token0
// was paid in. When both In legs are non-zero the token1 input is ignored.
func collapseInOut(amount0In, amount1In, amount0Out, amount1Out *big.Int) (*big.Int, *big.Int) {
	if amount0In.Sign() == 0 {
		return new(big.Int).Neg(amount0Out), new(big.Int).Set(amount1In)
	}
	return new(big.Int).Set(amount0In), new(big.Int).Set(amount1Out)
}
