package metadata

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals applies when a token does not report its precision.
const DefaultDecimals uint8 = 18

// TokenInfo describes an ERC-20 token. Symbol may be empty for tokens that do
// not implement symbol().
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// PoolInfo is a pool with its tokens in the pool contract's own order.
type PoolInfo struct {
	Address common.Address
	Token0  TokenInfo
	Token1  TokenInfo
}

// ErrResolve reports a lookup that failed after its retry.
type ErrResolve struct {
	Kind    string
	Address common.Address
	Err     error
}

func (e ErrResolve) Error() string {
	return fmt.Sprintf("failed to resolve %s %s: %v", e.Kind, e.Address.Hex(), e.Err)
}

func (e ErrResolve) Unwrap() error {
	return e.Err
}
