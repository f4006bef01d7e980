package metadata

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/rpc"
)

const pairABIString = `[
	{"constant":true,"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"token1","outputs":[{"name":"","type":"address"}],"type":"function"}
]`

const erc20ABIString = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// Some early tokens (MKR, SAI) return symbol as bytes32.
const erc20Bytes32ABIString = `[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

var (
	pairABI         = mustParseABI(pairABIString)
	erc20ABI        = mustParseABI(erc20ABIString)
	erc20Bytes32ABI = mustParseABI(erc20Bytes32ABIString)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// ContractSource reads pool and token metadata with eth_call.
type ContractSource struct {
	caller bind.ContractCaller
}

func NewContractSource(caller bind.ContractCaller) *ContractSource {
	return &ContractSource{caller: caller}
}

// PoolTokens calls token0() and token1() on a Uniswap V2 pair or V3 pool.
func (s *ContractSource) PoolTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	contract := bind.NewBoundContract(pool, pairABI, s.caller, nil, nil)
	opts := &bind.CallOpts{Context: ctx}

	token0, err := callAddress(contract, opts, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := callAddress(contract, opts, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

func callAddress(contract *bind.BoundContract, opts *bind.CallOpts, method string) (common.Address, error) {
	var out []interface{}
	if err := contract.Call(opts, &out, method); err != nil {
		return common.Address{}, fmt.Errorf("failed to call %s: %w", method, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output %T", method, out[0])
	}
	return addr, nil
}

// TokenMetadata calls symbol() and decimals(). A token without a readable
// symbol gets an empty one; decimals() must succeed.
func (s *ContractSource) TokenMetadata(ctx context.Context, token common.Address) (TokenInfo, error) {
	opts := &bind.CallOpts{Context: ctx}
	contract := bind.NewBoundContract(token, erc20ABI, s.caller, nil, nil)

	var out []interface{}
	if err := contract.Call(opts, &out, "decimals"); err != nil {
		return TokenInfo{}, fmt.Errorf("failed to call decimals: %w", err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return TokenInfo{}, fmt.Errorf("unexpected decimals output %T", out[0])
	}

	return TokenInfo{
		Address:  token,
		Symbol:   s.symbol(opts, token, contract),
		Decimals: decimals,
	}, nil
}

func (s *ContractSource) symbol(opts *bind.CallOpts, token common.Address, contract *bind.BoundContract) string {
	var out []interface{}
	if err := contract.Call(opts, &out, "symbol"); err == nil {
		if sym, ok := out[0].(string); ok {
			return sym
		}
	}

	out = nil
	legacy := bind.NewBoundContract(token, erc20Bytes32ABI, s.caller, nil, nil)
	if err := legacy.Call(opts, &out, "symbol"); err != nil {
		return ""
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return ""
	}
	return string(bytes.TrimRight(raw[:], "\x00"))
}

// AlchemySource reads token metadata through alchemy_getTokenMetadata.
type AlchemySource struct {
	client *rpc.Client
}

func NewAlchemySource(client *rpc.Client) *AlchemySource {
	return &AlchemySource{client: client}
}

func (s *AlchemySource) TokenMetadata(ctx context.Context, token common.Address) (TokenInfo, error) {
	meta, err := s.client.GetTokenMetadata(ctx, token)
	if err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{Address: token, Decimals: DefaultDecimals}
	if meta.Symbol != nil {
		info.Symbol = *meta.Symbol
	}
	if meta.Decimals != nil && *meta.Decimals >= 0 && *meta.Decimals <= 255 {
		info.Decimals = uint8(*meta.Decimals)
	}
	return info, nil
}
