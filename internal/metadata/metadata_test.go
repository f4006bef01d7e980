package metadata

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddr = common.HexToAddress("0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852")
	wethAddr = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	usdtAddr = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	mkrAddr  = common.HexToAddress("0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2")
)

// fakeCaller answers eth_call by contract address and method selector.
type fakeCaller struct {
	responses map[common.Address]map[[4]byte][]byte
	fail      map[common.Address]error
}

func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err, ok := f.fail[*call.To]; ok {
		return nil, err
	}
	var sel [4]byte
	copy(sel[:], call.Data[:4])
	return f.responses[*call.To][sel], nil
}

func (f *fakeCaller) set(t *testing.T, addr common.Address, method string, value any) {
	t.Helper()
	m, ok := pairABI.Methods[method]
	if !ok {
		m = erc20ABI.Methods[method]
	}
	if _, isBytes := value.([32]byte); isBytes {
		m = erc20Bytes32ABI.Methods[method]
	}
	packed, err := m.Outputs.Pack(value)
	require.NoError(t, err)

	if f.responses[addr] == nil {
		f.responses[addr] = make(map[[4]byte][]byte)
	}
	var sel [4]byte
	copy(sel[:], m.ID)
	f.responses[addr][sel] = packed
}

func newFakeCaller(t *testing.T) *fakeCaller {
	f := &fakeCaller{
		responses: make(map[common.Address]map[[4]byte][]byte),
		fail:      make(map[common.Address]error),
	}
	f.set(t, poolAddr, "token0", wethAddr)
	f.set(t, poolAddr, "token1", usdtAddr)
	f.set(t, wethAddr, "symbol", "WETH")
	f.set(t, wethAddr, "decimals", uint8(18))
	f.set(t, usdtAddr, "symbol", "USDT")
	f.set(t, usdtAddr, "decimals", uint8(6))
	return f
}

func TestContractSourcePoolTokens(t *testing.T) {
	src := NewContractSource(newFakeCaller(t))

	t0, t1, err := src.PoolTokens(context.Background(), poolAddr)
	require.NoError(t, err)
	assert.Equal(t, wethAddr, t0)
	assert.Equal(t, usdtAddr, t1)
}

func TestContractSourceTokenMetadata(t *testing.T) {
	caller := newFakeCaller(t)
	var mkrSymbol [32]byte
	copy(mkrSymbol[:], "MKR")
	caller.set(t, mkrAddr, "symbol", mkrSymbol)
	caller.set(t, mkrAddr, "decimals", uint8(18))

	src := NewContractSource(caller)

	tests := []struct {
		name     string
		token    common.Address
		symbol   string
		decimals uint8
	}{
		{"string symbol", usdtAddr, "USDT", 6},
		{"bytes32 symbol", mkrAddr, "MKR", 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := src.TokenMetadata(context.Background(), tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, info.Symbol)
			assert.Equal(t, tt.decimals, info.Decimals)
		})
	}
}

type countingTokens struct {
	calls    atomic.Int32
	failures int32
	infos    map[common.Address]TokenInfo
}

func (c *countingTokens) TokenMetadata(ctx context.Context, token common.Address) (TokenInfo, error) {
	n := c.calls.Add(1)
	if n <= c.failures {
		return TokenInfo{}, errors.New("metadata unavailable")
	}
	return c.infos[token], nil
}

type staticPools map[common.Address][2]common.Address

func (s staticPools) PoolTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error) {
	p, ok := s[pool]
	if !ok {
		return common.Address{}, common.Address{}, errors.New("not a pool")
	}
	return p[0], p[1], nil
}

func TestCacheResolvePoolMemoizes(t *testing.T) {
	tokens := &countingTokens{infos: map[common.Address]TokenInfo{
		wethAddr: {Symbol: "WETH", Decimals: 18},
		usdtAddr: {Symbol: "USDT", Decimals: 6},
	}}
	cache := NewCache(staticPools{poolAddr: {wethAddr, usdtAddr}}, tokens, zerolog.Nop())

	for i := 0; i < 3; i++ {
		info, err := cache.ResolvePool(context.Background(), poolAddr)
		require.NoError(t, err)
		assert.Equal(t, "WETH", info.Token0.Symbol)
		assert.Equal(t, wethAddr, info.Token0.Address)
		assert.Equal(t, uint8(6), info.Token1.Decimals)
	}

	assert.Equal(t, int32(2), tokens.calls.Load())
	pools, cached := cache.Size()
	assert.Equal(t, 1, pools)
	assert.Equal(t, 2, cached)
}

func TestCacheRetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		wantErr   bool
		wantCalls int32
	}{
		{"first attempt succeeds", 0, false, 1},
		{"retry succeeds", 1, false, 2},
		{"both attempts fail", 2, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &countingTokens{
				failures: tt.failures,
				infos:    map[common.Address]TokenInfo{usdtAddr: {Symbol: "USDT", Decimals: 6}},
			}
			cache := NewCache(staticPools{}, tokens, zerolog.Nop())

			info, err := cache.ResolveToken(context.Background(), usdtAddr)
			if tt.wantErr {
				var resolveErr ErrResolve
				require.ErrorAs(t, err, &resolveErr)
				assert.Equal(t, "token", resolveErr.Kind)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "USDT", info.Symbol)
			}
			assert.Equal(t, tt.wantCalls, tokens.calls.Load())
		})
	}
}

func TestCacheUnknownPool(t *testing.T) {
	cache := NewCache(staticPools{}, &countingTokens{}, zerolog.Nop())

	_, err := cache.ResolvePool(context.Background(), poolAddr)
	var resolveErr ErrResolve
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "pool", resolveErr.Kind)
	assert.Equal(t, poolAddr, resolveErr.Address)
}
