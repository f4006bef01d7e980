package metadata

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// PoolSource returns the two token addresses of a pool.
type PoolSource interface {
	PoolTokens(ctx context.Context, pool common.Address) (common.Address, common.Address, error)
}

// TokenSource returns symbol and decimals for a token.
type TokenSource interface {
	TokenMetadata(ctx context.Context, token common.Address) (TokenInfo, error)
}

// Cache memoizes pool and token metadata for the lifetime of the process.
// Entries are never evicted. Two concurrent misses for the same key both
// fetch and store; the values are identical so the last write wins.
type Cache struct {
	pools       *xsync.Map[common.Address, PoolInfo]
	tokens      *xsync.Map[common.Address, TokenInfo]
	poolSource  PoolSource
	tokenSource TokenSource
	logger      zerolog.Logger
}

func NewCache(pools PoolSource, tokens TokenSource, logger zerolog.Logger) *Cache {
	return &Cache{
		pools:       xsync.NewMap[common.Address, PoolInfo](),
		tokens:      xsync.NewMap[common.Address, TokenInfo](),
		poolSource:  pools,
		tokenSource: tokens,
		logger:      logger.With().Str("component", "metadata_cache").Logger(),
	}
}

// ResolvePool returns the pool's tokens with their metadata.
func (c *Cache) ResolvePool(ctx context.Context, pool common.Address) (PoolInfo, error) {
	if info, ok := c.pools.Load(pool); ok {
		return info, nil
	}

	type pair struct{ token0, token1 common.Address }
	tokens, err := retryOnce(func() (pair, error) {
		t0, t1, err := c.poolSource.PoolTokens(ctx, pool)
		return pair{t0, t1}, err
	})
	if err != nil {
		return PoolInfo{}, ErrResolve{Kind: "pool", Address: pool, Err: err}
	}

	token0, err := c.ResolveToken(ctx, tokens.token0)
	if err != nil {
		return PoolInfo{}, err
	}
	token1, err := c.ResolveToken(ctx, tokens.token1)
	if err != nil {
		return PoolInfo{}, err
	}

	info := PoolInfo{Address: pool, Token0: token0, Token1: token1}
	c.pools.Store(pool, info)

	c.logger.Debug().
		Str("pool", pool.Hex()).
		Str("token0", token0.Symbol).
		Str("token1", token1.Symbol).
		Msg("Resolved pool")
	return info, nil
}

// ResolveToken returns symbol and decimals for a token address.
func (c *Cache) ResolveToken(ctx context.Context, token common.Address) (TokenInfo, error) {
	if info, ok := c.tokens.Load(token); ok {
		return info, nil
	}

	info, err := retryOnce(func() (TokenInfo, error) {
		return c.tokenSource.TokenMetadata(ctx, token)
	})
	if err != nil {
		return TokenInfo{}, ErrResolve{Kind: "token", Address: token, Err: err}
	}
	info.Address = token
	c.tokens.Store(token, info)
	return info, nil
}

// Size reports the number of cached pools and tokens.
func (c *Cache) Size() (pools, tokens int) {
	return c.pools.Size(), c.tokens.Size()
}

func retryOnce[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	return fn()
}
