package prices

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Provider exposes point-in-time token→USD lookups.
type Provider interface {
	// USDPrice returns the USD price of token (a contract address) at or
	// before at. ok=false when no price can be found.
	USDPrice(ctx context.Context, token string, at time.Time) (price decimal.Decimal, ok bool)
}

type cacheKey struct {
	token  string
	minute int64
}

type cacheEntry struct {
	price decimal.Decimal
	ok    bool
}

// CachedProvider memoizes another Provider per token and minute, including
// misses, with FIFO eviction.
type CachedProvider struct {
	next          Provider
	maxCacheItems int

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
	fifo  []cacheKey
}

// NewCachedProvider wraps next with an in-memory cache.
func NewCachedProvider(next Provider, maxCacheItems int) *CachedProvider {
	if maxCacheItems <= 0 {
		maxCacheItems = 10_000
	}
	return &CachedProvider{
		next:          next,
		maxCacheItems: maxCacheItems,
		cache:         make(map[cacheKey]cacheEntry, maxCacheItems),
		fifo:          make([]cacheKey, 0, maxCacheItems),
	}
}

// normalize to UTC minute bucket
func minuteBucket(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Minute)
}

func (p *CachedProvider) USDPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, bool) {
	key := cacheKey{token: strings.ToLower(token), minute: minuteBucket(at).Unix()}

	p.mu.RLock()
	if entry, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return entry.price, entry.ok
	}
	p.mu.RUnlock()

	price, ok := p.next.USDPrice(ctx, token, at)
	if ctx.Err() != nil {
		// don't remember misses caused by cancellation
		return price, ok
	}

	p.mu.Lock()
	if _, exists := p.cache[key]; !exists {
		p.cache[key] = cacheEntry{price: price, ok: ok}
		p.fifo = append(p.fifo, key)
		if len(p.fifo) > p.maxCacheItems {
			old := p.fifo[0]
			p.fifo = p.fifo[1:]
			delete(p.cache, old)
		}
	}
	p.mu.Unlock()

	return price, ok
}
