package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	cmcMapURL      = "https://s3.coinmarketcap.com/generated/core/crypto/cryptos.json"
	cmcChartURL    = "https://api.coinmarketcap.com/data-api/v3/cryptocurrency/detail/chart"
	cmcTimeout     = 30 * time.Second
	cmcRetryDelay  = 2 * time.Second
	cmcMaxRetries  = 3
	cmcListingTTL  = 24 * time.Hour
	cmcChartTTL    = 15 * time.Minute
	storeKeyPrefix = "cmc:"
)

// ErrNotListed is returned when a token address has no CoinMarketCap entry.
var ErrNotListed = errors.New("token not listed on coinmarketcap")

// CMCConfig configures the CoinMarketCap client. Zero values take defaults.
type CMCConfig struct {
	MapURL     string
	ChartURL   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	ChartTTL   time.Duration
}

// CMCClient prices tokens from CoinMarketCap's public chart data. Token
// addresses are mapped to CMC ids by scanning the listing file.
type CMCClient struct {
	httpClient *http.Client
	cfg        CMCConfig
	store      Store
	logger     zerolog.Logger

	ids    *xsync.Map[string, string]
	charts *xsync.Map[string, chartEntry]

	listingMu sync.Mutex
	listing   string
	listingAt time.Time
}

type chartEntry struct {
	points    []chartPoint
	fetchedAt time.Time
}

type chartPoint struct {
	ts    int64
	price decimal.Decimal
}

// NewCMCClient creates a client. store may be nil.
func NewCMCClient(cfg CMCConfig, store Store, logger zerolog.Logger) *CMCClient {
	if cfg.MapURL == "" {
		cfg.MapURL = cmcMapURL
	}
	if cfg.ChartURL == "" {
		cfg.ChartURL = cmcChartURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cmcTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = cmcMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = cmcRetryDelay
	}
	if cfg.ChartTTL <= 0 {
		cfg.ChartTTL = cmcChartTTL
	}
	return &CMCClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		store:      store,
		logger:     logger.With().Str("component", "cmc").Logger(),
		ids:        xsync.NewMap[string, string](),
		charts:     xsync.NewMap[string, chartEntry](),
	}
}

// USDPrice returns the quote nearest at or before at, or the earliest quote
// when the token's history starts after at. Every failure is a miss.
func (c *CMCClient) USDPrice(ctx context.Context, token string, at time.Time) (decimal.Decimal, bool) {
	id, err := c.TokenID(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrNotListed) {
			c.logger.Warn().Err(err).Str("token", token).Msg("Failed to map token to CMC id")
		}
		return decimal.Decimal{}, false
	}

	points, err := c.chart(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Str("token", token).Str("cmc_id", id).Msg("Failed to fetch CMC chart")
		return decimal.Decimal{}, false
	}
	return priceAt(points, at.Unix())
}

// priceAt expects points sorted by ascending timestamp.
func priceAt(points []chartPoint, ts int64) (decimal.Decimal, bool) {
	if len(points) == 0 {
		return decimal.Decimal{}, false
	}
	// first index with point.ts > ts
	i := sort.Search(len(points), func(i int) bool { return points[i].ts > ts })
	if i == 0 {
		return points[0].price, true
	}
	return points[i-1].price, true
}

// TokenID maps a token contract address to its CoinMarketCap id.
func (c *CMCClient) TokenID(ctx context.Context, token string) (string, error) {
	token = strings.ToLower(token)
	if id, ok := c.ids.Load(token); ok {
		return id, nil
	}

	storeKey := storeKeyPrefix + "id:" + token
	if id, ok := c.storeGet(ctx, storeKey); ok {
		c.ids.Store(token, id)
		return id, nil
	}

	listing, err := c.loadListing(ctx)
	if err != nil {
		return "", err
	}
	id, ok := findTokenID(listing, token)
	if !ok {
		return "", ErrNotListed
	}

	c.ids.Store(token, id)
	c.storeSet(ctx, storeKey, id, 0)
	return id, nil
}

// findTokenID locates the listing row that contains the address and returns
// the row's first element. listing must be compact, lowercased JSON.
func findTokenID(listing, token string) (string, bool) {
	pattern, err := regexp.Compile(`\[([^\[]*?),([^\[]*?)\[([^\[]*?)` + regexp.QuoteMeta(token))
	if err != nil {
		return "", false
	}
	m := pattern.FindStringSubmatch(listing)
	if m == nil {
		return "", false
	}
	id := strings.Trim(m[1], `" `)
	if id == "" {
		return "", false
	}
	return id, true
}

func (c *CMCClient) loadListing(ctx context.Context) (string, error) {
	c.listingMu.Lock()
	defer c.listingMu.Unlock()

	if c.listing != "" && time.Since(c.listingAt) < cmcListingTTL {
		return c.listing, nil
	}

	body, err := c.get(ctx, c.cfg.MapURL)
	if err != nil {
		return "", fmt.Errorf("fetch listing: %w", err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", fmt.Errorf("decode listing: %w", err)
	}

	c.listing = strings.ToLower(compact.String())
	c.listingAt = time.Now()
	c.logger.Info().Int("bytes", len(c.listing)).Msg("Loaded CMC listing")
	return c.listing, nil
}

type chartResponse struct {
	Data struct {
		Points map[string]struct {
			V []json.Number `json:"v"`
		} `json:"points"`
	} `json:"data"`
}

func (c *CMCClient) chart(ctx context.Context, id string) ([]chartPoint, error) {
	if entry, ok := c.charts.Load(id); ok && time.Since(entry.fetchedAt) < c.cfg.ChartTTL {
		return entry.points, nil
	}

	storeKey := storeKeyPrefix + "chart:" + id
	body, cached := c.storeGetBytes(ctx, storeKey)
	if !cached {
		var err error
		url := fmt.Sprintf("%s?id=%s&range=ALL", c.cfg.ChartURL, id)
		body, err = c.get(ctx, url)
		if err != nil {
			return nil, err
		}
	}

	points, err := parseChart(body)
	if err != nil {
		return nil, err
	}
	if !cached {
		c.storeSet(ctx, storeKey, string(body), c.cfg.ChartTTL)
	}
	c.charts.Store(id, chartEntry{points: points, fetchedAt: time.Now()})
	return points, nil
}

func parseChart(body []byte) ([]chartPoint, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chart: %w", err)
	}

	points := make([]chartPoint, 0, len(resp.Data.Points))
	for key, p := range resp.Data.Points {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil || len(p.V) == 0 {
			continue
		}
		price, err := decimal.NewFromString(p.V[0].String())
		if err != nil {
			continue
		}
		points = append(points, chartPoint{ts: ts, price: price})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ts < points[j].ts })
	return points, nil
}

func (c *CMCClient) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request to %s: %w", url, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed (attempt %d/%d): %w", attempt+1, c.cfg.MaxRetries, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (attempt %d/%d)", attempt+1, c.cfg.MaxRetries)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d (attempt %d/%d): %s", resp.StatusCode, attempt+1, c.cfg.MaxRetries, truncate(body, 200))
			continue
		}
		if err != nil {
			lastErr = fmt.Errorf("read body (attempt %d/%d): %w", attempt+1, c.cfg.MaxRetries, err)
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

func (c *CMCClient) storeGet(ctx context.Context, key string) (string, bool) {
	if c.store == nil {
		return "", false
	}
	v, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Price store read failed")
		}
		return "", false
	}
	return v, true
}

func (c *CMCClient) storeGetBytes(ctx context.Context, key string) ([]byte, bool) {
	v, ok := c.storeGet(ctx, key)
	return []byte(v), ok
}

func (c *CMCClient) storeSet(ctx context.Context, key, value string, ttl time.Duration) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Price store write failed")
	}
}
