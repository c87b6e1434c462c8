package market

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/ratelimit"
	"hightrade/internal/types"
)

const requestTimeout = 5 * time.Second

// Seed values used for synthetic fallback before any real data arrives.
const (
	seedVIX   = 18.5
	seedYield = 3.8
	seedPrice = 100.0
)

// Client fetches quotes and macro series, falling back to synthetic values
// when an upstream is unavailable. Snapshots built from any synthetic
// component are marked stale; the ledger refuses new entries on stale data.
type Client struct {
	cfg     config.MarketConfig
	limiter *ratelimit.Limiter
	client  *http.Client

	mu        sync.Mutex
	lastPrice map[string]float64
	lastVIX   float64
	lastYield float64
	rnd       *rand.Rand

	nowFn func() time.Time
}

func NewClient(cfg config.MarketConfig, limiter *ratelimit.Limiter) *Client {
	return &Client{
		cfg:       cfg,
		limiter:   limiter,
		client:    &http.Client{Timeout: requestTimeout},
		lastPrice: make(map[string]float64),
		lastVIX:   seedVIX,
		lastYield: seedYield,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		nowFn:     time.Now,
	}
}

// Snapshot assembles one cycle's market view. Per-symbol quotes and the macro
// series fetch in parallel; the join happens before scoring ever sees it.
func (c *Client) Snapshot(ctx context.Context) types.MarketSnapshot {
	snap := types.MarketSnapshot{
		Timestamp: c.nowFn(),
		Prices:    make(map[string]float64, len(c.cfg.Symbols)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vix, yield, spPct, stale := c.macro(gctx)
		mu.Lock()
		snap.VIX, snap.BondYield10Y, snap.SP500Change = vix, yield, spPct
		snap.Stale = snap.Stale || stale
		mu.Unlock()
		return nil
	})
	for _, symbol := range c.cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			price, stale := c.Quote(gctx, symbol)
			mu.Lock()
			snap.Prices[symbol] = price
			snap.Stale = snap.Stale || stale
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

// Quote returns the latest price for symbol. stale is true when the value is
// a synthetic walk off the last known price rather than a live quote.
func (c *Client) Quote(ctx context.Context, symbol string) (price float64, stale bool) {
	p, _, err := c.fetchChart(ctx, symbol)
	if err != nil {
		logger.Warnf("quote %s unavailable, using synthetic fallback: %v", symbol, err)
		return c.synthetic(symbol), true
	}
	c.remember(symbol, p)
	return p, false
}

// macro fetches VIX, the 10-year yield, and the S&P 500 day change.
func (c *Client) macro(ctx context.Context) (vix, yield, spPct float64, stale bool) {
	v, _, err := c.fetchChart(ctx, "^VIX")
	if err != nil {
		logger.Warnf("vix unavailable, using last known: %v", err)
		c.mu.Lock()
		vix, stale = c.lastVIX, true
		c.mu.Unlock()
	} else {
		vix = v
		c.mu.Lock()
		c.lastVIX = v
		c.mu.Unlock()
	}

	y, err := c.fetchYield(ctx)
	if err != nil {
		logger.Warnf("10y yield unavailable, using last known: %v", err)
		c.mu.Lock()
		yield, stale = c.lastYield, true
		c.mu.Unlock()
	} else {
		yield = y
		c.mu.Lock()
		c.lastYield = y
		c.mu.Unlock()
	}

	price, prevClose, err := c.fetchChart(ctx, "^GSPC")
	if err != nil || prevClose == 0 {
		logger.Warnf("sp500 unavailable, treating day change as flat: %v", err)
		return vix, yield, 0, true
	}
	return vix, yield, (price - prevClose) / prevClose * 100, stale
}

// fetchChart hits the chart endpoint and returns (price, previous close).
func (c *Client) fetchChart(ctx context.Context, symbol string) (float64, float64, error) {
	if err := c.acquire(ctx); err != nil {
		return 0, 0, err
	}
	u := fmt.Sprintf("%s/%s?interval=1d&range=1d", c.cfg.QuoteEndpoint, url.PathEscape(symbol))
	body, err := c.get(ctx, u)
	if err != nil {
		return 0, 0, err
	}
	meta := gjson.GetBytes(body, "chart.result.0.meta")
	if !meta.Exists() {
		c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOtherError)
		return 0, 0, fmt.Errorf("market: malformed chart payload for %s", symbol)
	}
	price := meta.Get("regularMarketPrice").Float()
	if price <= 0 {
		c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOtherError)
		return 0, 0, fmt.Errorf("market: no price in chart payload for %s", symbol)
	}
	c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOK)
	return price, meta.Get("chartPreviousClose").Float(), nil
}

// fetchYield reads the latest DGS10 observation from FRED, skipping the "."
// placeholders FRED publishes on market holidays.
func (c *Client) fetchYield(ctx context.Context) (float64, error) {
	if c.cfg.FredAPIKey == "" {
		return 0, fmt.Errorf("market: fred api key not configured")
	}
	if err := c.acquire(ctx); err != nil {
		return 0, err
	}
	u := fmt.Sprintf("%s?series_id=DGS10&api_key=%s&file_type=json&sort_order=desc&limit=5",
		c.cfg.YieldEndpoint, url.QueryEscape(c.cfg.FredAPIKey))
	body, err := c.get(ctx, u)
	if err != nil {
		return 0, err
	}
	var yield float64
	found := false
	gjson.GetBytes(body, "observations").ForEach(func(_, obs gjson.Result) bool {
		if obs.Get("value").String() == "." {
			return true
		}
		yield = obs.Get("value").Float()
		found = true
		return false
	})
	if !found {
		c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOtherError)
		return 0, fmt.Errorf("market: no usable DGS10 observation")
	}
	c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOK)
	return yield, nil
}

func (c *Client) acquire(ctx context.Context) error {
	if c.cfg.RateLimiterKey == "" {
		return nil
	}
	return c.limiter.Acquire(ctx, c.cfg.RateLimiterKey)
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "HighTrade/1.0")
	resp, err := c.client.Do(req)
	if err != nil {
		if c.cfg.RateLimiterKey != "" {
			c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOtherError)
		}
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		if c.cfg.RateLimiterKey != "" {
			c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeRateLimited)
		}
		return nil, fmt.Errorf("market: upstream rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		if c.cfg.RateLimiterKey != "" {
			c.limiter.Record(c.cfg.RateLimiterKey, ratelimit.OutcomeOtherError)
		}
		return nil, fmt.Errorf("market: status %d from %s", resp.StatusCode, u)
	}
	return io.ReadAll(resp.Body)
}

// synthetic walks the last known price by up to ±2%, the documented fallback
// for an unavailable quote source.
func (c *Client) synthetic(symbol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastPrice[symbol]
	if !ok || last <= 0 {
		last = seedPrice
	}
	price := last * (0.98 + c.rnd.Float64()*0.04)
	c.lastPrice[symbol] = price
	return price
}

func (c *Client) remember(symbol string, price float64) {
	c.mu.Lock()
	c.lastPrice[symbol] = price
	c.mu.Unlock()
}
