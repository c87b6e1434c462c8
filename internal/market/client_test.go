package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hightrade/internal/config"
	"hightrade/internal/ratelimit"
)

func testLimiter() *ratelimit.Limiter {
	l := ratelimit.New()
	l.Configure("quotes", 6000, 0)
	return l
}

func chartPayload(price, prevClose float64) string {
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"regularMarketPrice":%f,"chartPreviousClose":%f}}]}}`, price, prevClose)
}

func TestQuoteParsesChartPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartPayload(431.5, 425.0))
	}))
	defer srv.Close()

	c := NewClient(config.MarketConfig{
		QuoteEndpoint:  srv.URL,
		RateLimiterKey: "quotes",
	}, testLimiter())

	price, stale := c.Quote(context.Background(), "QQQ")
	assert.False(t, stale)
	assert.InDelta(t, 431.5, price, 1e-9)
}

func TestQuoteFallsBackToSyntheticOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(config.MarketConfig{
		QuoteEndpoint:  srv.URL,
		RateLimiterKey: "quotes",
	}, testLimiter())
	c.remember("QQQ", 400)

	price, stale := c.Quote(context.Background(), "QQQ")
	assert.True(t, stale)
	// Synthetic walk stays within ±2% of the last known price.
	assert.InDelta(t, 400, price, 400*0.02+1e-9)
}

func TestSyntheticSeedsUnknownSymbol(t *testing.T) {
	c := NewClient(config.MarketConfig{}, testLimiter())
	price := c.synthetic("NEW")
	assert.InDelta(t, seedPrice, price, seedPrice*0.02+1e-9)
}

func TestSnapshotMarksStaleWhenAnyComponentSynthetic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Quotes succeed, FRED is not configured, so yield falls back.
		fmt.Fprint(w, chartPayload(100, 99))
	}))
	defer srv.Close()

	c := NewClient(config.MarketConfig{
		Symbols:        []string{"MSFT"},
		QuoteEndpoint:  srv.URL,
		RateLimiterKey: "quotes",
	}, testLimiter())

	snap := c.Snapshot(context.Background())
	assert.True(t, snap.Stale)
	assert.InDelta(t, 100.0, snap.Prices["MSFT"], 1e-9)
	assert.InDelta(t, seedYield, snap.BondYield10Y, 1e-9)
	assert.InDelta(t, (100.0-99.0)/99.0*100, snap.SP500Change, 1e-9)
}

func TestFetchYieldSkipsPlaceholderObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations":[{"date":"2026-03-02","value":"."},{"date":"2026-03-01","value":"4.12"}]}`)
	}))
	defer srv.Close()

	c := NewClient(config.MarketConfig{
		YieldEndpoint:  srv.URL,
		FredAPIKey:     "test",
		RateLimiterKey: "quotes",
	}, testLimiter())

	yield, err := c.fetchYield(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 4.12, yield, 1e-9)
}
