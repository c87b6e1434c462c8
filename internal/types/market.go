package types

import "time"

// MarketSnapshot is one cycle's view of the market. Stale means at least one
// component came from the synthetic fallback; the ledger must not open new
// positions from a stale snapshot.
type MarketSnapshot struct {
	Timestamp    time.Time          `json:"timestamp"`
	VIX          float64            `json:"vix"`
	BondYield10Y float64            `json:"bond_yield_10y"`
	SP500Change  float64            `json:"sp500_change_pct"`
	Prices       map[string]float64 `json:"per_symbol_price"`
	Stale        bool               `json:"stale"`
}

// Price looks up a per-symbol price; ok is false when the symbol was not quoted.
func (s MarketSnapshot) Price(symbol string) (float64, bool) {
	p, ok := s.Prices[symbol]
	return p, ok
}

// DefconState records one level transition. Level 5 is peacetime, 1 is crisis.
type DefconState struct {
	Level       int       `json:"level"`
	SignalScore float64   `json:"signal_score"`
	EnteredAt   time.Time `json:"entered_at"`
	ReasonCode  string    `json:"reason_code"`
}
