package ledger

import "hightrade/internal/types"

// crisisAssets maps each crisis family to the symbols an entry proposal
// recommends, ordered primary / secondary / tertiary.
var crisisAssets = map[types.CrisisType][]string{
	types.CrisisTechCrash:        {"VTI", "IVV", "GOOGL"},
	types.CrisisGeopolitical:     {"QQQ", "MSFT", "NVDA"},
	types.CrisisLiquidityCredit:  {"MSFT", "GOOGL", "QQQ"},
	types.CrisisInflationRate:    {"QQQ", "NVDA", "MSFT"},
	types.CrisisSystemic:         {"VTI", "IVV", "MSFT"},
	types.CrisisMarketCorrection: {"GOOGL", "NVDA", "MSFT"},
}

// RecommendAssets picks the symbols to propose for a crisis type. An unknown
// or empty crisis falls back to the broad-correction basket.
func RecommendAssets(crisis types.CrisisType) []string {
	if symbols, ok := crisisAssets[crisis]; ok {
		return symbols
	}
	return crisisAssets[types.CrisisMarketCorrection]
}
