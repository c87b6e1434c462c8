package news

import (
	"strings"

	"hightrade/internal/types"
)

// crisisKeywords maps each crisis family to the terms that vote for it.
// Dominance across a batch picks the signal's crisis type.
var crisisKeywords = map[types.CrisisType][]string{
	types.CrisisTechCrash:        {"tech", "valuation", "margin", "leverage", "overvalued"},
	types.CrisisGeopolitical:     {"tariff", "trade war", "china", "supply chain", "sanctions", "conflict"},
	types.CrisisLiquidityCredit:  {"liquidity", "credit", "spread", "financial stress", "banking"},
	types.CrisisInflationRate:    {"inflation", "yield", "rate", "fed", "tightening", "bonds"},
	types.CrisisSystemic:         {"contagion", "systemic", "default", "bailout", "bank run"},
	types.CrisisMarketCorrection: {"correction", "selloff", "drawdown", "decline", "drop", "crash"},
}

var bearishKeywords = []string{
	"crash", "collapse", "crisis", "plunge", "plummet", "fear", "panic",
	"sell-off", "selloff", "tumble", "slump", "recession", "depression",
	"downturn", "bearish", "warning", "alert", "emergency",
	"concern", "worry", "risk", "threat", "decline", "fall", "drop",
}

var bullishKeywords = []string{
	"rally", "surge", "soar", "recovery", "rebound", "deal", "agreement",
	"resolution", "bullish", "optimism", "growth", "gain",
	"rise", "climb", "advance", "breakthrough", "success", "profit",
	"strong", "robust", "improving", "upturn",
}

// classifier scores articles against the configured keyword sets.
type classifier struct {
	urgencyTiers map[types.Urgency][]string
	lexicon      []string
}

func newClassifier(urgencyKeywords map[string][]string, lexicon []string) *classifier {
	tiers := map[types.Urgency][]string{}
	for tier, words := range urgencyKeywords {
		tiers[types.Urgency(tier)] = lowerAll(words)
	}
	return &classifier{urgencyTiers: tiers, lexicon: lowerAll(lexicon)}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// urgency assigns the highest tier whose keyword set matches the text.
func (c *classifier) urgency(text string) types.Urgency {
	text = strings.ToLower(text)
	for _, tier := range []types.Urgency{types.UrgencyBreaking, types.UrgencyHigh} {
		for _, kw := range c.urgencyTiers[tier] {
			if strings.Contains(text, kw) {
				return tier
			}
		}
	}
	return types.UrgencyRoutine
}

// relevance scores keyword overlap with the lexicon into [0,1].
func (c *classifier) relevance(text string) float64 {
	if len(c.lexicon) == 0 {
		return 0.5
	}
	text = strings.ToLower(text)
	hits := 0
	for _, kw := range c.lexicon {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	// Four lexicon hits saturate relevance; one hit is already meaningful.
	score := float64(hits) / 4.0
	if score > 1 {
		score = 1
	}
	return score
}

// sentiment buckets text as bearish, bullish, or neutral by keyword counts.
func sentimentOf(text string) string {
	text = strings.ToLower(text)
	bearish, bullish := 0, 0
	for _, kw := range bearishKeywords {
		if strings.Contains(text, kw) {
			bearish++
		}
	}
	for _, kw := range bullishKeywords {
		if strings.Contains(text, kw) {
			bullish++
		}
	}
	switch {
	case bearish > bullish:
		return "bearish"
	case bullish > bearish:
		return "bullish"
	default:
		return "neutral"
	}
}

// crisisTypeOf returns the crisis family with the most keyword matches in
// text, or none when nothing matches.
func crisisTypeOf(text string) types.CrisisType {
	text = strings.ToLower(text)
	best := types.CrisisNone
	bestScore := 0
	// Deterministic order so ties resolve the same way every cycle.
	for _, ct := range []types.CrisisType{
		types.CrisisSystemic,
		types.CrisisLiquidityCredit,
		types.CrisisTechCrash,
		types.CrisisInflationRate,
		types.CrisisGeopolitical,
		types.CrisisMarketCorrection,
	} {
		score := 0
		for _, kw := range crisisKeywords[ct] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best = ct
			bestScore = score
		}
	}
	return best
}
