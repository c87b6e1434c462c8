package defcon

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hightrade/internal/config"
)

func defaultWeights() config.DefconWeights {
	return config.DefconWeights{News: 0.40, VIX: 0.20, Yield: 0.15, SP500: 0.15, Breaking: 0.10}
}

func TestLevelMapping(t *testing.T) {
	cases := []struct {
		score float64
		level int
	}{
		{0, 5}, {29.9, 5},
		{30, 4}, {49.9, 4},
		{50, 3}, {69.9, 3},
		{70, 2}, {84.9, 2},
		{85, 1}, {100, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, Level(tc.score), "score %.1f", tc.score)
	}
}

func TestLevelMonotoneInScore(t *testing.T) {
	prev := 5
	for score := 0.0; score <= 100; score += 0.5 {
		lvl := Level(score)
		assert.LessOrEqual(t, lvl, prev, "level rose from %d to %d at score %.1f", prev, lvl, score)
		prev = lvl
	}
}

func TestScoreBoundedForExtremes(t *testing.T) {
	inputs := []Input{
		{},
		{NewsScore: 100, VIX: 90, Yield10Y: 10, SP500Pct: -50, BreakingCount: 100},
		{NewsScore: -20, VIX: -5, Yield10Y: 3.5, SP500Pct: 20, BreakingCount: 0},
	}
	for _, in := range inputs {
		res := Score(in, defaultWeights())
		assert.GreaterOrEqual(t, res.Score, 0.0)
		assert.LessOrEqual(t, res.Score, 100.0)
		assert.GreaterOrEqual(t, res.Level, 1)
		assert.LessOrEqual(t, res.Level, 5)
	}
}

func TestScorePeacetime(t *testing.T) {
	res := Score(Input{NewsScore: 5, VIX: 15, Yield10Y: 3.5, SP500Pct: 0.2}, defaultWeights())
	assert.Equal(t, 5, res.Level)
	assert.InDelta(t, 2.0, res.Score, 1e-9) // only the news term contributes
	assert.Equal(t, ReasonNews, res.ReasonCode)
}

func TestScoreCrisisComposition(t *testing.T) {
	// Saturated sub-signals: 40 + 20 + 15 + 15 + 10 = 100.
	res := Score(Input{NewsScore: 100, VIX: 40, Yield10Y: 5.5, SP500Pct: -3, BreakingCount: 5}, defaultWeights())
	assert.InDelta(t, 100, res.Score, 1e-9)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, ReasonNews, res.ReasonCode)
}

func TestReasonCodePicksLargestContribution(t *testing.T) {
	// VIX pinned, everything else quiet.
	res := Score(Input{NewsScore: 0, VIX: 45, Yield10Y: 3.5, SP500Pct: 0}, defaultWeights())
	assert.Equal(t, ReasonVIX, res.ReasonCode)
	assert.InDelta(t, 20, res.Score, 1e-9)

	res = Score(Input{NewsScore: 0, VIX: 15, Yield10Y: 3.5, SP500Pct: 0, BreakingCount: 4}, defaultWeights())
	assert.Equal(t, ReasonBreaking, res.ReasonCode)
	assert.InDelta(t, 8, res.Score, 1e-9)
}

func TestVIXNormalization(t *testing.T) {
	w := config.DefconWeights{VIX: 1} // isolate the component
	assert.InDelta(t, 0, Score(Input{VIX: 15}, w).Score, 1e-9)
	assert.InDelta(t, 40, Score(Input{VIX: 25}, w).Score, 1e-9)
	assert.InDelta(t, 100, Score(Input{VIX: 40}, w).Score, 1e-9)
	assert.InDelta(t, 100, Score(Input{VIX: 80}, w).Score, 1e-9)
}

func TestYieldNormalizationIsSymmetric(t *testing.T) {
	w := config.DefconWeights{Yield: 1}
	assert.InDelta(t, Score(Input{Yield10Y: 2.5}, w).Score, Score(Input{Yield10Y: 4.5}, w).Score, 1e-9)
	assert.InDelta(t, 100, Score(Input{Yield10Y: 6.0}, w).Score, 1e-9)
	assert.InDelta(t, 0, Score(Input{Yield10Y: 3.5}, w).Score, 1e-9)
}

func TestDrawdownIgnoresRallies(t *testing.T) {
	w := config.DefconWeights{SP500: 1}
	assert.InDelta(t, 0, Score(Input{SP500Pct: 2.0}, w).Score, 1e-9)
	assert.InDelta(t, 50, Score(Input{SP500Pct: -1.5}, w).Score, 1e-9)
	assert.InDelta(t, 100, Score(Input{SP500Pct: -3.0}, w).Score, 1e-9)
}
