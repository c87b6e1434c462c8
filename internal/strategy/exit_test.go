package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hightrade/internal/config"
	"hightrade/internal/types"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(config.ExitConfig{
		ProfitTarget:   0.05,
		StopLoss:       -0.03,
		TrailingStop:   0.02,
		MaxHoldHours:   72,
		MinHoldMinutes: 60,
	})
}

func openPosition(entry, peak, current float64, entryDefcon int, held time.Duration, now time.Time) types.Position {
	return types.Position{
		ID:           "p1",
		Symbol:       "QQQ",
		Qty:          10,
		EntryPrice:   entry,
		EntryTime:    now.Add(-held),
		EntryDefcon:  entryDefcon,
		PeakPrice:    peak,
		CurrentPrice: current,
		Status:       types.PositionOpen,
	}
}

func TestNoExitWithinMinHold(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	// Down 10%: stop loss would fire, but the position is 30 minutes old.
	p := openPosition(100, 100, 90, 3, 30*time.Minute, now)
	assert.Nil(t, e.Evaluate(p, Context{Now: now, CurrentDefcon: 3}))
}

func TestStopLossOutranksProfitTakingPaths(t *testing.T) {
	// Entry $100 at DEFCON 3, marked to $103 then $95 in the same cycle:
	// peak is 103, the -2% trailing drawdown is satisfied, but stop loss
	// (priority 5) wins.
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 103, 95, 3, 2*time.Hour, now)

	d := e.Evaluate(p, Context{Now: now, CurrentDefcon: 3})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitStopLoss, d.Reason)
	assert.Equal(t, 5, d.Priority)
	assert.InDelta(t, -0.05, d.PnLPct, 1e-9)
	assert.InDelta(t, 95, d.ExitPrice, 1e-9)
}

func TestProfitTargetFires(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 105.5, 105.5, 2, 2*time.Hour, now)

	d := e.Evaluate(p, Context{Now: now, CurrentDefcon: 2})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitProfitTarget, d.Reason)
	assert.InDelta(t, 0.055, d.PnLPct, 1e-9)
}

func TestTrailingStopProtectsGain(t *testing.T) {
	// Entry $100 at DEFCON 2; marks 102, 108, 110, 107.7. Peak 110, current
	// 107.7: drawdown -2.09% with the position profitable.
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 110, 107.7, 2, 3*time.Hour, now)

	d := e.Evaluate(p, Context{Now: now, CurrentDefcon: 2})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitTrailingStop, d.Reason)
	assert.InDelta(t, 0.077, d.PnLPct, 1e-9)
}

func TestTrailingStopUnarmedWhileNeverProfitable(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	// Peak never exceeded entry; a -2.5% dip is not a trailing stop.
	p := openPosition(100, 100, 97.5, 3, 2*time.Hour, now)
	assert.Nil(t, e.Evaluate(p, Context{Now: now, CurrentDefcon: 3}))
}

func TestDefconReversionExit(t *testing.T) {
	// Entered at DEFCON 2, now back at 3, up 1%: crisis over, take it.
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 101, 101, 2, 2*time.Hour, now)

	d := e.Evaluate(p, Context{Now: now, CurrentDefcon: 3})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitDefconRevert, d.Reason)
	assert.Equal(t, 2, d.Priority)
	assert.InDelta(t, 0.01, d.PnLPct, 1e-9)
}

func TestNoDefconReversionForCalmEntries(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 101, 101, 3, 2*time.Hour, now)
	assert.Nil(t, e.Evaluate(p, Context{Now: now, CurrentDefcon: 5}))
}

func TestTimeLimitAtMaxHold(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 102, 102, 3, 73*time.Hour, now)

	d := e.Evaluate(p, Context{Now: now, CurrentDefcon: 3})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitTimeLimit, d.Reason)
}

func TestTimeLimitEarlyWhenLosing(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC)
	// 80% of 72h is 57.6h; losing position exits early, winner holds on.
	losing := openPosition(100, 100, 99, 3, 58*time.Hour, now)
	d := e.Evaluate(losing, Context{Now: now, CurrentDefcon: 3})
	require.NotNil(t, d)
	assert.Equal(t, types.ExitTimeLimit, d.Reason)

	winning := openPosition(100, 102, 102, 3, 58*time.Hour, now)
	assert.Nil(t, e.Evaluate(winning, Context{Now: now, CurrentDefcon: 3}))
}

func TestClosedPositionNeverEvaluates(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 110, 90, 2, 5*time.Hour, now)
	p.Status = types.PositionClosed
	assert.Nil(t, e.Evaluate(p, Context{Now: now, CurrentDefcon: 3}))
}

func TestEvaluateDoesNotMutatePosition(t *testing.T) {
	e := testEvaluator()
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	p := openPosition(100, 110, 107.7, 2, 3*time.Hour, now)
	before := p
	_ = e.Evaluate(p, Context{Now: now, CurrentDefcon: 2})
	assert.Equal(t, before, p)
}
