package strategy

import (
	"fmt"
	"sort"
	"time"

	"hightrade/internal/config"
	"hightrade/internal/types"
)

// Decision is a recommended exit for one position. The evaluator never applies
// it; the ledger does.
type Decision struct {
	PositionID string           `json:"position_id"`
	Symbol     string           `json:"symbol"`
	Reason     types.ExitReason `json:"reason"`
	ExitPrice  float64          `json:"exit_price"`
	PnLPct     float64          `json:"pnl_pct"`
	Priority   int              `json:"priority"`
	Message    string           `json:"message"`
}

// Context is the market state an evaluation runs against.
type Context struct {
	Now           time.Time
	CurrentDefcon int
}

// kind enumerates the exit strategies. Adding one means adding a variant here
// and a row in the priority table.
type kind int

const (
	kindStopLoss kind = iota
	kindProfitTarget
	kindTrailingStop
	kindDefconRevert
	kindTimeLimit
)

type rule struct {
	kind     kind
	priority int
}

// priorityTable orders the strategies; the fold below short-circuits on the
// first match, so at most one exit per position per cycle.
var priorityTable = []rule{
	{kindStopLoss, 5},
	{kindProfitTarget, 4},
	{kindTrailingStop, 3},
	{kindDefconRevert, 2},
	{kindTimeLimit, 1},
}

// Evaluator folds the priority-sorted strategy table over a position. Pure
// over its inputs; safe to call from anywhere.
type Evaluator struct {
	cfg config.ExitConfig
}

func NewEvaluator(cfg config.ExitConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate returns the highest-priority exit that triggers for p, or nil.
// Nothing fires inside the minimum hold window.
func (e *Evaluator) Evaluate(p types.Position, ec Context) *Decision {
	if p.Status != types.PositionOpen {
		return nil
	}
	if p.HoldTime(ec.Now) < e.cfg.MinHold() {
		return nil
	}
	rules := make([]rule, len(priorityTable))
	copy(rules, priorityTable)
	sort.Slice(rules, func(i, j int) bool { return rules[i].priority > rules[j].priority })
	for _, r := range rules {
		if d := e.evaluateKind(r.kind, r.priority, p, ec); d != nil {
			return d
		}
	}
	return nil
}

func (e *Evaluator) evaluateKind(k kind, priority int, p types.Position, ec Context) *Decision {
	pnl := p.PnLPct()
	switch k {
	case kindStopLoss:
		if pnl <= e.cfg.StopLoss {
			return e.decision(p, types.ExitStopLoss, priority, pnl,
				fmt.Sprintf("stop loss: %s %.2f%%", p.Symbol, pnl*100))
		}
	case kindProfitTarget:
		if pnl >= e.cfg.ProfitTarget {
			return e.decision(p, types.ExitProfitTarget, priority, pnl,
				fmt.Sprintf("profit target: %s +%.2f%%", p.Symbol, pnl*100))
		}
	case kindTrailingStop:
		// Only armed once the position has been profitable: the peak must
		// sit above entry.
		if p.PeakPrice > p.EntryPrice && p.PeakPrice > 0 {
			drawdown := (p.CurrentPrice - p.PeakPrice) / p.PeakPrice
			if drawdown <= -e.cfg.TrailingStop {
				return e.decision(p, types.ExitTrailingStop, priority, pnl,
					fmt.Sprintf("trailing stop: %s down %.2f%% from peak %.2f", p.Symbol, -drawdown*100, p.PeakPrice))
			}
		}
	case kindDefconRevert:
		if p.EntryDefcon <= 2 && ec.CurrentDefcon >= 3 {
			return e.decision(p, types.ExitDefconRevert, priority, pnl,
				fmt.Sprintf("defcon revert: entered at %d, now %d", p.EntryDefcon, ec.CurrentDefcon))
		}
	case kindTimeLimit:
		hold := p.HoldTime(ec.Now)
		maxHold := e.cfg.MaxHold()
		if hold >= maxHold || (hold >= time.Duration(0.8*float64(maxHold)) && pnl < 0) {
			return e.decision(p, types.ExitTimeLimit, priority, pnl,
				fmt.Sprintf("time limit: %s held %.1fh", p.Symbol, hold.Hours()))
		}
	}
	return nil
}

func (e *Evaluator) decision(p types.Position, reason types.ExitReason, priority int, pnl float64, msg string) *Decision {
	return &Decision{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Reason:     reason,
		ExitPrice:  p.CurrentPrice,
		PnLPct:     pnl,
		Priority:   priority,
		Message:    msg,
	}
}
