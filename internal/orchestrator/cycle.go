package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"hightrade/internal/alert"
	"hightrade/internal/defcon"
	"hightrade/internal/ledger"
	"hightrade/internal/logger"
	"hightrade/internal/metrics"
	"hightrade/internal/news"
	"hightrade/internal/strategy"
	"hightrade/internal/types"
)

// runCycle executes one monitoring pass. The cycle is the atomic failure
// unit: no error below escapes it, and ordering follows
// snapshot+signal persist -> defcon persist -> exits persist -> exit alerts.
func (o *Orchestrator) runCycle(ctx context.Context) {
	started := o.nowFn()
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cycleCancel = cancel
	o.state.CycleCount++
	o.state.LastCycleStart = started
	cycleID := o.state.CycleCount
	held := o.state.Mode == types.ModeHeld
	brokerMode := o.state.BrokerMode
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cycleCancel = nil
		o.mu.Unlock()
	}()

	logger.Infof("cycle %d starting (mode=%s)", cycleID, o.State().Mode)

	// Fetch market and news in parallel; both join before scoring.
	var snap types.MarketSnapshot
	var batch []types.Article
	g, gctx := errgroup.WithContext(cycleCtx)
	g.Go(func() error {
		snap = o.market.Snapshot(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		batch, err = o.agg.Collect(gctx, cycleID)
		if err != nil {
			logger.Warnf("news collection degraded this cycle: %v", err)
		}
		return nil
	})
	_ = g.Wait()
	if cycleCtx.Err() != nil {
		logger.Warnf("cycle %d aborted mid-fetch", cycleID)
		return
	}

	o.mu.Lock()
	o.lastSnapshot = snap
	o.mu.Unlock()

	// Novelty reads the previous cycle's persisted signal, so it must run
	// before this cycle's signal lands.
	novelty := o.agg.DetectNovelty(cycleCtx, batch)
	signal := o.agg.BuildSignal(cycleID, batch)

	o.persistWithRetry(cycleCtx, "market_snapshot", snap, func() error {
		return o.store.SaveMarketSnapshot(cycleCtx, snap)
	})
	o.persistWithRetry(cycleCtx, "news_signal", signal, func() error {
		return o.store.SaveNewsSignal(cycleCtx, signal)
	})

	// Score and transition DEFCON; the transition row persists before the
	// exit evaluator runs.
	result := defcon.Score(defcon.Input{
		NewsScore:     signal.Score,
		VIX:           snap.VIX,
		Yield10Y:      snap.BondYield10Y,
		SP500Pct:      snap.SP500Change,
		BreakingCount: signal.BreakingCount,
	}, o.cfg.Defcon.Weights)

	o.mu.Lock()
	previous := o.currentDefcon
	o.currentDefcon = result.Level
	o.mu.Unlock()
	metrics.DefconLevel.Set(float64(result.Level))

	if result.Level != previous {
		logger.Warnf("DEFCON transition: %d -> %d (score %.1f, %s)", previous, result.Level, result.Score, result.ReasonCode)
		state := types.DefconState{
			Level:       result.Level,
			SignalScore: result.Score,
			EnteredAt:   o.nowFn(),
			ReasonCode:  result.ReasonCode,
		}
		o.persistWithRetry(cycleCtx, "defcon_state", state, func() error {
			return o.store.SaveDefconState(cycleCtx, state)
		})
		o.router.DefconChange(cycleCtx, alert.DefconChange{
			From:        previous,
			To:          result.Level,
			SignalScore: result.Score,
			ReasonCode:  result.ReasonCode,
		})
	}

	if novelty.Novel {
		o.router.NewsUpdate(cycleCtx, newsUpdatePayload(signal, novelty, batch))
	}

	o.pollCommands(ctx)
	if o.aborted() {
		return
	}

	// Marks refresh peaks ahead of exit evaluation; exits run in held mode
	// too, entries do not.
	o.evaluateExits(cycleCtx, snap, result.Level)

	if !held && !snap.Stale {
		o.proposeEntries(cycleCtx, brokerMode, signal, result, snap)
	}

	o.ledger.ExpireStaleDecisions(cycleCtx)
	o.store.CleanupCache(cycleCtx)

	holdings := o.holdings(cycleCtx)
	o.router.CycleSummary(cycleCtx, alert.CycleSummary{
		Defcon:      result.Level,
		SignalScore: result.Score,
		VIX:         snap.VIX,
		Yield10Y:    snap.BondYield10Y,
		SP500Pct:    snap.SP500Change,
		Holdings:    holdings,
	})

	o.persistState(ctx)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(o.nowFn().Sub(started).Seconds())
	logger.Infof("cycle %d done in %s: defcon=%d score=%.1f articles=%d novel=%v",
		cycleID, o.nowFn().Sub(started).Truncate(time.Millisecond), result.Level, result.Score, signal.ArticleCount, novelty.Novel)
}

// evaluateExits marks open positions to the snapshot, folds the strategy
// table over each, applies the decisions, and only then emits alerts.
func (o *Orchestrator) evaluateExits(ctx context.Context, snap types.MarketSnapshot, currentDefcon int) {
	open, err := o.ledger.MarkAll(ctx, snap)
	if err != nil {
		logger.Errorf("marking positions failed, skipping exits this cycle: %v", err)
		return
	}
	var decisions []strategy.Decision
	ec := strategy.Context{Now: o.nowFn(), CurrentDefcon: currentDefcon}
	for _, p := range open {
		if d := o.eval.Evaluate(p, ec); d != nil {
			decisions = append(decisions, *d)
		}
	}
	if len(decisions) == 0 {
		return
	}
	closed := o.ledger.ApplyExits(ctx, decisions)
	for _, p := range closed {
		o.router.TradeExit(ctx, alert.TradeExit{
			Symbol: p.Symbol,
			Reason: p.ExitReason,
			PnLPct: p.PnLPct(),
		})
	}
}

// proposeEntries turns a crisis-grade cycle into an entry proposal routed
// through the broker mode gate. Only DEFCON 2 and below propose.
func (o *Orchestrator) proposeEntries(ctx context.Context, mode types.BrokerMode, signal types.NewsSignal, result defcon.Result, snap types.MarketSnapshot) {
	if result.Level > 2 {
		return
	}
	proposal := types.EntryProposal{
		Symbols:     ledger.RecommendAssets(signal.CrisisType),
		TotalSize:   o.ledger.PositionSize(snap.VIX),
		Defcon:      result.Level,
		CrisisType:  signal.CrisisType,
		SignalScore: result.Score,
	}
	pending, positions, err := o.ledger.SubmitEntry(ctx, proposal, mode, snap)
	if err != nil {
		if err != ledger.ErrDecisionPending {
			logger.Errorf("entry proposal failed: %v", err)
		}
		return
	}
	switch {
	case pending != nil:
		o.router.TradeEntry(ctx, alert.TradeEntry{
			Symbols: proposal.Symbols,
			Size:    proposal.TotalSize,
			Defcon:  result.Level,
			Pending: true,
		})
	case len(positions) > 0:
		o.router.TradeEntry(ctx, alert.TradeEntry{
			Symbols: proposal.Symbols,
			Size:    proposal.TotalSize,
			Defcon:  result.Level,
			Pending: false,
		})
	}
}

func (o *Orchestrator) holdings(ctx context.Context) []string {
	open, err := o.ledger.ListOpen(ctx)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(open))
	for _, p := range open {
		out = append(out, p.Symbol)
	}
	return out
}

func (o *Orchestrator) aborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Mode == types.ModeEStopped || o.state.Mode == types.ModeShuttingDown
}

func newsUpdatePayload(signal types.NewsSignal, novelty news.Novelty, batch []types.Article) alert.NewsUpdate {
	byID := make(map[string]types.Article, len(batch))
	for _, a := range batch {
		byID[a.ID] = a
	}
	top := make([]alert.TopStory, 0, len(signal.TopArticles))
	for _, id := range signal.TopArticles {
		if a, ok := byID[id]; ok {
			top = append(top, alert.NewTopStory(a))
		}
	}
	return alert.NewsUpdate{
		Score:           signal.Score,
		CrisisType:      signal.CrisisType,
		SentimentLabel:  signal.Sentiment.Label(),
		ArticleCount:    signal.ArticleCount,
		NewArticleCount: novelty.NewCount,
		BreakingCount:   novelty.BreakingCount,
		Top:             top,
	}
}
