package alert

import (
	"context"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/metrics"
	"hightrade/internal/types"
)

// Router fans events out to the urgent and silent channels. It never blocks a
// cycle on transport trouble: a failed delivery is counted, logged, and
// dropped (at-most-once, no queue).
type Router struct {
	urgent Sender
	silent Sender
	// silentEvents filters the audit channel; empty means everything.
	silentEvents map[string]bool
}

func NewRouter(cfg config.AlertsConfig, urgent, silent Sender) *Router {
	r := &Router{urgent: urgent, silent: silent}
	if len(cfg.Silent.Events) > 0 {
		r.silentEvents = make(map[string]bool, len(cfg.Silent.Events))
		for _, kind := range cfg.Silent.Events {
			r.silentEvents[kind] = true
		}
	}
	return r
}

// CycleSummary goes to the audit trail every cycle.
func (r *Router) CycleSummary(ctx context.Context, p CycleSummary) {
	r.silently(ctx, Event{Kind: KindCycleSummary, Payload: p})
}

// DefconChange is audited always and escalations (level decreases) are urgent.
func (r *Router) DefconChange(ctx context.Context, p DefconChange) {
	r.silently(ctx, Event{Kind: KindDefconChange, Payload: p})
	if p.To < p.From {
		r.urgently(ctx, Event{Kind: KindDefconChange, Payload: p})
	}
}

// TradeEntry is audited always; entries awaiting approval interrupt a human.
func (r *Router) TradeEntry(ctx context.Context, p TradeEntry) {
	r.silently(ctx, Event{Kind: KindTradeEntry, Payload: p})
	if p.Pending {
		r.urgently(ctx, Event{Kind: KindTradeEntry, Payload: p})
	}
}

// TradeExit is audited always; defensive exits are urgent.
func (r *Router) TradeExit(ctx context.Context, p TradeExit) {
	r.silently(ctx, Event{Kind: KindTradeExit, Payload: p})
	if p.Reason == types.ExitStopLoss || p.Reason == types.ExitDefconRevert {
		r.urgently(ctx, Event{Kind: KindTradeExit, Payload: p})
	}
}

// NewsUpdate is audit-only, and only when there is something new to say.
func (r *Router) NewsUpdate(ctx context.Context, p NewsUpdate) {
	if p.NewArticleCount == 0 && p.BreakingCount == 0 {
		return
	}
	r.silently(ctx, Event{Kind: KindNewsUpdate, Payload: p})
}

// CommandResponse answers an operator on the urgent channel.
func (r *Router) CommandResponse(ctx context.Context, p CommandResponse) {
	r.urgently(ctx, Event{Kind: KindCommandResponse, Payload: p})
}

func (r *Router) urgently(ctx context.Context, e Event) {
	r.deliver(ctx, "urgent", r.urgent, e)
}

func (r *Router) silently(ctx context.Context, e Event) {
	if r.silentEvents != nil && !r.silentEvents[e.Kind] {
		return
	}
	r.deliver(ctx, "silent", r.silent, e)
}

func (r *Router) deliver(ctx context.Context, channel string, s Sender, e Event) {
	if s == nil {
		return
	}
	if err := s.Send(ctx, e); err != nil {
		metrics.AlertFailures.WithLabelValues(channel).Inc()
		logger.Warnf("dropping %s alert on %s channel: %v", e.Kind, channel, err)
		return
	}
	metrics.AlertsSent.WithLabelValues(channel, e.Kind).Inc()
	logger.Debugf("%s alert delivered on %s channel", e.Kind, channel)
}
