package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hightrade/internal/config"
	"hightrade/internal/types"
)

type captureSender struct {
	events []Event
	err    error
}

func (c *captureSender) Send(_ context.Context, e Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func kinds(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestRouter(silentEvents ...string) (*Router, *captureSender, *captureSender) {
	urgent := &captureSender{}
	silent := &captureSender{}
	r := NewRouter(config.AlertsConfig{Silent: config.ChannelConfig{Events: silentEvents}}, urgent, silent)
	return r, urgent, silent
}

func TestCycleSummaryIsAuditOnly(t *testing.T) {
	r, urgent, silent := newTestRouter()
	r.CycleSummary(context.Background(), CycleSummary{Defcon: 5})
	assert.Empty(t, urgent.events)
	assert.Equal(t, []string{KindCycleSummary}, kinds(silent.events))
}

func TestDefconEscalationIsUrgent(t *testing.T) {
	r, urgent, silent := newTestRouter()
	r.DefconChange(context.Background(), DefconChange{From: 4, To: 2, SignalScore: 75})
	assert.Equal(t, []string{KindDefconChange}, kinds(urgent.events))
	assert.Equal(t, []string{KindDefconChange}, kinds(silent.events))
}

func TestDefconDeescalationIsAuditOnly(t *testing.T) {
	r, urgent, silent := newTestRouter()
	r.DefconChange(context.Background(), DefconChange{From: 2, To: 4})
	assert.Empty(t, urgent.events)
	assert.Len(t, silent.events, 1)
}

func TestPendingEntryIsUrgent(t *testing.T) {
	r, urgent, _ := newTestRouter()
	r.TradeEntry(context.Background(), TradeEntry{Symbols: []string{"QQQ"}, Pending: true})
	assert.Len(t, urgent.events, 1)

	r2, urgent2, silent2 := newTestRouter()
	r2.TradeEntry(context.Background(), TradeEntry{Symbols: []string{"QQQ"}, Pending: false})
	assert.Empty(t, urgent2.events)
	assert.Len(t, silent2.events, 1)
}

func TestDefensiveExitsAreUrgent(t *testing.T) {
	for _, reason := range []types.ExitReason{types.ExitStopLoss, types.ExitDefconRevert} {
		r, urgent, silent := newTestRouter()
		r.TradeExit(context.Background(), TradeExit{Symbol: "QQQ", Reason: reason, PnLPct: -0.03})
		assert.Len(t, urgent.events, 1, "reason %s", reason)
		assert.Len(t, silent.events, 1)
	}
	r, urgent, silent := newTestRouter()
	r.TradeExit(context.Background(), TradeExit{Symbol: "QQQ", Reason: types.ExitProfitTarget, PnLPct: 0.05})
	assert.Empty(t, urgent.events)
	assert.Len(t, silent.events, 1)
}

func TestNewsUpdateGatedOnNovelty(t *testing.T) {
	r, _, silent := newTestRouter()
	// Nothing new, nothing breaking: suppressed.
	r.NewsUpdate(context.Background(), NewsUpdate{Score: 40})
	assert.Empty(t, silent.events)

	// One breaking article forces the update through.
	r.NewsUpdate(context.Background(), NewsUpdate{Score: 40, BreakingCount: 1})
	assert.Len(t, silent.events, 1)

	r.NewsUpdate(context.Background(), NewsUpdate{Score: 40, NewArticleCount: 2})
	assert.Len(t, silent.events, 2)
}

func TestSilentEventFilter(t *testing.T) {
	r, _, silent := newTestRouter(KindTradeExit)
	r.CycleSummary(context.Background(), CycleSummary{})
	r.TradeExit(context.Background(), TradeExit{Symbol: "QQQ", Reason: types.ExitTimeLimit})
	assert.Equal(t, []string{KindTradeExit}, kinds(silent.events))
}

func TestTransportFailureNeverPropagates(t *testing.T) {
	urgent := &captureSender{err: errors.New("transport down")}
	silent := &captureSender{err: errors.New("transport down")}
	r := NewRouter(config.AlertsConfig{}, urgent, silent)

	require.NotPanics(t, func() {
		r.DefconChange(context.Background(), DefconChange{From: 3, To: 1})
		r.CycleSummary(context.Background(), CycleSummary{})
	})
}

func TestNilSenderIsSafe(t *testing.T) {
	r := NewRouter(config.AlertsConfig{}, nil, nil)
	require.NotPanics(t, func() {
		r.CycleSummary(context.Background(), CycleSummary{})
		r.CommandResponse(context.Background(), CommandResponse{Verb: "status"})
	})
}

func TestTopStoryTruncation(t *testing.T) {
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'x'
	}
	story := NewTopStory(types.Article{Source: "s", Title: string(long), Urgency: types.UrgencyHigh})
	assert.Len(t, story.Title, 80)
}
