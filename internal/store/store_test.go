package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hightrade/internal/types"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hightrade.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestPositionRoundTripSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()

	entry := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	p := types.Position{
		ID:           "pos-1",
		Symbol:       "QQQ",
		Qty:          12.5,
		EntryPrice:   400,
		EntryTime:    entry,
		EntryDefcon:  2,
		PeakPrice:    412,
		CurrentPrice: 405,
		Status:       types.PositionOpen,
	}
	require.NoError(t, s.SavePosition(ctx, p))
	require.NoError(t, s.Close())

	// Simulated restart.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	open, err := s2.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 412.0, open[0].PeakPrice)
	assert.Equal(t, 2, open[0].EntryDefcon)
	assert.True(t, entry.Equal(open[0].EntryTime), "entry time drifted: %s vs %s", entry, open[0].EntryTime)
}

func TestSavePositionUpsertsOnID(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	p := types.Position{ID: "pos-1", Symbol: "VTI", Qty: 1, EntryPrice: 250, EntryTime: time.Now(), Status: types.PositionOpen, PeakPrice: 250, CurrentPrice: 250}
	require.NoError(t, s.SavePosition(ctx, p))
	p.CurrentPrice = 260
	p.PeakPrice = 260
	require.NoError(t, s.SavePosition(ctx, p))

	got, err := s.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 260.0, got.PeakPrice)

	open, err := s.ListOpenPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestGetPositionMissingReturnsNil(t *testing.T) {
	s, _ := openTestStore(t)
	got, err := s.GetPosition(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewsSignalOneRowPerCycle(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	sig := types.NewsSignal{
		CycleID:      7,
		Timestamp:    time.Now(),
		ArticleCount: 3,
		Score:        42,
		CrisisType:   types.CrisisInflationRate,
		Sentiment:    types.SentimentDist{Bearish: 0.5, Bullish: 0.2, Neutral: 0.3},
		TopArticles:  []string{"a1", "a2"},
	}
	require.NoError(t, s.SaveNewsSignal(ctx, sig))
	// A second write for the same cycle violates the primary key.
	assert.Error(t, s.SaveNewsSignal(ctx, sig))

	last, err := s.LastNewsSignal(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, int64(7), last.CycleID)
	assert.Equal(t, []string{"a1", "a2"}, last.TopArticles)
	assert.Equal(t, types.CrisisInflationRate, last.CrisisType)
}

func TestDefconStateAppendOnly(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveDefconState(ctx, types.DefconState{Level: 4, SignalScore: 35, EnteredAt: base, ReasonCode: "news_score"}))
	require.NoError(t, s.SaveDefconState(ctx, types.DefconState{Level: 2, SignalScore: 75, EnteredAt: base.Add(15 * time.Minute), ReasonCode: "vix_component"}))

	last, err := s.LastDefconState(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Level)
	assert.Equal(t, "vix_component", last.ReasonCode)
}

func TestPendingDecisionLifecycle(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	d := types.PendingDecision{
		ID:        "dec-1",
		Kind:      types.DecisionEntry,
		Subject:   "entry:[QQQ]",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Status:    types.DecisionAwaiting,
	}
	proposal := &types.EntryProposal{Symbols: []string{"QQQ"}, TotalSize: 10000, Defcon: 2}
	require.NoError(t, s.SavePendingDecision(ctx, d, proposal))

	got, gotProp, err := s.ActiveEntryDecision(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, gotProp)
	assert.Equal(t, "dec-1", got.ID)
	assert.Equal(t, []string{"QQQ"}, gotProp.Symbols)

	require.NoError(t, s.UpdateDecisionStatus(ctx, "dec-1", types.DecisionApproved))
	got, _, err = s.ActiveEntryDecision(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewsCacheTTL(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	batch := []types.Article{{ID: "a1", Title: "t", URL: "u"}}
	require.NoError(t, s.PutBatch(ctx, "k1", batch, time.Minute))
	got, ok, err := s.GetBatch(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, got, 1)

	// Zero TTL expires immediately.
	require.NoError(t, s.PutBatch(ctx, "k2", batch, 0))
	_, ok, err = s.GetBatch(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrchestratorStateRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	st := types.OrchestratorState{
		Mode:          types.ModeHeld,
		BrokerMode:    types.BrokerSemiAuto,
		CycleInterval: 600,
		CycleCount:    42,
	}
	require.NoError(t, s.SaveOrchestratorState(ctx, st))
	st.CycleCount = 43
	require.NoError(t, s.SaveOrchestratorState(ctx, st))

	got, err := s.LoadOrchestratorState(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.ModeHeld, got.Mode)
	assert.Equal(t, types.BrokerSemiAuto, got.BrokerMode)
	assert.Equal(t, int64(43), got.CycleCount)
}
