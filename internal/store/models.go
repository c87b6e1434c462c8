package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"hightrade/internal/types"
)

type positionModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;index"`
	Qty           float64 `gorm:"column:qty"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	EntryTimeUnix int64   `gorm:"column:entry_time"`
	EntryDefcon   int     `gorm:"column:entry_defcon"`
	PeakPrice     float64 `gorm:"column:peak_price"`
	CurrentPrice  float64 `gorm:"column:current_price"`
	Status        string  `gorm:"column:status;index"`
	ExitPrice     float64 `gorm:"column:exit_price"`
	ExitTimeUnix  *int64  `gorm:"column:exit_time"`
	ExitReason    string  `gorm:"column:exit_reason"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }

func newPositionModel(p types.Position) positionModel {
	m := positionModel{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Qty:           p.Qty,
		EntryPrice:    p.EntryPrice,
		EntryTimeUnix: p.EntryTime.UnixMilli(),
		EntryDefcon:   p.EntryDefcon,
		PeakPrice:     p.PeakPrice,
		CurrentPrice:  p.CurrentPrice,
		Status:        string(p.Status),
		ExitPrice:     p.ExitPrice,
		ExitReason:    string(p.ExitReason),
		UpdatedAtUnix: time.Now().UnixMilli(),
	}
	if p.ExitTime != nil && !p.ExitTime.IsZero() {
		ts := p.ExitTime.UnixMilli()
		m.ExitTimeUnix = &ts
	}
	return m
}

func (m positionModel) toPosition() types.Position {
	p := types.Position{
		ID:           m.ID,
		Symbol:       m.Symbol,
		Qty:          m.Qty,
		EntryPrice:   m.EntryPrice,
		EntryTime:    time.UnixMilli(m.EntryTimeUnix).UTC(),
		EntryDefcon:  m.EntryDefcon,
		PeakPrice:    m.PeakPrice,
		CurrentPrice: m.CurrentPrice,
		Status:       types.PositionStatus(m.Status),
		ExitPrice:    m.ExitPrice,
		ExitReason:   types.ExitReason(m.ExitReason),
	}
	if m.ExitTimeUnix != nil && *m.ExitTimeUnix > 0 {
		ts := time.UnixMilli(*m.ExitTimeUnix).UTC()
		p.ExitTime = &ts
	}
	return p
}

type newsSignalModel struct {
	CycleID       int64          `gorm:"column:cycle_id;primaryKey"`
	TimestampUnix int64          `gorm:"column:timestamp;index"`
	ArticleCount  int            `gorm:"column:article_count"`
	Score         float64        `gorm:"column:score"`
	CrisisType    string         `gorm:"column:crisis_type"`
	Bearish       float64        `gorm:"column:sentiment_bearish"`
	Bullish       float64        `gorm:"column:sentiment_bullish"`
	Neutral       float64        `gorm:"column:sentiment_neutral"`
	TopArticles   datatypes.JSON `gorm:"column:top_articles"`
	BreakingCount int            `gorm:"column:breaking_count"`
}

func (newsSignalModel) TableName() string { return "news_signals" }

func newNewsSignalModel(s types.NewsSignal) newsSignalModel {
	top, _ := json.Marshal(s.TopArticles)
	return newsSignalModel{
		CycleID:       s.CycleID,
		TimestampUnix: s.Timestamp.UnixMilli(),
		ArticleCount:  s.ArticleCount,
		Score:         s.Score,
		CrisisType:    string(s.CrisisType),
		Bearish:       s.Sentiment.Bearish,
		Bullish:       s.Sentiment.Bullish,
		Neutral:       s.Sentiment.Neutral,
		TopArticles:   datatypes.JSON(top),
		BreakingCount: s.BreakingCount,
	}
}

func (m newsSignalModel) toSignal() types.NewsSignal {
	var top []string
	if len(m.TopArticles) > 0 {
		_ = json.Unmarshal(m.TopArticles, &top)
	}
	return types.NewsSignal{
		CycleID:      m.CycleID,
		Timestamp:    time.UnixMilli(m.TimestampUnix).UTC(),
		ArticleCount: m.ArticleCount,
		Score:        m.Score,
		CrisisType:   types.CrisisType(m.CrisisType),
		Sentiment: types.SentimentDist{
			Bearish: m.Bearish,
			Bullish: m.Bullish,
			Neutral: m.Neutral,
		},
		TopArticles:   top,
		BreakingCount: m.BreakingCount,
	}
}

// defconStateModel is append-only; entered_at is the primary key.
type defconStateModel struct {
	EnteredAtUnix int64   `gorm:"column:entered_at;primaryKey"`
	Level         int     `gorm:"column:level"`
	SignalScore   float64 `gorm:"column:signal_score"`
	ReasonCode    string  `gorm:"column:reason_code"`
}

func (defconStateModel) TableName() string { return "defcon_states" }

type pendingDecisionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Kind          string         `gorm:"column:kind;index"`
	Subject       string         `gorm:"column:subject"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	ExpiresAtUnix int64          `gorm:"column:expires_at"`
	Status        string         `gorm:"column:status;index"`
	Proposal      datatypes.JSON `gorm:"column:proposal"`
}

func (pendingDecisionModel) TableName() string { return "pending_decisions" }

type marketSnapshotModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	TimestampUnix int64          `gorm:"column:timestamp;index"`
	VIX           float64        `gorm:"column:vix"`
	BondYield10Y  float64        `gorm:"column:bond_yield_10y"`
	SP500Change   float64        `gorm:"column:sp500_change_pct"`
	Prices        datatypes.JSON `gorm:"column:per_symbol_price"`
	Stale         bool           `gorm:"column:stale"`
}

func (marketSnapshotModel) TableName() string { return "market_snapshots" }

type newsCacheModel struct {
	Key          string         `gorm:"column:cache_key;primaryKey"`
	Batch        datatypes.JSON `gorm:"column:batch"`
	CachedAtUnix int64          `gorm:"column:cached_at"`
	TTLSeconds   int64          `gorm:"column:ttl_seconds"`
}

func (newsCacheModel) TableName() string { return "news_cache" }

// orchestratorStateModel is a single-row table keyed by a fixed id.
type orchestratorStateModel struct {
	ID                 int    `gorm:"column:id;primaryKey"`
	Mode               string `gorm:"column:mode"`
	BrokerMode         string `gorm:"column:broker_mode"`
	CycleIntervalSec   int    `gorm:"column:cycle_interval_sec"`
	LastCycleStartUnix int64  `gorm:"column:last_cycle_start"`
	CycleCount         int64  `gorm:"column:cycle_count"`
}

func (orchestratorStateModel) TableName() string { return "orchestrator_state" }
