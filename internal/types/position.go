package types

import "time"

// PositionStatus is the lifecycle state of a paper position.
type PositionStatus string

const (
	PositionOpen        PositionStatus = "open"
	PositionPendingExit PositionStatus = "pending_exit"
	PositionClosed      PositionStatus = "closed"
)

// ExitReason identifies which strategy closed a position.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "stop_loss"
	ExitProfitTarget ExitReason = "profit_target"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitDefconRevert ExitReason = "defcon_revert"
	ExitTimeLimit    ExitReason = "time_limit"
	ExitManual       ExitReason = "manual"
)

// Position is one paper-trade holding. While open, PeakPrice is monotone
// non-decreasing and never below EntryPrice. A closed position is frozen.
type Position struct {
	ID           string         `json:"id"`
	Symbol       string         `json:"symbol"`
	Qty          float64        `json:"qty"`
	EntryPrice   float64        `json:"entry_price"`
	EntryTime    time.Time      `json:"entry_time"`
	EntryDefcon  int            `json:"entry_defcon"`
	PeakPrice    float64        `json:"peak_price"`
	CurrentPrice float64        `json:"current_price"`
	Status       PositionStatus `json:"status"`
	ExitPrice    float64        `json:"exit_price,omitempty"`
	ExitTime     *time.Time     `json:"exit_time,omitempty"`
	ExitReason   ExitReason     `json:"exit_reason,omitempty"`
}

// PnLPct is the unrealized (or realized, once closed) return fraction.
func (p Position) PnLPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	ref := p.CurrentPrice
	if p.Status == PositionClosed {
		ref = p.ExitPrice
	}
	return (ref - p.EntryPrice) / p.EntryPrice
}

// HoldTime reports how long the position has been (or was) held.
func (p Position) HoldTime(now time.Time) time.Duration {
	if p.Status == PositionClosed && p.ExitTime != nil {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}

// DecisionKind separates entry proposals from exit proposals.
type DecisionKind string

const (
	DecisionEntry DecisionKind = "entry"
	DecisionExit  DecisionKind = "exit"
)

// DecisionStatus is the approval state of a pending decision.
type DecisionStatus string

const (
	DecisionAwaiting DecisionStatus = "awaiting"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
	DecisionExpired  DecisionStatus = "expired"
)

// PendingDecision is a human-gated trade action. At most one entry decision is
// active at a time.
type PendingDecision struct {
	ID        string         `json:"id"`
	Kind      DecisionKind   `json:"kind"`
	Subject   string         `json:"subject"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Status    DecisionStatus `json:"status"`
}

// EntryProposal is the payload behind an entry decision: what the orchestrator
// wants to buy and why.
type EntryProposal struct {
	Symbols     []string   `json:"symbols"`
	TotalSize   float64    `json:"total_size"`
	Defcon      int        `json:"defcon"`
	CrisisType  CrisisType `json:"crisis_type"`
	SignalScore float64    `json:"signal_score"`
}
