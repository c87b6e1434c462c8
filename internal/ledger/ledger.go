package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"hightrade/internal/config"
	"hightrade/internal/logger"
	"hightrade/internal/strategy"
	"hightrade/internal/types"
)

var (
	// ErrNotOpen guards against double-closes and marks on frozen positions.
	ErrNotOpen = errors.New("ledger: position is not open")
	// ErrStaleSnapshot refuses entries priced off synthetic data.
	ErrStaleSnapshot = errors.New("ledger: refusing to open position from stale snapshot")
	// ErrDecisionPending means an entry proposal is already awaiting approval.
	ErrDecisionPending = errors.New("ledger: an entry decision is already pending")
	// ErrNoPending means yes/no arrived with nothing to decide.
	ErrNoPending = errors.New("ledger: no pending decision")
)

// Store is the persistence surface the ledger needs. The concrete store is
// injected at construction.
type Store interface {
	SavePosition(ctx context.Context, p types.Position) error
	GetPosition(ctx context.Context, id string) (*types.Position, error)
	ListOpenPositions(ctx context.Context) ([]types.Position, error)
	ListClosedPositions(ctx context.Context, limit int) ([]types.Position, error)

	SavePendingDecision(ctx context.Context, d types.PendingDecision, proposal *types.EntryProposal) error
	ActiveEntryDecision(ctx context.Context) (*types.PendingDecision, *types.EntryProposal, error)
	UpdateDecisionStatus(ctx context.Context, id string, status types.DecisionStatus) error
}

// Allocation split across the recommended symbols of an entry proposal.
var allocationSplit = []float64{0.50, 0.30, 0.20}

// Ledger owns every Position. All mutation goes through its operations so the
// peak-price and close-once invariants hold at the boundary.
type Ledger struct {
	store Store
	cfg   config.PaperConfig
	nowFn func() time.Time
}

func New(store Store, cfg config.PaperConfig) *Ledger {
	return &Ledger{store: store, cfg: cfg, nowFn: time.Now}
}

// OpenRequest describes one position to open.
type OpenRequest struct {
	Symbol        string
	Qty           float64
	EntryPrice    float64
	Defcon        int
	SnapshotStale bool
}

// Open creates a position. Entries priced from a stale snapshot are refused;
// exits elsewhere still run on stale data.
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (types.Position, error) {
	if req.SnapshotStale {
		return types.Position{}, ErrStaleSnapshot
	}
	if req.Qty <= 0 {
		return types.Position{}, fmt.Errorf("ledger: qty must be positive, got %f", req.Qty)
	}
	if req.EntryPrice <= 0 || math.IsNaN(req.EntryPrice) {
		return types.Position{}, fmt.Errorf("ledger: invalid entry price %f", req.EntryPrice)
	}
	now := l.nowFn()
	p := types.Position{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Qty:          req.Qty,
		EntryPrice:   req.EntryPrice,
		EntryTime:    now,
		EntryDefcon:  req.Defcon,
		PeakPrice:    req.EntryPrice,
		CurrentPrice: req.EntryPrice,
		Status:       types.PositionOpen,
	}
	if err := l.store.SavePosition(ctx, p); err != nil {
		return types.Position{}, err
	}
	logger.Infof("opened paper position %s: %s x%.2f @ %.2f (defcon %d)",
		p.ID, p.Symbol, p.Qty, p.EntryPrice, p.EntryDefcon)
	return p, nil
}

// Mark updates a position's current price and ratchets the peak. NaN and
// non-positive prices are ignored.
func (l *Ledger) Mark(ctx context.Context, id string, price float64) error {
	if math.IsNaN(price) || price <= 0 {
		return nil
	}
	p, err := l.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}
	if p == nil || p.Status == types.PositionClosed {
		return ErrNotOpen
	}
	p.CurrentPrice = price
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	return l.store.SavePosition(ctx, *p)
}

// MarkAll refreshes every open position from the snapshot, returning the
// updated set. Symbols without a quote keep their previous mark.
func (l *Ledger) MarkAll(ctx context.Context, snap types.MarketSnapshot) ([]types.Position, error) {
	open, err := l.store.ListOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range open {
		price, ok := snap.Price(open[i].Symbol)
		if !ok {
			continue
		}
		if err := l.Mark(ctx, open[i].ID, price); err != nil {
			logger.Warnf("marking %s failed: %v", open[i].ID, err)
			continue
		}
		open[i].CurrentPrice = price
		if price > open[i].PeakPrice {
			open[i].PeakPrice = price
		}
	}
	return open, nil
}

// Close settles a position. Only an open position may close; a second close is
// an invariant violation surfaced to the caller.
func (l *Ledger) Close(ctx context.Context, id string, price float64, reason types.ExitReason) (types.Position, error) {
	p, err := l.store.GetPosition(ctx, id)
	if err != nil {
		return types.Position{}, err
	}
	if p == nil || p.Status != types.PositionOpen {
		return types.Position{}, ErrNotOpen
	}
	if math.IsNaN(price) || price <= 0 {
		price = p.CurrentPrice
	}
	now := l.nowFn()
	p.Status = types.PositionClosed
	p.CurrentPrice = price
	p.ExitPrice = price
	p.ExitTime = &now
	p.ExitReason = reason
	if err := l.store.SavePosition(ctx, *p); err != nil {
		return types.Position{}, err
	}
	logger.Infof("closed paper position %s: %s @ %.2f (%s, %.2f%%)",
		p.ID, p.Symbol, price, reason, p.PnLPct()*100)
	return *p, nil
}

// ListOpen returns all open positions.
func (l *Ledger) ListOpen(ctx context.Context) ([]types.Position, error) {
	return l.store.ListOpenPositions(ctx)
}

// ApplyExits closes positions per the evaluator's decisions and returns the
// closed set. A failed close is logged and skipped; the cycle continues.
func (l *Ledger) ApplyExits(ctx context.Context, decisions []strategy.Decision) []types.Position {
	var closed []types.Position
	for _, d := range decisions {
		p, err := l.Close(ctx, d.PositionID, d.ExitPrice, d.Reason)
		if err != nil {
			logger.Errorf("applying exit %s to %s failed: %v", d.Reason, d.PositionID, err)
			continue
		}
		closed = append(closed, p)
	}
	return closed
}

// PositionSize scales the base allocation inversely with VIX and clamps it to
// the configured band.
func (l *Ledger) PositionSize(vix float64) float64 {
	if vix <= 0 {
		vix = 20
	}
	size := l.cfg.BasePositionSize * (20.0 / vix)
	if size < l.cfg.MinPositionSize {
		size = l.cfg.MinPositionSize
	}
	if size > l.cfg.MaxPositionSize {
		size = l.cfg.MaxPositionSize
	}
	return size
}

// SubmitEntry routes an entry proposal through the broker mode gate.
// disabled files a pending decision; semi_auto and full_auto execute now.
// The returned pending decision is non-nil only in the disabled path.
func (l *Ledger) SubmitEntry(ctx context.Context, proposal types.EntryProposal, mode types.BrokerMode, snap types.MarketSnapshot) (*types.PendingDecision, []types.Position, error) {
	switch mode {
	case types.BrokerDisabled:
		d, err := l.fileEntryDecision(ctx, proposal)
		if err != nil {
			return nil, nil, err
		}
		return d, nil, nil
	case types.BrokerSemiAuto, types.BrokerFullAuto:
		positions, err := l.executeEntry(ctx, proposal, snap)
		return nil, positions, err
	default:
		return nil, nil, fmt.Errorf("ledger: unknown broker mode %q", mode)
	}
}

func (l *Ledger) fileEntryDecision(ctx context.Context, proposal types.EntryProposal) (*types.PendingDecision, error) {
	existing, _, err := l.store.ActiveEntryDecision(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDecisionPending
	}
	now := l.nowFn()
	d := types.PendingDecision{
		ID:        uuid.NewString(),
		Kind:      types.DecisionEntry,
		Subject:   fmt.Sprintf("entry:%v", proposal.Symbols),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(l.cfg.DecisionTTLMinutes) * time.Minute),
		Status:    types.DecisionAwaiting,
	}
	if err := l.store.SavePendingDecision(ctx, d, &proposal); err != nil {
		return nil, err
	}
	logger.Infof("entry decision %s filed, awaiting approval (expires %s)", d.ID, d.ExpiresAt.Format(time.RFC3339))
	return &d, nil
}

func (l *Ledger) executeEntry(ctx context.Context, proposal types.EntryProposal, snap types.MarketSnapshot) ([]types.Position, error) {
	if snap.Stale {
		return nil, ErrStaleSnapshot
	}
	var out []types.Position
	for i, symbol := range proposal.Symbols {
		if i >= len(allocationSplit) {
			break
		}
		price, ok := snap.Price(symbol)
		if !ok || price <= 0 {
			logger.Warnf("no quote for %s, skipping leg", symbol)
			continue
		}
		alloc := proposal.TotalSize * allocationSplit[i]
		p, err := l.Open(ctx, OpenRequest{
			Symbol:     symbol,
			Qty:        alloc / price,
			EntryPrice: price,
			Defcon:     proposal.Defcon,
		})
		if err != nil {
			logger.Errorf("opening %s failed: %v", symbol, err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Approve executes the awaiting entry decision against the given snapshot.
func (l *Ledger) Approve(ctx context.Context, snap types.MarketSnapshot) ([]types.Position, error) {
	d, proposal, err := l.store.ActiveEntryDecision(ctx)
	if err != nil {
		return nil, err
	}
	if d == nil || proposal == nil {
		return nil, ErrNoPending
	}
	if l.nowFn().After(d.ExpiresAt) {
		_ = l.store.UpdateDecisionStatus(ctx, d.ID, types.DecisionExpired)
		return nil, ErrNoPending
	}
	positions, err := l.executeEntry(ctx, *proposal, snap)
	if err != nil {
		return nil, err
	}
	if err := l.store.UpdateDecisionStatus(ctx, d.ID, types.DecisionApproved); err != nil {
		return positions, err
	}
	return positions, nil
}

// Reject discards the awaiting entry decision.
func (l *Ledger) Reject(ctx context.Context) error {
	d, _, err := l.store.ActiveEntryDecision(ctx)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNoPending
	}
	return l.store.UpdateDecisionStatus(ctx, d.ID, types.DecisionRejected)
}

// ExpireStaleDecisions sweeps the active decision past its TTL.
func (l *Ledger) ExpireStaleDecisions(ctx context.Context) {
	d, _, err := l.store.ActiveEntryDecision(ctx)
	if err != nil || d == nil {
		return
	}
	if l.nowFn().After(d.ExpiresAt) {
		if err := l.store.UpdateDecisionStatus(ctx, d.ID, types.DecisionExpired); err != nil {
			logger.Warnf("expiring decision %s failed: %v", d.ID, err)
		}
	}
}

// Performance summarizes the closed book with decimal money math so realized
// figures do not drift with float accumulation.
type Performance struct {
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	RealizedPnL  string  `json:"realized_pnl"`
	OpenCount    int     `json:"open_count"`
	OpenValue    string  `json:"open_value"`
}

func (l *Ledger) Performance(ctx context.Context) (Performance, error) {
	perf := Performance{}
	closed, err := l.store.ListClosedPositions(ctx, 500)
	if err != nil {
		return perf, err
	}
	realized := decimal.Zero
	for _, p := range closed {
		perf.ClosedTrades++
		qty := decimal.NewFromFloat(p.Qty)
		pnl := decimal.NewFromFloat(p.ExitPrice).Sub(decimal.NewFromFloat(p.EntryPrice)).Mul(qty)
		realized = realized.Add(pnl)
		if pnl.IsPositive() {
			perf.Wins++
		}
	}
	if perf.ClosedTrades > 0 {
		perf.WinRate = float64(perf.Wins) / float64(perf.ClosedTrades)
	}
	perf.RealizedPnL = realized.Round(2).String()

	open, err := l.store.ListOpenPositions(ctx)
	if err != nil {
		return perf, err
	}
	value := decimal.Zero
	for _, p := range open {
		value = value.Add(decimal.NewFromFloat(p.CurrentPrice).Mul(decimal.NewFromFloat(p.Qty)))
	}
	perf.OpenCount = len(open)
	perf.OpenValue = value.Round(2).String()
	return perf, nil
}
