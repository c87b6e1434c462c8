package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"hightrade/internal/logger"
	"hightrade/internal/types"
)

// Store is the single-writer relational store. The orchestrator is the only
// writer; command handlers and the alert formatter read concurrently through
// the same handle (SQLite WAL permits that).
type Store struct {
	db        *gorm.DB
	spillPath string
}

// Open initializes the SQLite store at path, creating missing tables.
// Migration is forward-only: AutoMigrate adds what is absent and leaves
// unknown columns alone.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&positionModel{},
		&newsSignalModel{},
		&defconStateModel{},
		&pendingDecisionModel{},
		&marketSnapshotModel{},
		&newsCacheModel{},
		&orchestratorStateModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One writer plus concurrent readers; WAL keeps contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{
		db:        db,
		spillPath: filepath.Join(filepath.Dir(path), "spill.jsonl"),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ------------------------------- Positions -------------------------------

func (s *Store) SavePosition(ctx context.Context, p types.Position) error {
	if p.ID == "" {
		return fmt.Errorf("store: position id required")
	}
	m := newPositionModel(p)
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	var m positionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	p := m.toPosition()
	return &p, nil
}

func (s *Store) ListOpenPositions(ctx context.Context) ([]types.Position, error) {
	var models []positionModel
	if err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(types.PositionOpen), string(types.PositionPendingExit)}).
		Order("entry_time ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(models))
	for _, m := range models {
		out = append(out, m.toPosition())
	}
	return out, nil
}

func (s *Store) ListClosedPositions(ctx context.Context, limit int) ([]types.Position, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var models []positionModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(types.PositionClosed)).
		Order("exit_time DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(models))
	for _, m := range models {
		out = append(out, m.toPosition())
	}
	return out, nil
}

// --------------------------- Pending decisions ---------------------------

func (s *Store) SavePendingDecision(ctx context.Context, d types.PendingDecision, proposal *types.EntryProposal) error {
	m := pendingDecisionModel{
		ID:            d.ID,
		Kind:          string(d.Kind),
		Subject:       d.Subject,
		CreatedAtUnix: d.CreatedAt.UnixMilli(),
		ExpiresAtUnix: d.ExpiresAt.UnixMilli(),
		Status:        string(d.Status),
	}
	if proposal != nil {
		raw, err := json.Marshal(proposal)
		if err != nil {
			return err
		}
		m.Proposal = datatypes.JSON(raw)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) ActiveEntryDecision(ctx context.Context) (*types.PendingDecision, *types.EntryProposal, error) {
	var m pendingDecisionModel
	err := s.db.WithContext(ctx).
		Where("kind = ? AND status = ?", string(types.DecisionEntry), string(types.DecisionAwaiting)).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	d := types.PendingDecision{
		ID:        m.ID,
		Kind:      types.DecisionKind(m.Kind),
		Subject:   m.Subject,
		CreatedAt: time.UnixMilli(m.CreatedAtUnix).UTC(),
		ExpiresAt: time.UnixMilli(m.ExpiresAtUnix).UTC(),
		Status:    types.DecisionStatus(m.Status),
	}
	var proposal *types.EntryProposal
	if len(m.Proposal) > 0 {
		var p types.EntryProposal
		if err := json.Unmarshal(m.Proposal, &p); err == nil {
			proposal = &p
		}
	}
	return &d, proposal, nil
}

func (s *Store) UpdateDecisionStatus(ctx context.Context, id string, status types.DecisionStatus) error {
	res := s.db.WithContext(ctx).Model(&pendingDecisionModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ------------------------------ News signals -----------------------------

// SaveNewsSignal writes the cycle's signal. The cycle_id primary key enforces
// at most one row per cycle.
func (s *Store) SaveNewsSignal(ctx context.Context, sig types.NewsSignal) error {
	m := newNewsSignalModel(sig)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) LastNewsSignal(ctx context.Context) (*types.NewsSignal, error) {
	var m newsSignalModel
	if err := s.db.WithContext(ctx).Order("cycle_id DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sig := m.toSignal()
	return &sig, nil
}

// ------------------------------ DEFCON states ----------------------------

// SaveDefconState appends a transition row. Append-only by design; the latest
// row is the current state.
func (s *Store) SaveDefconState(ctx context.Context, d types.DefconState) error {
	m := defconStateModel{
		EnteredAtUnix: d.EnteredAt.UnixNano(),
		Level:         d.Level,
		SignalScore:   d.SignalScore,
		ReasonCode:    d.ReasonCode,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) LastDefconState(ctx context.Context) (*types.DefconState, error) {
	var m defconStateModel
	if err := s.db.WithContext(ctx).Order("entered_at DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &types.DefconState{
		Level:       m.Level,
		SignalScore: m.SignalScore,
		EnteredAt:   time.Unix(0, m.EnteredAtUnix).UTC(),
		ReasonCode:  m.ReasonCode,
	}, nil
}

// ----------------------------- Market snapshots --------------------------

func (s *Store) SaveMarketSnapshot(ctx context.Context, snap types.MarketSnapshot) error {
	prices, _ := json.Marshal(snap.Prices)
	m := marketSnapshotModel{
		TimestampUnix: snap.Timestamp.UnixMilli(),
		VIX:           snap.VIX,
		BondYield10Y:  snap.BondYield10Y,
		SP500Change:   snap.SP500Change,
		Prices:        datatypes.JSON(prices),
		Stale:         snap.Stale,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// ------------------------------- News cache ------------------------------

func (s *Store) GetBatch(ctx context.Context, key string) ([]types.Article, bool, error) {
	var m newsCacheModel
	if err := s.db.WithContext(ctx).Where("cache_key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if time.Now().After(time.UnixMilli(m.CachedAtUnix).Add(time.Duration(m.TTLSeconds) * time.Second)) {
		return nil, false, nil
	}
	var batch []types.Article
	if err := json.Unmarshal(m.Batch, &batch); err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

func (s *Store) PutBatch(ctx context.Context, key string, batch []types.Article, ttl time.Duration) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	m := newsCacheModel{
		Key:          key,
		Batch:        datatypes.JSON(raw),
		CachedAtUnix: time.Now().UnixMilli(),
		TTLSeconds:   int64(ttl.Seconds()),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// CleanupCache drops expired cache rows; called opportunistically per cycle.
func (s *Store) CleanupCache(ctx context.Context) {
	now := time.Now().UnixMilli()
	if err := s.db.WithContext(ctx).
		Where("cached_at + ttl_seconds * 1000 < ?", now).
		Delete(&newsCacheModel{}).Error; err != nil {
		logger.Debugf("news cache cleanup failed: %v", err)
	}
}

// --------------------------- Orchestrator state --------------------------

func (s *Store) SaveOrchestratorState(ctx context.Context, st types.OrchestratorState) error {
	m := orchestratorStateModel{
		ID:               1,
		Mode:             string(st.Mode),
		BrokerMode:       string(st.BrokerMode),
		CycleIntervalSec: st.CycleInterval,
		CycleCount:       st.CycleCount,
	}
	if !st.LastCycleStart.IsZero() {
		m.LastCycleStartUnix = st.LastCycleStart.UnixMilli()
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) LoadOrchestratorState(ctx context.Context) (*types.OrchestratorState, error) {
	var m orchestratorStateModel
	if err := s.db.WithContext(ctx).Where("id = ?", 1).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	st := &types.OrchestratorState{
		Mode:          types.Mode(m.Mode),
		BrokerMode:    types.BrokerMode(m.BrokerMode),
		CycleInterval: m.CycleIntervalSec,
		CycleCount:    m.CycleCount,
	}
	if m.LastCycleStartUnix > 0 {
		st.LastCycleStart = time.UnixMilli(m.LastCycleStartUnix).UTC()
	}
	return st, nil
}

// --------------------------------- Spill ---------------------------------

// Spill appends an artifact that failed to persist to the JSON-lines spill
// file. Availability beats durability for this workload; the loop continues.
func (s *Store) Spill(label string, payload any) {
	entry := map[string]any{
		"at":      time.Now().UTC().Format(time.RFC3339Nano),
		"label":   label,
		"payload": payload,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		logger.Errorf("spill marshal failed for %s: %v", label, err)
		return
	}
	f, err := os.OpenFile(s.spillPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Errorf("opening spill file failed: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		logger.Errorf("writing spill file failed: %v", err)
	}
}
