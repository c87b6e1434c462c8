package orchestrator

import (
	"context"
	"sync"
	"time"

	"hightrade/internal/alert"
	"hightrade/internal/command"
	"hightrade/internal/config"
	"hightrade/internal/ledger"
	"hightrade/internal/logger"
	"hightrade/internal/news"
	"hightrade/internal/strategy"
	"hightrade/internal/types"
)

// Store is the persistence surface the orchestrator drives. It is the single
// writer; everything here runs on the orchestrator task.
type Store interface {
	SaveMarketSnapshot(ctx context.Context, snap types.MarketSnapshot) error
	SaveNewsSignal(ctx context.Context, sig types.NewsSignal) error
	SaveDefconState(ctx context.Context, d types.DefconState) error
	LastDefconState(ctx context.Context) (*types.DefconState, error)
	SaveOrchestratorState(ctx context.Context, st types.OrchestratorState) error
	LoadOrchestratorState(ctx context.Context) (*types.OrchestratorState, error)
	CleanupCache(ctx context.Context)
	Spill(label string, payload any)
}

// MarketClient provides the cycle's market view.
type MarketClient interface {
	Snapshot(ctx context.Context) types.MarketSnapshot
}

// Aggregator is the news pipeline surface the cycle drives.
type Aggregator interface {
	Collect(ctx context.Context, cycleID int64) ([]types.Article, error)
	DetectNovelty(ctx context.Context, batch []types.Article) news.Novelty
	BuildSignal(cycleID int64, batch []types.Article) types.NewsSignal
}

// Orchestrator owns OrchestratorState and drives the monitoring loop. All
// collaborators are injected at construction; nothing is discovered through
// process-wide lookups.
type Orchestrator struct {
	cfg    *config.Config
	store  Store
	agg    Aggregator
	market MarketClient
	ledger *ledger.Ledger
	eval   *strategy.Evaluator
	router *alert.Router
	queue  *command.Queue

	mu            sync.Mutex
	state         types.OrchestratorState
	currentDefcon int
	lastSnapshot  types.MarketSnapshot

	// cycleCancel aborts in-flight cycle I/O on estop.
	cycleCancel context.CancelFunc
	// wake interrupts the inter-cycle sleep (refresh).
	wake chan struct{}

	nowFn func() time.Time
}

func New(cfg *config.Config, st Store, agg Aggregator, mk MarketClient, led *ledger.Ledger, eval *strategy.Evaluator, router *alert.Router, queue *command.Queue) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		store:         st,
		agg:           agg,
		market:        mk,
		ledger:        led,
		eval:          eval,
		router:        router,
		queue:         queue,
		currentDefcon: 5,
		state: types.OrchestratorState{
			Mode:          types.ModeRunning,
			BrokerMode:    types.BrokerMode(cfg.BrokerMode),
			CycleInterval: cfg.Cycle.IntervalSec,
		},
		wake:  make(chan struct{}, 1),
		nowFn: time.Now,
	}
}

// restore rebuilds loop state from the last run. Shutdown state resumes
// running; an e-stop stays latched until an operator resumes.
func (o *Orchestrator) restore(ctx context.Context) {
	if st, err := o.store.LoadOrchestratorState(ctx); err != nil {
		logger.Warnf("restoring orchestrator state failed, starting fresh: %v", err)
	} else if st != nil {
		o.state.BrokerMode = st.BrokerMode
		if st.CycleInterval > 0 {
			o.state.CycleInterval = st.CycleInterval
		}
		o.state.CycleCount = st.CycleCount
		if st.Mode == types.ModeEStopped {
			o.state.Mode = types.ModeEStopped
		}
	}
	if d, err := o.store.LastDefconState(ctx); err == nil && d != nil {
		o.currentDefcon = d.Level
	}
	logger.Infof("orchestrator restored: mode=%s broker=%s interval=%ds cycles=%d defcon=%d",
		o.state.Mode, o.state.BrokerMode, o.state.CycleInterval, o.state.CycleCount, o.currentDefcon)
}

// Run is the main loop: run a cycle, persist, then sleep at tick granularity
// while applying commands, until shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.restore(ctx)
	go o.queue.Watch(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.mu.Lock()
		mode := o.state.Mode
		o.mu.Unlock()

		switch mode {
		case types.ModeShuttingDown:
			o.persistState(ctx)
			logger.Infof("orchestrator drained, exiting")
			return nil
		case types.ModeRunning, types.ModeHeld:
			o.runCycle(ctx)
		case types.ModeEStopped:
			// Latched; only an operator resume moves us.
		}

		o.sleepBetweenCycles(ctx)
	}
}

// sleepBetweenCycles waits until the next cycle is due, polling the command
// channel at the tick rate. refresh wakes it early; shutdown and estop are
// applied immediately.
func (o *Orchestrator) sleepBetweenCycles(ctx context.Context) {
	o.mu.Lock()
	deadline := o.state.LastCycleStart.Add(time.Duration(o.state.CycleInterval) * time.Second)
	o.mu.Unlock()

	ticker := time.NewTicker(o.cfg.Cycle.Tick())
	defer ticker.Stop()
	for {
		o.mu.Lock()
		mode := o.state.Mode
		o.mu.Unlock()
		if mode == types.ModeShuttingDown {
			return
		}
		if mode != types.ModeEStopped && !o.nowFn().Before(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case cmd := <-o.queue.Commands():
			o.HandleCommand(ctx, cmd)
		case <-o.wake:
			return
		case <-ticker.C:
		}
	}
}

// pollCommands applies whatever is queued right now without blocking. Called
// between cycle phases so an estop or shutdown lands promptly.
func (o *Orchestrator) pollCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-o.queue.Commands():
			o.HandleCommand(ctx, cmd)
		default:
			return
		}
	}
}

func (o *Orchestrator) persistState(ctx context.Context) {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()
	o.persistWithRetry(ctx, "orchestrator_state", st, func() error {
		return o.store.SaveOrchestratorState(ctx, st)
	})
}

// persistWithRetry retries a failed write once, then spills the artifact and
// moves on: availability over durability for this workload.
func (o *Orchestrator) persistWithRetry(ctx context.Context, label string, payload any, write func() error) {
	err := write()
	if err == nil {
		return
	}
	logger.Warnf("persisting %s failed, retrying once: %v", label, err)
	if err := write(); err != nil {
		logger.Errorf("persisting %s failed twice, spilling: %v", label, err)
		o.store.Spill(label, payload)
	}
}

// State returns a copy of the loop state.
func (o *Orchestrator) State() types.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Defcon returns the current crisis level.
func (o *Orchestrator) Defcon() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentDefcon
}

// Snapshot returns the most recent market snapshot.
func (o *Orchestrator) Snapshot() types.MarketSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSnapshot
}
