package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"hightrade/internal/alert"
	"hightrade/internal/api"
	"hightrade/internal/command"
	"hightrade/internal/config"
	"hightrade/internal/ledger"
	"hightrade/internal/logger"
	"hightrade/internal/market"
	"hightrade/internal/news"
	"hightrade/internal/orchestrator"
	"hightrade/internal/ratelimit"
	"hightrade/internal/store"
	"hightrade/internal/strategy"
)

// App wires every collaborator by construction and owns their lifecycles.
type App struct {
	cfg   *config.Config
	store *store.Store
	orch  *orchestrator.Orchestrator
	api   *api.Server
}

// NewApp builds the full object graph from config. Nothing here reaches for
// ambient singletons; every dependency is passed in.
func NewApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	st, err := store.Open(cfg.App.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	limiter := ratelimit.New()
	for source, rl := range cfg.RateLimits {
		limiter.Configure(source, rl.RPM, rl.MinInterval())
	}

	agg := news.NewAggregator(*cfg, limiter, st, st)
	mk := market.NewClient(cfg.Market, limiter)
	led := ledger.New(st, cfg.Paper)
	eval := strategy.NewEvaluator(cfg.Exit)

	var urgent, silent alert.Sender
	if cfg.Alerts.Urgent.Endpoint != "" {
		urgent = alert.NewWebhook(cfg.Alerts.Urgent.Endpoint)
	}
	if cfg.Alerts.Silent.Endpoint != "" {
		silent = alert.NewWebhook(cfg.Alerts.Silent.Endpoint)
	}
	router := alert.NewRouter(cfg.Alerts, urgent, silent)

	queue, err := command.NewQueue(cfg.App.CommandsDir(), cfg.Cycle.Tick())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("preparing command queue: %w", err)
	}

	orch := orchestrator.New(cfg, st, agg, mk, led, eval, router, queue)
	server := api.NewServer(cfg.App.HTTPAddr, orch, led, queue)

	return &App{cfg: cfg, store: st, orch: orch, api: server}, nil
}

// Run starts the status API and drives the orchestrator loop until it drains.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.writePID(); err != nil {
		logger.Warnf("writing pid file failed: %v", err)
	}
	defer os.Remove(a.cfg.App.PIDPath())
	defer a.store.Close()

	go a.api.Start(ctx)

	started := time.Now()
	err := a.orch.Run(ctx)
	logger.Infof("hightrade stopped after %s", time.Since(started).Truncate(time.Second))
	return err
}

func (a *App) writePID() error {
	return os.WriteFile(a.cfg.App.PIDPath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
