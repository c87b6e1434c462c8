package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hightrade/internal/alert"
	"hightrade/internal/command"
	"hightrade/internal/ledger"
	"hightrade/internal/logger"
	"hightrade/internal/metrics"
	"hightrade/internal/types"
)

// HandleCommand applies one command atomically to the loop state, writes the
// file-queue response, and answers the operator on the urgent channel.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd command.Command) command.Result {
	res := o.dispatch(ctx, cmd)
	metrics.CommandsProcessed.WithLabelValues(cmd.Verb).Inc()
	o.queue.Ack(cmd)
	if err := command.WriteResponse(o.cfg.App.CommandsDir(), cmd.ID, res); err != nil {
		logger.Debugf("writing command response failed: %v", err)
	}
	// Queries answer through their own payload; mutators confirm urgently.
	switch cmd.Verb {
	case command.VerbStatus, command.VerbPortfolio, command.VerbDefcon:
	default:
		o.router.CommandResponse(ctx, alert.CommandResponse{
			CommandID: cmd.ID,
			Verb:      cmd.Verb,
			OK:        res.Code == command.CodeOK,
			Detail:    res.Body,
		})
	}
	logger.Infof("command %s (%s) -> code %d", cmd.Verb, cmd.ID, res.Code)
	return res
}

func (o *Orchestrator) dispatch(ctx context.Context, cmd command.Command) command.Result {
	switch cmd.Verb {
	case command.VerbStatus:
		return o.statusResult(ctx)
	case command.VerbPortfolio:
		return o.portfolioResult(ctx)
	case command.VerbDefcon:
		return o.defconResult(ctx)
	case command.VerbHold:
		return o.transition(types.ModeRunning, types.ModeHeld, "holding: monitoring continues, no new entries")
	case command.VerbResume:
		return o.resume()
	case command.VerbYes:
		return o.approve(ctx)
	case command.VerbNo:
		return o.reject(ctx)
	case command.VerbRefresh:
		select {
		case o.wake <- struct{}{}:
		default:
		}
		return command.Result{Code: command.CodeOK, Body: "refresh scheduled"}
	case command.VerbShutdown:
		o.setMode(types.ModeShuttingDown)
		return command.Result{Code: command.CodeOK, Body: "shutting down after current cycle"}
	case command.VerbEstop:
		return o.estop()
	case command.VerbMode:
		return o.setBrokerMode(ctx, cmd.Args)
	case command.VerbInterval:
		return o.setInterval(cmd.Args)
	default:
		return command.Result{Code: command.CodeUnknownVerb, Body: fmt.Sprintf("unknown verb %q", cmd.Verb)}
	}
}

func (o *Orchestrator) setMode(m types.Mode) {
	o.mu.Lock()
	o.state.Mode = m
	o.mu.Unlock()
}

func (o *Orchestrator) transition(from, to types.Mode, body string) command.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Mode != from {
		return command.Result{Code: command.CodeInvalidState, Body: fmt.Sprintf("cannot %s while %s", to, o.state.Mode)}
	}
	o.state.Mode = to
	return command.Result{Code: command.CodeOK, Body: body}
}

func (o *Orchestrator) resume() command.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state.Mode {
	case types.ModeHeld, types.ModeEStopped:
		o.state.Mode = types.ModeRunning
		return command.Result{Code: command.CodeOK, Body: "running"}
	default:
		return command.Result{Code: command.CodeInvalidState, Body: fmt.Sprintf("cannot resume while %s", o.state.Mode)}
	}
}

// estop latches immediately: cancels in-flight cycle I/O and leaves open
// positions unmanaged until a manual resume.
func (o *Orchestrator) estop() command.Result {
	o.mu.Lock()
	o.state.Mode = types.ModeEStopped
	cancel := o.cycleCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logger.Warnf("EMERGENCY STOP: loop latched, open positions unmanaged")
	return command.Result{Code: command.CodeOK, Body: "e-stopped; resume required"}
}

func (o *Orchestrator) approve(ctx context.Context) command.Result {
	positions, err := o.ledger.Approve(ctx, o.Snapshot())
	switch {
	case errors.Is(err, ledger.ErrNoPending):
		return command.Result{Code: command.CodeInvalidState, Body: "no pending decision"}
	case errors.Is(err, ledger.ErrStaleSnapshot):
		return command.Result{Code: command.CodeInvalidState, Body: "market snapshot is stale; refresh first"}
	case err != nil:
		return command.Result{Code: command.CodeInvalidState, Body: err.Error()}
	}
	symbols := make([]string, 0, len(positions))
	for _, p := range positions {
		symbols = append(symbols, p.Symbol)
	}
	return command.Result{Code: command.CodeOK, Body: fmt.Sprintf("approved: opened %v", symbols)}
}

func (o *Orchestrator) reject(ctx context.Context) command.Result {
	if err := o.ledger.Reject(ctx); err != nil {
		if errors.Is(err, ledger.ErrNoPending) {
			return command.Result{Code: command.CodeInvalidState, Body: "no pending decision"}
		}
		return command.Result{Code: command.CodeInvalidState, Body: err.Error()}
	}
	return command.Result{Code: command.CodeOK, Body: "rejected"}
}

func (o *Orchestrator) setBrokerMode(ctx context.Context, args []string) command.Result {
	if len(args) != 1 || !types.ValidBrokerMode(args[0]) {
		return command.Result{Code: command.CodeInvalidState, Body: "usage: mode disabled|semi_auto|full_auto"}
	}
	o.mu.Lock()
	o.state.BrokerMode = types.BrokerMode(args[0])
	o.mu.Unlock()
	o.persistState(ctx)
	return command.Result{Code: command.CodeOK, Body: "broker mode " + args[0]}
}

func (o *Orchestrator) setInterval(args []string) command.Result {
	if len(args) != 1 {
		return command.Result{Code: command.CodeInvalidState, Body: "usage: interval <minutes>"}
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes < 1 {
		return command.Result{Code: command.CodeInvalidState, Body: "interval must be a positive number of minutes"}
	}
	o.mu.Lock()
	o.state.CycleInterval = minutes * 60
	o.mu.Unlock()
	return command.Result{Code: command.CodeOK, Body: fmt.Sprintf("cycle interval %d minutes", minutes)}
}

func (o *Orchestrator) statusResult(ctx context.Context) command.Result {
	st := o.State()
	snap := o.Snapshot()
	open, _ := o.ledger.ListOpen(ctx)
	payload := map[string]any{
		"mode":               st.Mode,
		"broker_mode":        st.BrokerMode,
		"cycle_interval_sec": st.CycleInterval,
		"cycle_count":        st.CycleCount,
		"last_cycle_start":   st.LastCycleStart.Format(time.RFC3339),
		"defcon":             o.Defcon(),
		"vix":                snap.VIX,
		"open_positions":     len(open),
	}
	return jsonResult(payload)
}

func (o *Orchestrator) portfolioResult(ctx context.Context) command.Result {
	perf, err := o.ledger.Performance(ctx)
	if err != nil {
		return command.Result{Code: command.CodeInvalidState, Body: err.Error()}
	}
	open, err := o.ledger.ListOpen(ctx)
	if err != nil {
		return command.Result{Code: command.CodeInvalidState, Body: err.Error()}
	}
	return jsonResult(map[string]any{
		"performance": perf,
		"open":        open,
	})
}

func (o *Orchestrator) defconResult(ctx context.Context) command.Result {
	payload := map[string]any{"level": o.Defcon()}
	if last, err := o.store.LastDefconState(ctx); err == nil && last != nil {
		payload["signal_score"] = last.SignalScore
		payload["entered_at"] = last.EnteredAt.Format(time.RFC3339)
		payload["reason_code"] = last.ReasonCode
	}
	return jsonResult(payload)
}

func jsonResult(payload any) command.Result {
	raw, err := json.Marshal(payload)
	if err != nil {
		return command.Result{Code: command.CodeInvalidState, Body: err.Error()}
	}
	return command.Result{Code: command.CodeOK, Body: string(raw)}
}
