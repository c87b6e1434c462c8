package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hightrade/internal/logger"
)

// Outcome describes how an upstream call ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeOtherError
)

const maxBackoff = 300 * time.Second

// Limiter paces calls per source: a minimum inter-call interval, a rolling
// one-minute request cap, and exponential backoff after rate-limit responses.
// Backoff is per-source, never global. Safe for concurrent acquirers.
type Limiter struct {
	mu      sync.Mutex
	sources map[string]*sourceState

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

type sourceState struct {
	rpmCap      int
	minInterval time.Duration
	window      *rate.Limiter

	lastCallAt          time.Time
	consecutiveFailures int
	nextAllowedAt       time.Time
}

// Stats is a point-in-time snapshot of one source's pacing state.
type Stats struct {
	Source              string        `json:"source"`
	RPMCap              int           `json:"rpm_cap"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	InBackoff           bool          `json:"in_backoff"`
	BackoffEndsIn       time.Duration `json:"backoff_ends_in"`
	SinceLastCall       time.Duration `json:"since_last_call"`
}

func New() *Limiter {
	return &Limiter{
		sources: make(map[string]*sourceState),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Configure registers pacing for a source. Reconfiguring an existing source
// resets its window but keeps its backoff state.
func (l *Limiter) Configure(source string, rpmCap int, minInterval time.Duration) {
	if rpmCap <= 0 {
		rpmCap = 60
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.sources[source]
	st := &sourceState{
		rpmCap:      rpmCap,
		minInterval: minInterval,
		window:      rate.NewLimiter(rate.Limit(float64(rpmCap)/60.0), rpmCap),
	}
	if prev != nil {
		st.lastCallAt = prev.lastCallAt
		st.consecutiveFailures = prev.consecutiveFailures
		st.nextAllowedAt = prev.nextAllowedAt
	}
	l.sources[source] = st
	logger.Infof("rate limiter configured for %s: %d req/min, min interval %s", source, rpmCap, minInterval)
}

// Acquire blocks until the source may issue a request: past its minimum
// interval, past any backoff window, and inside the rolling per-minute cap.
// Cancellation of ctx aborts the wait.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	for {
		l.mu.Lock()
		st, ok := l.sources[source]
		if !ok {
			l.mu.Unlock()
			return fmt.Errorf("ratelimit: unknown source %q", source)
		}
		now := l.nowFn()
		wait := l.pendingWait(st, now)
		if wait <= 0 {
			res := st.window.ReserveN(now, 1)
			if d := res.DelayFrom(now); d > 0 {
				res.CancelAt(now)
				wait = d
			} else {
				st.lastCallAt = now
				l.mu.Unlock()
				return nil
			}
		}
		l.mu.Unlock()
		logger.Debugf("rate limit: waiting %s for %s", wait.Truncate(time.Millisecond), source)
		if err := l.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) pendingWait(st *sourceState, now time.Time) time.Duration {
	var wait time.Duration
	if st.minInterval > 0 && !st.lastCallAt.IsZero() {
		if until := st.lastCallAt.Add(st.minInterval); until.After(now) {
			wait = until.Sub(now)
		}
	}
	if st.nextAllowedAt.After(now) {
		if d := st.nextAllowedAt.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Record reports the outcome of a call made after Acquire. A rate-limited
// outcome arms exponential backoff: min(2^failures, 300) seconds.
func (l *Limiter) Record(source string, outcome Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sources[source]
	if !ok {
		return
	}
	switch outcome {
	case OutcomeOK:
		st.consecutiveFailures = 0
	case OutcomeRateLimited:
		st.consecutiveFailures++
		backoff := backoffFor(st.consecutiveFailures)
		st.nextAllowedAt = l.nowFn().Add(backoff)
		logger.Warnf("rate limit hit for %s: backing off %s (failure #%d)", source, backoff, st.consecutiveFailures)
	case OutcomeOtherError:
		// Transient upstream trouble is not a pacing problem.
	}
}

func backoffFor(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures > 30 {
		return maxBackoff
	}
	d := time.Duration(math.Pow(2, float64(failures))) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Stats reports the current pacing state of a source for the status surface.
func (l *Limiter) Stats(source string) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sources[source]
	if !ok {
		return Stats{}, false
	}
	now := l.nowFn()
	s := Stats{
		Source:              source,
		RPMCap:              st.rpmCap,
		ConsecutiveFailures: st.consecutiveFailures,
		InBackoff:           st.nextAllowedAt.After(now),
	}
	if s.InBackoff {
		s.BackoffEndsIn = st.nextAllowedAt.Sub(now)
	}
	if !st.lastCallAt.IsZero() {
		s.SinceLastCall = now.Sub(st.lastCallAt)
	}
	return s, true
}
