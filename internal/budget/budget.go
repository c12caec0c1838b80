// Package budget implements the Budget Watchdog (C6): a ticker-driven
// reader of the Cost Tracker's spend rate that sets a process-wide
// pause flag, or initiates a drain-and-kill shutdown, per spec.md §4.6.
// The ticker/stop-channel shape is grounded on the teacher's
// internal/queue/scheduler.go Scheduler (Start/Stop/loop-over-ticker).
package budget

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
)

// SpendRateReader is the subset of cost.Tracker the watchdog needs.
type SpendRateReader interface {
	SpendRatePerMinute() float64
}

// Config mirrors spec.md §6.4's budget.* keys.
type Config struct {
	SoftPausePerMin float64
	KillPerMin      float64
	Tick            time.Duration
	DrainTimeout    time.Duration
}

// KillFunc is invoked once when the kill rate is exceeded; it should
// cancel in-flight delegate processes and arrange process exit.
type KillFunc func(ctx context.Context)

// Watchdog is the Budget Watchdog component.
type Watchdog struct {
	cfg    Config
	reader SpendRateReader
	log    *eventlog.Log
	onKill KillFunc

	paused atomic.Bool
	killed atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWatchdog(cfg Config, reader SpendRateReader, log *eventlog.Log, onKill KillFunc) *Watchdog {
	return &Watchdog{
		cfg:    cfg,
		reader: reader,
		log:    log,
		onKill: onKill,
		stopCh: make(chan struct{}),
	}
}

// Paused reports the current process-wide pause flag, consulted by the
// Worker Pool before every claim attempt (spec.md §4.6).
func (w *Watchdog) Paused() bool {
	return w.paused.Load()
}

// Start runs the watchdog's tick loop until Stop is called or ctx ends.
func (w *Watchdog) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
	logger.WithComponent("budget").Info().Dur("tick", w.cfg.Tick).Msg("budget watchdog started")
}

// Stop halts the tick loop.
func (w *Watchdog) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watchdog) tick(ctx context.Context) {
	if w.killed.Load() {
		return
	}

	rate := w.reader.SpendRatePerMinute()

	if rate > w.cfg.SoftPausePerMin {
		if !w.paused.Swap(true) {
			logger.WithComponent("budget").Warn().Float64("rate", rate).Msg("soft pause threshold exceeded")
		}
	} else if w.paused.Load() {
		w.paused.Store(false)
		logger.WithComponent("budget").Info().Float64("rate", rate).Msg("spend rate recovered, resuming claims")
	}

	if rate > w.cfg.KillPerMin {
		w.killed.Store(true)
		w.paused.Store(true)
		if w.log != nil {
			_ = w.log.Append(eventlog.New(eventlog.EventBudgetKill, "budget_watchdog", "", "",
				map[string]interface{}{"spend_rate_per_min": rate, "kill_threshold": w.cfg.KillPerMin}))
		}
		logger.WithComponent("budget").Error().Float64("rate", rate).Msg("budget kill threshold exceeded")
		if w.onKill != nil {
			drainCtx, cancel := context.WithTimeout(ctx, w.cfg.DrainTimeout)
			defer cancel()
			w.onKill(drainCtx)
		}
	}
}

// Killed reports whether a BUDGET_KILL has fired.
func (w *Watchdog) Killed() bool {
	return w.killed.Load()
}

// SpendRatePerMin reports the last-known spend rate for the admin API's
// /admin/budget endpoint.
func (w *Watchdog) SpendRatePerMin() float64 {
	return w.reader.SpendRatePerMinute()
}
