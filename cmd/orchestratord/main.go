// Command orchestratord is the single always-on daemon entrypoint:
// it wires every component built under internal/ and runs until a
// shutdown signal is received, per spec.md §4.15/§6.3. Grounded on the
// teacher's cmd/api/main.go and cmd/worker/main.go — the
// config→logger→resource-construction→signal-wait→graceful-shutdown
// shape is the same, merged here into one process since this spec's
// orchestrator is a single daemon rather than the teacher's separate
// API and worker binaries.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/api"
	"github.com/flowforge/sdlc-orchestrator/internal/archive"
	"github.com/flowforge/sdlc-orchestrator/internal/breaker"
	"github.com/flowforge/sdlc-orchestrator/internal/budget"
	"github.com/flowforge/sdlc-orchestrator/internal/classify"
	"github.com/flowforge/sdlc-orchestrator/internal/config"
	"github.com/flowforge/sdlc-orchestrator/internal/consensus"
	"github.com/flowforge/sdlc-orchestrator/internal/control"
	"github.com/flowforge/sdlc-orchestrator/internal/cost"
	"github.com/flowforge/sdlc-orchestrator/internal/daemon"
	"github.com/flowforge/sdlc-orchestrator/internal/delegate"
	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/gates"
	"github.com/flowforge/sdlc-orchestrator/internal/lock"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/phase"
	"github.com/flowforge/sdlc-orchestrator/internal/queuewatcher"
	"github.com/flowforge/sdlc-orchestrator/internal/recovery"
	"github.com/flowforge/sdlc-orchestrator/internal/store"
	"github.com/flowforge/sdlc-orchestrator/internal/supervisor"
	"github.com/flowforge/sdlc-orchestrator/internal/task"
	"github.com/flowforge/sdlc-orchestrator/internal/worker"
)

// ensureLayout creates the directory tree spec.md §6.1 names, beyond
// what the components themselves create on demand (lock.NewManager and
// cost.NewTracker already mkdir their own subtrees; queuewatcher.New
// creates the queue/<priority> subdirectories).
func ensureLayout(cfg *config.Config) error {
	for _, dir := range []string{
		cfg.Root.StateDir(),
		cfg.Root.LogsDir(),
		cfg.Root.RunningDir(),
		cfg.Root.ReviewDir(),
		cfg.Root.CompletedDir(),
		cfg.Root.RejectedDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Exit codes per spec.md §6.3: 0 normal, 1 generic fatal (including a
// BUDGET_KILL shutdown), 2 startup/preflight failure, 124 a component's
// shutdown drain exceeded its configured grace period.
const (
	exitOK            = 0
	exitFatal         = 1
	exitPreflight     = 2
	exitDrainTimedOut = 124
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitPreflight
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Str("root", cfg.Root.Dir).Msg("starting orchestrator daemon")

	if err := ensureLayout(cfg); err != nil {
		log.Error().Err(err).Msg("failed to create filesystem layout")
		return exitPreflight
	}

	events, err := eventlog.Open(cfg.Root.EventLogFile())
	if err != nil {
		log.Error().Err(err).Msg("failed to open event log")
		return exitPreflight
	}
	defer events.Close()

	locks, err := lock.NewManager(cfg.Root.LocksDir())
	if err != nil {
		log.Error().Err(err).Msg("failed to create lock manager")
		return exitPreflight
	}

	st, err := store.Open(cfg.Root.StoreFile())
	if err != nil {
		log.Error().Err(err).Msg("failed to open state store")
		return exitPreflight
	}
	defer st.Close()

	costs, err := cost.NewTracker(cfg.Root.CostsDir())
	if err != nil {
		log.Error().Err(err).Msg("failed to create cost tracker")
		return exitPreflight
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		CooldownSeconds:  cfg.Breaker.CooldownSeconds,
	})
	breakers.SetEventLog(events)

	retryPolicy := classify.RetryPolicy{
		BaseSeconds: cfg.Retry.BaseSeconds,
		MaxSeconds:  cfg.Retry.MaxSeconds,
		JitterPct:   cfg.Retry.JitterPct,
	}
	invoker := delegate.NewInvoker(breakers, costs, events, retryPolicy)

	advisoryPause := &control.AdvisoryPause{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onKill := func(ctx context.Context) {
		log.Error().Msg("budget kill: pausing claims and draining in-flight delegates")
		advisoryPause.Pause()
		cancel()
	}
	budgetWatchdog := budget.NewWatchdog(budget.Config{
		SoftPausePerMin: cfg.Budget.SoftPausePerMin,
		KillPerMin:      cfg.Budget.KillPerMin,
		Tick:            cfg.Budget.WatchdogTick,
		DrainTimeout:    cfg.Budget.DrainTimeout,
	}, costs, events, onKill)

	pauseChecker := control.Combine(budgetWatchdog, advisoryPause)

	watcher, err := queuewatcher.New(queuewatcher.Config{
		QueueDir:     cfg.Root.QueueDir(),
		PollInterval: cfg.Pool.QueuePollPeriod,
		MaxRetries:   cfg.Task.MaxRetries,
	}, st, events)
	if err != nil {
		log.Error().Err(err).Msg("failed to create queue watcher")
		return exitPreflight
	}

	var workerCfgs []worker.Config
	for i := 0; i < cfg.Pool.Size; i++ {
		workerCfgs = append(workerCfgs, worker.Config{
			WorkerID:       fmt.Sprintf("worker-%d", i+1),
			MinPoll:        cfg.Pool.MinPoll,
			MaxPoll:        cfg.Pool.MaxPoll,
			StaleTimeout:   cfg.Recovery.StaleTimeout,
			HeartbeatEvery: cfg.Task.HeartbeatInterval,
			ShutdownGrace:  cfg.Pool.ShutdownGrace,
			FallbackChain:  cfg.Retry.FallbackChain,
		})
	}
	pool := worker.NewPool(workerCfgs, st, pauseChecker, invoker, events, worker.DefaultPromptBuilder)

	gateEngine := gates.NewEngine()

	consensusEngine := consensus.New(invoker, breakers)

	arc := archive.New(cfg.Root.TasksDir(), st)

	resolveWS := func(t *task.Task) gates.Workspace {
		return gates.Workspace{
			Dir:                  cfg.Root.ReviewDir() + "/" + t.TaskID,
			CoverageThresholdPct: cfg.Gates.CoverageThresholdPct,
		}
	}

	sup := supervisor.New(supervisor.Config{
		MaxRejectionRetries: cfg.Task.MaxRejectionRetries,
		ConsensusModels:     cfg.Retry.FallbackChain,
		ConsensusMode:       consensus.Mode(cfg.Consensus.Mode),
		ConsensusQuorumK:    cfg.Consensus.QuorumK,
		ConsensusWeights:    cfg.Consensus.Weights,
		ConsensusTimeoutS:   int(cfg.Task.TimeoutDefault.Seconds()),
	}, st, locks, gateEngine, consensusEngine, events, resolveWS)

	artifactChecker := func(groupID, path string) bool {
		_, err := os.Stat(filepath.Join(cfg.Root.TasksDir(), groupID, path))
		return err == nil
	}
	// gateResults is left nil: no component yet records a group's last
	// gate run keyed by group ID rather than task ID, so PhaseTrack and
	// PhaseComplete's RequiredGates preconditions fail closed until one
	// does.
	phaseMachine := phase.New(st, artifactChecker, nil)
	sup.SetPhaseMachine(phaseMachine)

	sweeper := recovery.New(recovery.Config{
		PollInterval:  cfg.Recovery.SweepInterval,
		StaleTimeout:  cfg.Recovery.StaleTimeout,
		ZombieTimeout: cfg.Recovery.ZombieTimeout,
	}, st, locks)

	reviewPoller := daemon.NewReviewPoller(cfg.Recovery.SweepInterval, st, sup)

	apiServer := api.NewServer(cfg, st, breakers, budgetWatchdog, arc, advisoryPause)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	componentSup := daemon.New(daemon.Config{
		MaxRestarts:  5,
		BaseBackoff:  time.Second,
		MaxBackoff:   time.Minute,
		DrainTimeout: cfg.Budget.DrainTimeout,
	}, events)

	var drainTimedOut atomic.Bool
	workerPoolRunnable := daemon.RunnableFunc(func(ctx context.Context) error {
		pool.Start(ctx)
		<-ctx.Done()
		start := time.Now()
		pool.Shutdown(cfg.Pool.ShutdownGrace)
		if elapsed := time.Since(start); elapsed > cfg.Pool.ShutdownGrace {
			log.Warn().Dur("elapsed", elapsed).Dur("grace", cfg.Pool.ShutdownGrace).
				Msg("worker pool drain exceeded its grace period")
			drainTimedOut.Store(true)
		}
		return nil
	})

	componentSup.Register("queue-watcher", startStopRunnable(watcher.Start, watcher.Stop))
	componentSup.Register("worker-pool", workerPoolRunnable)
	componentSup.Register("budget-watchdog", ctxRunnable(budgetWatchdog.Start, budgetWatchdog.Stop))
	componentSup.Register("recovery-sweeper", startStopRunnable(sweeper.Start, sweeper.Stop))
	componentSup.Register("review-poller", reviewPoller.Run)
	componentSup.Register("admin-api", daemon.RunnableFunc(func(ctx context.Context) error {
		return runHTTPServer(ctx, httpServer)
	}))

	handleSignals(ctx, cancel, advisoryPause)

	componentSup.Run(ctx)
	log.Info().Msg("orchestrator daemon stopped")

	switch {
	case budgetWatchdog.Killed():
		return exitFatal
	case drainTimedOut.Load():
		return exitDrainTimedOut
	default:
		return exitOK
	}
}

// ctxRunnable adapts a component whose Start takes a ctx and whose
// Stop takes none into a daemon.Runnable.
func ctxRunnable(start func(ctx context.Context), stop func()) daemon.Runnable {
	return daemon.RunnableFunc(func(ctx context.Context) error {
		start(ctx)
		<-ctx.Done()
		stop()
		return nil
	})
}

// startStopRunnable adapts a component with parameterless Start/Stop
// into a daemon.Runnable.
func startStopRunnable(start func(), stop func()) daemon.Runnable {
	return daemon.RunnableFunc(func(ctx context.Context) error {
		start()
		<-ctx.Done()
		stop()
		return nil
	})
}

func runHTTPServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("api").Info().Str("addr", srv.Addr).Msg("admin HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithComponent("api").Error().Err(err).Msg("admin HTTP server shutdown error")
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// handleSignals translates process signals into the daemon's shutdown
// and pause/resume controls, per spec.md §6.3: SIGTERM/SIGINT cancel
// ctx (graceful shutdown); SIGUSR1/SIGUSR2 toggle the same advisory
// pause flag the admin API's /admin/pause and /admin/resume handlers
// use.
func handleSignals(ctx context.Context, cancel context.CancelFunc, pause *control.AdvisoryPause) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
					cancel()
					return
				case syscall.SIGUSR1:
					logger.Info().Msg("SIGUSR1: pausing new task claims")
					pause.Pause()
				case syscall.SIGUSR2:
					logger.Info().Msg("SIGUSR2: resuming task claims")
					pause.Resume()
				}
			}
		}
	}()
}
