// Package recovery implements the recovery sweeper half of the Daemon
// Supervisor (C15): a ticker-driven loop that calls recover_stale and
// recover_zombie on the State Store, per spec.md §4.15. Grounded on
// the teacher's internal/queue.Scheduler: the ticker + stop-channel +
// WaitGroup loop shape and the distributed-lock-guarded "only one
// sweep runs at a time" pattern (there: a Redis SETNX; here:
// internal/lock.Manager, since this spec's single-host State Store has
// no Redis) are carried over directly, generalized from moving
// scheduled tasks into priority queues to requeuing stale/zombie tasks.
package recovery

import (
	"sync"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/lock"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
)

// Store is the subset of internal/store.Store the sweeper needs.
type Store interface {
	RecoverStale(timeout time.Duration) (int, error)
	RecoverZombie(timeout time.Duration) (int, error)
}

// Config controls sweep cadence and thresholds, per spec.md §6.4.
type Config struct {
	PollInterval  time.Duration
	StaleTimeout  time.Duration
	ZombieTimeout time.Duration
}

// Sweeper runs recover_stale/recover_zombie on a timer, serialized
// across process instances via a named lock.
type Sweeper struct {
	cfg    Config
	store  Store
	locks  *lock.Manager
	stopCh chan struct{}
	wg     sync.WaitGroup
}

const sweepLockName = "recovery:sweep"

// New builds a Sweeper.
func New(cfg Config, store Store, locks *lock.Manager) *Sweeper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 15 * time.Minute
	}
	if cfg.ZombieTimeout <= 0 {
		cfg.ZombieTimeout = time.Hour
	}
	return &Sweeper{cfg: cfg, store: store, locks: locks, stopCh: make(chan struct{})}
}

// Start launches the sweep loop in its own goroutine.
func (sw *Sweeper) Start() {
	sw.wg.Add(1)
	go sw.loop()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	close(sw.stopCh)
	sw.wg.Wait()
}

func (sw *Sweeper) loop() {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.sweep()
		}
	}
}

func (sw *Sweeper) sweep() {
	log := logger.WithComponent("recovery")

	err := sw.locks.WithLock(sweepLockName, 5*time.Second, func() error {
		staleN, err := sw.store.RecoverStale(sw.cfg.StaleTimeout)
		if err != nil {
			return err
		}
		if staleN > 0 {
			log.Info().Int("count", staleN).Msg("recovered stale tasks")
		}

		zombieN, err := sw.store.RecoverZombie(sw.cfg.ZombieTimeout)
		if err != nil {
			return err
		}
		if zombieN > 0 {
			log.Info().Int("count", zombieN).Msg("recovered zombie workers")
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("recovery sweep failed")
	}
}
