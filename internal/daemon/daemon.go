// Package daemon implements the Daemon Supervisor (C15): it starts
// every long-running component, restarts a crashed one up to
// max_restarts with exponential backoff, emits COMPONENT_FATAL and
// stops retrying once a component is exhausted, and propagates a
// single shutdown signal to all components with a bounded drain
// window, per spec.md §4.15. The component-registry-plus-supervised-
// goroutine shape is grounded on the teacher's
// internal/queue/scheduler.go Scheduler: the ticker/stop-channel/
// WaitGroup loop used there for one scheduled job is generalized here
// into N independently restarted components.
package daemon

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/flowforge/sdlc-orchestrator/internal/eventlog"
	"github.com/flowforge/sdlc-orchestrator/internal/logger"
	"github.com/flowforge/sdlc-orchestrator/internal/metrics"
)

// Runnable is a long-running component the supervisor manages. Run
// must block until ctx is canceled or the component fails, and must
// return promptly once ctx is canceled (the supervisor's drain
// window bounds how long it will wait).
type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error { return f(ctx) }

// Config controls restart behavior, mirroring spec.md §6.4's
// daemon.* keys.
type Config struct {
	MaxRestarts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 1 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 20 * time.Second
	}
	return c
}

type component struct {
	name     string
	run      Runnable
	restarts int
	fatal    bool
}

// Supervisor owns the lifecycle of every registered component.
type Supervisor struct {
	cfg        Config
	events     *eventlog.Log
	components []*component

	mu   sync.Mutex
	wg   sync.WaitGroup
	done chan struct{}
}

// New builds a Supervisor. events may be nil in tests.
func New(cfg Config, events *eventlog.Log) *Supervisor {
	return &Supervisor{
		cfg:    cfg.withDefaults(),
		events: events,
		done:   make(chan struct{}),
	}
}

// Register adds a component to be started by Run. Call before Run;
// registering after Run has started is not supported.
func (s *Supervisor) Register(name string, run Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components = append(s.components, &component{name: name, run: run})
}

// Run starts every registered component and blocks until ctx is
// canceled, then gives each component up to cfg.DrainTimeout to
// return before Run itself returns.
func (s *Supervisor) Run(ctx context.Context) {
	for _, c := range s.components {
		s.wg.Add(1)
		go s.superviseLoop(ctx, c)
	}

	<-ctx.Done()
	logger.WithComponent("daemon").Info().Msg("shutdown signal received, draining components")

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.WithComponent("daemon").Info().Msg("all components drained")
	case <-time.After(s.cfg.DrainTimeout):
		logger.WithComponent("daemon").Warn().Dur("drain_timeout", s.cfg.DrainTimeout).Msg("drain timeout exceeded, exiting anyway")
	}
}

// superviseLoop runs one component, restarting it with exponential
// backoff on crash until max_restarts is exhausted or ctx ends.
func (s *Supervisor) superviseLoop(ctx context.Context, c *component) {
	defer s.wg.Done()

	for {
		err := s.runOnce(ctx, c)

		if ctx.Err() != nil {
			logger.WithComponent("daemon").Info().Str("component", c.name).Msg("component stopped for shutdown")
			return
		}
		if err == nil {
			logger.WithComponent("daemon").Info().Str("component", c.name).Msg("component exited cleanly")
			return
		}

		c.restarts++
		metrics.RecordComponentRestart(c.name)
		logger.WithComponent("daemon").Error().Err(err).Str("component", c.name).
			Int("attempt", c.restarts).Msg("component crashed")

		if c.restarts > s.cfg.MaxRestarts {
			c.fatal = true
			s.emitFatal(c, err)
			return
		}

		backoff := s.backoffFor(c.restarts)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runOnce invokes the component's Run once, recovering a panic into an
// error so one component's crash can never take down the supervisor
// goroutine itself.
func (s *Supervisor) runOnce(ctx context.Context, c *component) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("component %s panicked: %v", c.name, r)
		}
	}()
	return c.run.Run(ctx)
}

// backoffFor computes delay = min(base * 2^(n-1) + jitter, max), the
// same exponential-with-jitter shape internal/classify.RetryPolicy
// uses for delegate retries, applied here to component restarts.
func (s *Supervisor) backoffFor(attempt int) time.Duration {
	exp := float64(s.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1))
	maxDelay := float64(s.cfg.MaxBackoff)
	if exp > maxDelay {
		exp = maxDelay
	}
	jitter := exp * 0.2 * rand.Float64()
	d := time.Duration(exp + jitter)
	if d < s.cfg.BaseBackoff {
		d = s.cfg.BaseBackoff
	}
	return d
}

func (s *Supervisor) emitFatal(c *component, cause error) {
	logger.WithComponent("daemon").Error().Str("component", c.name).
		Int("max_restarts", s.cfg.MaxRestarts).Msg("component exhausted restarts, giving up")

	if s.events == nil {
		return
	}
	ev := eventlog.New(eventlog.EventComponentFatal, "daemon", "", "", map[string]interface{}{
		"component": c.name,
		"restarts":  c.restarts,
		"error":     cause.Error(),
	})
	if err := s.events.Append(ev); err != nil {
		logger.WithComponent("daemon").Error().Err(err).Msg("failed to append COMPONENT_FATAL event")
	}
}

// Fatal reports whether the named component has exhausted its
// restarts and is no longer running. Intended for the admin API's
// health check to surface a degraded-but-alive process.
func (s *Supervisor) Fatal(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.components {
		if c.name == name {
			return c.fatal
		}
	}
	return false
}
