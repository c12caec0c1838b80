// Package control holds small process-wide mutable flags shared
// between the admin API and the Worker Pool, grounded on the same
// sync/atomic.Bool pattern internal/budget.Watchdog uses for its own
// pause flag: spec.md §9 treats "global mutable state (paused flag,
// breaker state, cost window)" as named resources mutated only through
// their owning component's operations, never shared mutable structs.
package control

import "sync/atomic"

// Checker reports whether a pause source is currently asserting pause.
type Checker interface {
	Paused() bool
}

// AdvisoryPause is the operator-facing pause flag toggled by
// POST /admin/pause and POST /admin/resume (SPEC_FULL.md §6.6),
// equivalent to SIGUSR1/SIGUSR2 per spec.md §6.3. It is advisory and
// independent of the Budget Watchdog's own pause flag — either source
// asserting pause is enough to halt new claims, per Combine.
type AdvisoryPause struct {
	v atomic.Bool
}

// Pause asserts the advisory pause flag.
func (p *AdvisoryPause) Pause() { p.v.Store(true) }

// Resume clears the advisory pause flag.
func (p *AdvisoryPause) Resume() { p.v.Store(false) }

// Paused implements Checker.
func (p *AdvisoryPause) Paused() bool { return p.v.Load() }

// Combined ORs multiple pause sources into a single Checker, so the
// Worker Pool's single PauseChecker dependency can consult both the
// Budget Watchdog and the admin API's advisory flag without either
// package depending on the other.
type Combined struct {
	checkers []Checker
}

// Combine builds a Combined checker over the given sources.
func Combine(checkers ...Checker) *Combined {
	return &Combined{checkers: checkers}
}

// Paused reports true if any underlying source is currently paused.
func (c *Combined) Paused() bool {
	for _, chk := range c.checkers {
		if chk != nil && chk.Paused() {
			return true
		}
	}
	return false
}
