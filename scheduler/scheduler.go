// Package scheduler drives the time-based lifecycle logic: staleness
// detection, retention cleanup, periodic snapshot writes, and the
// debounced whole-store auto-reset. All timing goes through an
// injected clock so every transition is deterministically testable.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xiaot623/agentboard/clock"
	"github.com/xiaot623/agentboard/config"
	"github.com/xiaot623/agentboard/domain"
	"github.com/xiaot623/agentboard/store"
)

// Hooks are the scheduler's outward side effects. Nil hooks are
// skipped.
type Hooks struct {
	// OnChange signals that a sweep mutated state (broadcast + save).
	OnChange func()
	// SaveNow performs an unconditional snapshot write.
	SaveNow func()
	// Reset performs the full store reset once the debounce fires,
	// unless work arrived in the meantime; it reports whether it
	// actually reset. The check-and-reset must be atomic with event
	// handling.
	Reset func() bool
}

// Scheduler owns the lifecycle timers.
type Scheduler struct {
	clk   clock.Clock
	store *store.Store
	cfg   *config.Config
	hooks Hooks

	mu         sync.Mutex
	resetTimer *clock.Timer
}

// New creates a scheduler. Timers start with Run.
func New(clk clock.Clock, s *store.Store, cfg *config.Config, hooks Hooks) *Scheduler {
	return &Scheduler{clk: clk, store: s, cfg: cfg, hooks: hooks}
}

// Run ticks the staleness/retention sweep and the periodic save until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	sweep := s.clk.NewTicker(s.cfg.SweepInterval)
	save := s.clk.NewTicker(s.cfg.SaveInterval)
	defer sweep.Stop()
	defer save.Stop()

	for {
		select {
		case <-ctx.Done():
			s.CancelReset()
			return
		case <-sweep.C:
			s.Sweep()
		case <-save.C:
			s.fire(s.hooks.SaveNow)
		}
	}
}

// Sweep runs one staleness + retention pass.
func (s *Scheduler) Sweep() {
	changed := s.sweepStale()
	if s.sweepRetention() {
		changed = true
	}
	if changed {
		s.fire(s.hooks.OnChange)
	}
}

// sweepStale force-errors running records whose last activity is
// older than the staleness threshold. This is the only transition a
// record that was never otherwise resolved receives.
func (s *Scheduler) sweepStale() bool {
	now := s.clk.Now()
	changed := false
	for _, rec := range s.store.Running() {
		if now.Sub(rec.LastActivityAt) <= s.cfg.StaleAfter {
			continue
		}
		id := rec.ID
		s.store.Update(id, func(r *domain.AgentRecord) {
			if r.Status != domain.StatusRunning {
				return
			}
			r.Status = domain.StatusErrored
			r.FailReason = domain.FailReasonStale
			r.ErrorPreview = fmt.Sprintf("no activity for %s", now.Sub(r.LastActivityAt).Round(time.Second))
			ended := now
			r.EndedAt = &ended
			changed = true
		})
		log.Printf("WARN: agent %s marked stale", id)
	}
	if changed {
		s.store.MarkTerminal()
		if s.store.RunningCount() == 0 {
			s.ScheduleReset()
		}
	}
	return changed
}

// sweepRetention evicts terminal records and trims message entries
// older than the retention window.
func (s *Scheduler) sweepRetention() bool {
	cutoff := s.clk.Now().Add(-s.cfg.Retention)
	removed := s.store.TrimBefore(cutoff)
	if removed > 0 {
		log.Printf("retention: evicted %d records", removed)
	}
	return removed > 0
}

// ScheduleReset arms (or re-arms) the debounced auto-reset. The reset
// fires only once both conditions hold at the deadline: nothing is
// running, and the orchestrator's liveness window has expired.
func (s *Scheduler) ScheduleReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetTimer != nil {
		s.resetTimer.Reset(s.cfg.ResetDelay)
		return
	}
	s.resetTimer = s.clk.AfterFunc(s.cfg.ResetDelay, s.onResetDue)
}

// CancelReset disarms a pending auto-reset.
func (s *Scheduler) CancelReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resetTimer != nil {
		s.resetTimer.Stop()
	}
}

func (s *Scheduler) onResetDue() {
	if s.store.RunningCount() > 0 {
		// New work arrived while the debounce was pending. The next
		// completion re-arms the timer.
		return
	}
	if s.clk.Now().Sub(s.store.LastActivity()) < s.cfg.OrchLiveness {
		// The orchestrator is still alive; try again later.
		s.mu.Lock()
		if s.resetTimer != nil {
			s.resetTimer.Reset(s.cfg.ResetDelay)
		}
		s.mu.Unlock()
		return
	}
	if s.hooks.Reset != nil {
		// The hook re-checks for running work under the event lock;
		// the count above is only a fast path.
		s.hooks.Reset()
	}
}

func (s *Scheduler) fire(hook func()) {
	if hook != nil {
		hook()
	}
}
