// Package tracker ingests tool-use notifications and reconciles them
// into agent lifecycle records. It is the only writer of store state.
// Ingestion never fails loudly: malformed or unmatched events degrade
// into diagnostic state on the affected record, never into an error
// for the producer.
package tracker

import (
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/agentboard/config"
	"github.com/xiaot623/agentboard/domain"
	"github.com/xiaot623/agentboard/parser"
	"github.com/xiaot623/agentboard/store"
)

// Hooks are the side-channels a handled event fires into. All of them
// must be non-blocking; nil hooks are skipped.
type Hooks struct {
	// Broadcast signals subscribers that state changed.
	Broadcast func()
	// RequestSave schedules a debounced snapshot write.
	RequestSave func()
	// ScheduleReset arms the debounced whole-store reset.
	ScheduleReset func()
	// CancelReset disarms a pending reset.
	CancelReset func()
}

// Tracker applies hook events to the record store. mu serializes the
// whole of each mutation: the store's own lock only protects single
// calls, and handlers are read-then-write sequences that must not
// interleave across request goroutines or with the timed reset.
type Tracker struct {
	store  *store.Store
	parser parser.Parser
	cfg    *config.Config
	hooks  Hooks

	mu sync.Mutex
}

// New creates a tracker around the given store.
func New(s *store.Store, p parser.Parser, cfg *config.Config, hooks Hooks) *Tracker {
	return &Tracker{store: s, parser: p, cfg: cfg, hooks: hooks}
}

// HandleEvent applies one notification. Invalid events are dropped
// after a log line; the caller always acknowledges them as accepted.
func (t *Tracker) HandleEvent(ev domain.HookEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.SessionID == "" || ev.ToolName == "" {
		log.Printf("WARN: dropping malformed event: session=%q tool=%q", ev.SessionID, ev.ToolName)
		return
	}
	if ev.Phase != domain.PhasePre && ev.Phase != domain.PhasePost {
		log.Printf("WARN: dropping event with unknown phase %q", ev.Phase)
		return
	}

	switch ev.ToolName {
	case domain.ToolSpawn:
		if ev.Phase == domain.PhasePre {
			t.handleSpawnPre(ev)
		} else {
			t.handleSpawnPost(ev)
		}
	case domain.ToolReport:
		if ev.Phase == domain.PhasePost {
			t.handleReport(ev)
		}
	default:
		// Non-lifecycle tools only prove the orchestrator is alive.
	}

	t.store.TouchActivity()
	t.fire(t.hooks.Broadcast)
	t.fire(t.hooks.RequestSave)
}

// Reset clears the whole store and disarms any pending auto-reset.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// ResetIfIdle resets only if nothing is running, deciding and acting
// under the same lock as event handling so a record created between
// the check and the reset cannot be wiped. It reports whether the
// reset fired.
func (t *Tracker) ResetIfIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store.RunningCount() > 0 {
		return false
	}
	t.reset()
	return true
}

func (t *Tracker) reset() {
	t.fire(t.hooks.CancelReset)
	t.store.Reset()
	log.Printf("store reset")
	t.fire(t.hooks.Broadcast)
	t.fire(t.hooks.RequestSave)
}

func (t *Tracker) handleSpawnPre(ev domain.HookEvent) {
	t.fire(t.hooks.CancelReset)

	// A pre arriving after a long gap with nothing running starts a
	// new batch, not a continuation of the old one.
	now := t.store.Now()
	lastTerminal := t.store.LastTerminal()
	if t.store.RunningCount() == 0 && !lastTerminal.IsZero() && now.Sub(lastTerminal) > t.cfg.ResetDelay {
		t.store.Reset()
		log.Printf("batch boundary: store reset before new agent")
	}

	id := t.deriveID(ev)
	if t.store.Update(id, func(rec *domain.AgentRecord) {
		rec.LastActivityAt = now
	}) {
		// Duplicate pre for a known record.
		return
	}

	parentID := t.store.DeepestRunning(ev.SessionID, id)
	if parentID == "" {
		parentID = domain.ParentOrchestrator
	}

	rec := &domain.AgentRecord{
		ID:             id,
		SessionID:      ev.SessionID,
		Description:    ev.InputString("description"),
		AgentType:      ev.InputString("subagent_type"),
		Status:         domain.StatusRunning,
		Background:     ev.InputBool("run_in_background"),
		ParentID:       parentID,
		StartedAt:      now,
		LastActivityAt: now,
	}
	t.store.Put(rec)
	t.store.AppendMessage(domain.MessageEntry{
		From:      parentID,
		To:        id,
		Kind:      "prompt",
		Timestamp: now,
	})
}

func (t *Tracker) handleSpawnPost(ev domain.HookEvent) {
	id := t.deriveID(ev)
	rec, ok := t.store.Get(id)
	if !ok {
		if fallback := t.store.FindFallback(ev.SessionID, ev.InputString("description")); fallback != "" {
			rec, ok = t.store.Get(fallback)
		}
	}
	if !ok {
		// A post with no prior pre still carries a real outcome.
		t.synthesize(ev)
		return
	}

	if rec.Background && rec.Status == domain.StatusRunning {
		if ack, taskID, outputFile := t.parser.DetectLaunchAck(ev.ToolOutput); ack {
			// Launch acknowledged; the detached agent is still
			// running and will report out of band.
			t.store.Update(rec.ID, func(r *domain.AgentRecord) {
				r.LastActivityAt = t.store.Now()
				if taskID != "" {
					r.BackgroundTaskID = taskID
				}
				if outputFile != "" {
					r.OutputFile = outputFile
				}
			})
			return
		}
	}

	t.complete(rec.ID, ev.ToolOutput, ev.IsError)
}

func (t *Tracker) handleReport(ev domain.HookEvent) {
	id := ""
	if explicit := firstNonEmpty(ev.InputString("task_id"), ev.InputString("subagent_id")); explicit != "" {
		if _, ok := t.store.Get(explicit); ok {
			id = explicit
		} else {
			id = t.store.ByBackgroundTaskID(ev.SessionID, explicit)
		}
	}
	if id == "" {
		id = t.store.OldestRunningBackground(ev.SessionID)
	}
	if id == "" {
		t.synthesize(ev)
		return
	}
	t.complete(id, ev.ToolOutput, ev.IsError)
}

// complete transitions a record to its terminal state, folding the
// payload into usage totals and the message trace. Terminal records
// stay terminal, with one exception: an errored record relabeled at
// crash recovery was never legitimately resolved, so a late
// completion may still claim it.
func (t *Tracker) complete(id, output string, isError *bool) {
	now := t.store.Now()
	failed := t.parser.SniffFailure(output, isError)
	usage := t.parser.ParseUsage(output)

	var parentID string
	transitioned := false
	t.store.Update(id, func(rec *domain.AgentRecord) {
		if rec.Status.Terminal() && !(rec.Status == domain.StatusErrored && rec.FailReason == domain.FailReasonRestart) {
			rec.LastActivityAt = now
			return
		}
		transitioned = true
		if failed {
			rec.Status = domain.StatusErrored
			rec.ErrorPreview = parser.Preview(output)
		} else {
			rec.Status = domain.StatusCompleted
			rec.OutputPreview = parser.Preview(output)
		}
		rec.FailReason = ""
		ended := now
		rec.EndedAt = &ended
		rec.LastActivityAt = now
		if usage != nil {
			if usage.DurationMs == 0 {
				usage.DurationMs = int(now.Sub(rec.StartedAt) / time.Millisecond)
			}
			rec.Usage = usage
		}
		parentID = rec.ParentID
	})
	if !transitioned {
		return
	}

	if usage != nil {
		t.store.AddUsage(usage)
	}
	if parentID == "" {
		parentID = domain.ParentOrchestrator
	}
	t.store.AppendMessage(domain.MessageEntry{
		From:      id,
		To:        parentID,
		Kind:      "response",
		Timestamp: now,
	})
	t.store.MarkTerminal()
	t.evaluateReset()
}

// synthesize records an unmatched completion as a minimal terminal
// record rather than dropping it.
func (t *Tracker) synthesize(ev domain.HookEvent) {
	now := t.store.Now()
	failed := t.parser.SniffFailure(ev.ToolOutput, ev.IsError)
	usage := t.parser.ParseUsage(ev.ToolOutput)

	status := domain.StatusCompleted
	if failed {
		status = domain.StatusErrored
	}
	ended := now
	rec := &domain.AgentRecord{
		ID:             "synth-" + uuid.New().String()[:8],
		SessionID:      ev.SessionID,
		Description:    ev.InputString("description"),
		AgentType:      ev.InputString("subagent_type"),
		Status:         status,
		ParentID:       domain.ParentOrchestrator,
		StartedAt:      now,
		EndedAt:        &ended,
		LastActivityAt: now,
		Usage:          usage,
	}
	if failed {
		rec.ErrorPreview = parser.Preview(ev.ToolOutput)
	} else {
		rec.OutputPreview = parser.Preview(ev.ToolOutput)
	}
	t.store.Put(rec)
	log.Printf("WARN: synthesized record %s for unmatched completion in session %s", rec.ID, ev.SessionID)

	if usage != nil {
		t.store.AddUsage(usage)
	}
	t.store.MarkTerminal()
	t.evaluateReset()
}

// evaluateReset arms the debounced auto-reset once nothing is left
// running.
func (t *Tracker) evaluateReset() {
	if t.store.RunningCount() == 0 {
		t.fire(t.hooks.ScheduleReset)
	}
}

// deriveID returns a stable identifier for the logical agent: the
// caller-supplied id when present, otherwise a hash of the session
// and description. Two concurrent agents with identical descriptions
// in one session are indistinguishable by design.
func (t *Tracker) deriveID(ev domain.HookEvent) string {
	if explicit := ev.InputString("subagent_id"); explicit != "" {
		return explicit
	}
	h := fnv.New64a()
	h.Write([]byte(ev.SessionID))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(ev.InputString("description"))))
	return fmt.Sprintf("agent-%x", h.Sum64())
}

func (t *Tracker) fire(hook func()) {
	if hook != nil {
		hook()
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
