// Package store holds the in-memory agent record collection: the
// single source of truth for the tracker. All mutation reaches it
// through run-to-completion calls under one mutex; there is no other
// writer path.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/agentboard/domain"
)

// Store is the keyed record collection plus the message trace ring,
// usage counters, and the two lifecycle clocks (last orchestrator
// activity, last terminal transition).
type Store struct {
	mu sync.Mutex

	records  map[string]*domain.AgentRecord
	messages []domain.MessageEntry
	totals   domain.UsageTotals

	lastActivity time.Time
	lastTerminal time.Time

	messageCap int
	now        func() time.Time
}

// New creates an empty store. now supplies the current time so
// lifecycle logic stays testable with a fake clock.
func New(messageCap int, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if messageCap <= 0 {
		messageCap = 200
	}
	return &Store{
		records:    make(map[string]*domain.AgentRecord),
		messageCap: messageCap,
		now:        now,
	}
}

// Put inserts or replaces a record.
func (s *Store) Put(rec *domain.AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (domain.AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.AgentRecord{}, false
	}
	return *rec, true
}

// Update applies fn to the record with the given id under the store
// lock. Returns false when the record does not exist.
func (s *Store) Update(id string, fn func(*domain.AgentRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	fn(rec)
	return true
}

// Running returns copies of all records currently in StatusRunning.
func (s *Store) Running() []domain.AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AgentRecord
	for _, rec := range s.records {
		if rec.Status == domain.StatusRunning {
			out = append(out, *rec)
		}
	}
	return out
}

// RunningCount returns how many records are currently running.
func (s *Store) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.records {
		if rec.Status == domain.StatusRunning {
			n++
		}
	}
	return n
}

// DeepestRunning returns the id of the running record in the session
// with the most recent start time, excluding excludeID. Empty when
// none is running: the new record is owned by the orchestrator root.
func (s *Store) DeepestRunning(sessionID, excludeID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.AgentRecord
	for _, rec := range s.records {
		if rec.ID == excludeID || rec.SessionID != sessionID || rec.Status != domain.StatusRunning {
			continue
		}
		if best == nil || rec.StartedAt.After(best.StartedAt) {
			best = rec
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// OldestRunningBackground returns the id of the earliest-started
// running background record in the session, or "".
func (s *Store) OldestRunningBackground(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.AgentRecord
	for _, rec := range s.records {
		if rec.SessionID != sessionID || !rec.Background || rec.Status != domain.StatusRunning {
			continue
		}
		if best == nil || rec.StartedAt.Before(best.StartedAt) {
			best = rec
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// ByBackgroundTaskID returns the id of the running background record
// whose launch acknowledgment carried the given task id, or "".
func (s *Store) ByBackgroundTaskID(sessionID, taskID string) string {
	if taskID == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.SessionID == sessionID && rec.Status == domain.StatusRunning && rec.BackgroundTaskID == taskID {
			return rec.ID
		}
	}
	return ""
}

// FindFallback locates a completion target by session + description:
// running records first, then restart-relabeled errored ones (those
// were never legitimately resolved), earliest start wins.
func (s *Store) FindFallback(sessionID, description string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pick := func(recoverable bool) string {
		var best *domain.AgentRecord
		for _, rec := range s.records {
			if rec.SessionID != sessionID || rec.Description != description {
				continue
			}
			if recoverable {
				if rec.Status != domain.StatusErrored || rec.FailReason != domain.FailReasonRestart {
					continue
				}
			} else if rec.Status != domain.StatusRunning {
				continue
			}
			if best == nil || rec.StartedAt.Before(best.StartedAt) {
				best = rec
			}
		}
		if best == nil {
			return ""
		}
		return best.ID
	}
	if id := pick(false); id != "" {
		return id
	}
	return pick(true)
}

// AppendMessage appends a trace entry, dropping the oldest when the
// ring is full.
func (s *Store) AppendMessage(m domain.MessageEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	if len(s.messages) > s.messageCap {
		s.messages = s.messages[len(s.messages)-s.messageCap:]
	}
}

// Messages returns a copy of the message trace, oldest first.
func (s *Store) Messages() []domain.MessageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MessageEntry, len(s.messages))
	copy(out, s.messages)
	return out
}

// AddUsage folds one terminal record's usage into the totals and
// bumps the agent count. A nil usage is a no-op: a completion whose
// payload carried no counters contributes nothing, not a zero row.
func (s *Store) AddUsage(u *domain.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		return
	}
	s.totals.Agents++
	s.totals.Tokens += u.Tokens
	s.totals.ToolUses += u.ToolUses
	s.totals.DurationMs += u.DurationMs
}

// Totals returns the running usage counters.
func (s *Store) Totals() domain.UsageTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// TouchActivity refreshes the orchestrator last-activity timestamp.
func (s *Store) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// LastActivity returns the most recent orchestrator activity time.
func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MarkTerminal records the time of the latest terminal transition.
func (s *Store) MarkTerminal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTerminal = s.now()
}

// LastTerminal returns the time of the latest terminal transition.
func (s *Store) LastTerminal() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTerminal
}

// Delete removes a record by id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Reset clears records, messages, totals, and the terminal clock. The
// activity clock survives: a reset says nothing about whether the
// orchestrator is alive.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*domain.AgentRecord)
	s.messages = nil
	s.totals = domain.UsageTotals{}
	s.lastTerminal = time.Time{}
}

// Summary counts records by status.
func (s *Store) Summary() domain.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum domain.Summary
	for _, rec := range s.records {
		switch rec.Status {
		case domain.StatusRunning:
			sum.Running++
		case domain.StatusCompleted:
			sum.Completed++
		case domain.StatusErrored:
			sum.Errored++
		}
	}
	sum.Total = len(s.records)
	return sum
}

// List returns up to limit record copies sorted by start time
// descending. limit <= 0 means all.
func (s *Store) List(limit int) []domain.AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AgentRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Sessions builds the per-session rollup, ordered by session id for a
// stable view.
func (s *Store) Sessions() []domain.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySession := make(map[string]*domain.SessionView)
	for _, rec := range s.records {
		v, ok := bySession[rec.SessionID]
		if !ok {
			v = &domain.SessionView{SessionID: rec.SessionID}
			bySession[rec.SessionID] = v
		}
		switch rec.Status {
		case domain.StatusRunning:
			v.Running++
		case domain.StatusCompleted:
			v.Completed++
		case domain.StatusErrored:
			v.Errored++
		}
	}
	out := make([]domain.SessionView, 0, len(bySession))
	for _, v := range bySession {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Export copies out everything the snapshot needs.
func (s *Store) Export() ([]domain.AgentRecord, []domain.MessageEntry, domain.UsageTotals, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]domain.AgentRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, *rec)
	}
	messages := make([]domain.MessageEntry, len(s.messages))
	copy(messages, s.messages)
	return records, messages, s.totals, s.lastTerminal
}

// Restore replaces store contents from a loaded snapshot. Parent
// references that no longer resolve within the same session degrade
// to the orchestrator sentinel, never to a dangling pointer.
func (s *Store) Restore(records []domain.AgentRecord, messages []domain.MessageEntry, totals domain.UsageTotals, lastTerminal time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*domain.AgentRecord, len(records))
	for i := range records {
		rec := records[i]
		s.records[rec.ID] = &rec
	}
	for _, rec := range s.records {
		if rec.ParentID == "" || rec.ParentID == domain.ParentOrchestrator {
			rec.ParentID = domain.ParentOrchestrator
			continue
		}
		parent, ok := s.records[rec.ParentID]
		if !ok || parent.SessionID != rec.SessionID {
			rec.ParentID = domain.ParentOrchestrator
		}
	}
	s.messages = append([]domain.MessageEntry(nil), messages...)
	if len(s.messages) > s.messageCap {
		s.messages = s.messages[len(s.messages)-s.messageCap:]
	}
	s.totals = totals
	s.lastTerminal = lastTerminal
}

// TrimBefore evicts terminal records that ended before the cutoff and
// trims message entries older than it from the front. Returns how
// many records were removed.
func (s *Store) TrimBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.Status.Terminal() && rec.EndedAt != nil && rec.EndedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	firstKept := 0
	for firstKept < len(s.messages) && s.messages[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		s.messages = append([]domain.MessageEntry(nil), s.messages[firstKept:]...)
	}
	return removed
}

// Now exposes the store's clock to collaborating packages.
func (s *Store) Now() time.Time { return s.now() }
