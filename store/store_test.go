package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/agentboard/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(now *time.Time) *Store {
	return New(5, func() time.Time { return *now })
}

func running(id, session string, startedAt time.Time) *domain.AgentRecord {
	return &domain.AgentRecord{
		ID:             id,
		SessionID:      session,
		Status:         domain.StatusRunning,
		ParentID:       domain.ParentOrchestrator,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
	}
}

func TestDeepestRunning(t *testing.T) {
	now := base
	s := newTestStore(&now)

	s.Put(running("a", "s1", base))
	s.Put(running("b", "s1", base.Add(time.Second)))
	s.Put(running("other", "s2", base.Add(time.Minute)))

	assert.Equal(t, "b", s.DeepestRunning("s1", ""))
	assert.Equal(t, "a", s.DeepestRunning("s1", "b"))
	assert.Equal(t, "", s.DeepestRunning("s3", ""))
}

func TestDeepestRunningIgnoresTerminal(t *testing.T) {
	now := base
	s := newTestStore(&now)

	done := running("a", "s1", base.Add(time.Hour))
	done.Status = domain.StatusCompleted
	s.Put(done)
	s.Put(running("b", "s1", base))

	assert.Equal(t, "b", s.DeepestRunning("s1", ""))
}

func TestOldestRunningBackground(t *testing.T) {
	now := base
	s := newTestStore(&now)

	bg1 := running("bg1", "s1", base.Add(time.Second))
	bg1.Background = true
	bg2 := running("bg2", "s1", base)
	bg2.Background = true
	s.Put(bg1)
	s.Put(bg2)
	s.Put(running("fg", "s1", base.Add(-time.Hour)))

	assert.Equal(t, "bg2", s.OldestRunningBackground("s1"))
	assert.Equal(t, "", s.OldestRunningBackground("s2"))
}

func TestFindFallbackPrefersRunning(t *testing.T) {
	now := base
	s := newTestStore(&now)

	relabeled := running("old", "s1", base.Add(-time.Hour))
	relabeled.Description = "build"
	relabeled.Status = domain.StatusErrored
	relabeled.FailReason = domain.FailReasonRestart
	s.Put(relabeled)

	live := running("live", "s1", base)
	live.Description = "build"
	s.Put(live)

	assert.Equal(t, "live", s.FindFallback("s1", "build"))

	s.Delete("live")
	assert.Equal(t, "old", s.FindFallback("s1", "build"))
}

func TestFindFallbackSkipsGenuineErrors(t *testing.T) {
	now := base
	s := newTestStore(&now)

	errored := running("x", "s1", base)
	errored.Description = "build"
	errored.Status = domain.StatusErrored
	s.Put(errored)

	assert.Equal(t, "", s.FindFallback("s1", "build"))
}

func TestMessageRingCap(t *testing.T) {
	now := base
	s := newTestStore(&now)

	for i := 0; i < 9; i++ {
		s.AppendMessage(domain.MessageEntry{Kind: "prompt", Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	msgs := s.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, base.Add(4*time.Second), msgs[0].Timestamp)
}

func TestAddUsage(t *testing.T) {
	now := base
	s := newTestStore(&now)

	s.AddUsage(&domain.Usage{Tokens: 500, ToolUses: 2, DurationMs: 100})

	totals := s.Totals()
	assert.Equal(t, 500, totals.Tokens)
	assert.Equal(t, 2, totals.ToolUses)
	assert.Equal(t, 1, totals.Agents)

	// A completion without parsed counters leaves the totals alone,
	// agent count included.
	s.AddUsage(nil)
	assert.Equal(t, totals, s.Totals())
}

func TestResetKeepsActivityClock(t *testing.T) {
	now := base
	s := newTestStore(&now)

	s.Put(running("a", "s1", base))
	s.TouchActivity()
	s.MarkTerminal()
	s.Reset()

	assert.Equal(t, 0, s.Summary().Total)
	assert.True(t, s.LastTerminal().IsZero())
	assert.Equal(t, base, s.LastActivity())
}

func TestListSortedAndTruncated(t *testing.T) {
	now := base
	s := newTestStore(&now)

	s.Put(running("a", "s1", base))
	s.Put(running("b", "s1", base.Add(time.Second)))
	s.Put(running("c", "s1", base.Add(2*time.Second)))

	list := s.List(2)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestRestoreDegradesDanglingParents(t *testing.T) {
	now := base
	s := newTestStore(&now)

	child := *running("child", "s1", base)
	child.ParentID = "gone"
	crossSession := *running("x", "s1", base)
	crossSession.ParentID = "other"
	other := *running("other", "s2", base)

	s.Restore([]domain.AgentRecord{child, crossSession, other}, nil, domain.UsageTotals{}, time.Time{})

	got, ok := s.Get("child")
	require.True(t, ok)
	assert.Equal(t, domain.ParentOrchestrator, got.ParentID)

	got, ok = s.Get("x")
	require.True(t, ok)
	assert.Equal(t, domain.ParentOrchestrator, got.ParentID)
}

func TestTrimBefore(t *testing.T) {
	now := base
	s := newTestStore(&now)

	old := running("old", "s1", base.Add(-2*time.Hour))
	old.Status = domain.StatusCompleted
	ended := base.Add(-time.Hour)
	old.EndedAt = &ended
	s.Put(old)

	stillRunning := running("live", "s1", base.Add(-2*time.Hour))
	s.Put(stillRunning)

	s.AppendMessage(domain.MessageEntry{Timestamp: base.Add(-time.Hour)})
	s.AppendMessage(domain.MessageEntry{Timestamp: base})

	removed := s.TrimBefore(base.Add(-30 * time.Minute))
	assert.Equal(t, 1, removed)

	_, ok := s.Get("old")
	assert.False(t, ok)
	_, ok = s.Get("live")
	assert.True(t, ok, "running records are never evicted by retention")
	assert.Len(t, s.Messages(), 1)
}
