// Package domain defines the core domain models for the agent tracker.
package domain

import "time"

// Status represents the lifecycle status of an agent record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusErrored
}

// FailReason classifies a corrective errored relabel. Genuine failures
// reported by the producer carry an empty reason.
type FailReason string

const (
	// FailReasonStale marks a running record force-errored by the
	// staleness sweep.
	FailReasonStale FailReason = "stale"
	// FailReasonRestart marks a record found running in a snapshot
	// written by a process that died. Still eligible for late
	// completion matching.
	FailReasonRestart FailReason = "restart"
)

// ParentOrchestrator is the sentinel parent id for records owned
// directly by the external orchestrator.
const ParentOrchestrator = "orchestrator"

// Tool names the tracker treats as lifecycle events. Everything else
// only refreshes orchestrator activity.
const (
	// ToolSpawn launches a sub-agent.
	ToolSpawn = "Task"
	// ToolReport delivers an out-of-band result for a detached
	// background agent.
	ToolReport = "TaskOutput"
)

// AgentRecord is the tracked lifecycle state of one logical agent
// invocation.
type AgentRecord struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
	AgentType   string `json:"agent_type,omitempty"`

	Status     Status     `json:"status"`
	FailReason FailReason `json:"fail_reason,omitempty"`
	Background bool       `json:"background,omitempty"`
	ParentID   string     `json:"parent_id"`

	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`

	Usage *Usage `json:"usage,omitempty"`

	OutputPreview    string `json:"output_preview,omitempty"`
	ErrorPreview     string `json:"error_preview,omitempty"`
	OutputFile       string `json:"output_file,omitempty"`
	BackgroundTaskID string `json:"background_task_id,omitempty"`
}

// Usage holds the token accounting parsed from a completion payload.
// A nil *Usage means no usage block was present, which is distinct
// from a parsed block whose fields are zero.
type Usage struct {
	Tokens     int `json:"tokens"`
	ToolUses   int `json:"tool_uses"`
	DurationMs int `json:"duration_ms"`
}

// UsageTotals are process-wide running counters, bumped only when a
// record reaches a terminal state with parsed usage.
type UsageTotals struct {
	Tokens     int `json:"tokens"`
	ToolUses   int `json:"tool_uses"`
	DurationMs int `json:"duration_ms"`
	Agents     int `json:"agents"`
}

// MessageEntry records one cross-agent communication edge for the
// trace view. Not used for control logic.
type MessageEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      string    `json:"kind"` // prompt, response
	Timestamp time.Time `json:"ts"`
}
