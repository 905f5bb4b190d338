package domain

// OrchStatus is the display status derived for the orchestrator as a
// whole. The orchestrator has no discrete "done" event, so this is
// inferred from record state plus recent activity.
type OrchStatus string

const (
	OrchIdle    OrchStatus = "idle"
	OrchRunning OrchStatus = "running"
	OrchDone    OrchStatus = "done"
)

// Summary counts records by status.
type Summary struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
	Total     int `json:"total"`
}

// SessionView is a per-session rollup. Derived on every query, never
// stored.
type SessionView struct {
	SessionID string `json:"session_id"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Errored   int    `json:"errored"`
}

// StateView is the full snapshot query result served on GET /state.
type StateView struct {
	Summary            Summary        `json:"summary"`
	OrchestratorStatus OrchStatus     `json:"orchestrator_status"`
	Model              string         `json:"model"`
	Agents             []AgentRecord  `json:"agents"`
	Messages           []MessageEntry `json:"messages"`
	Sessions           []SessionView  `json:"sessions"`
	Totals             UsageTotals    `json:"totals"`
	CostUSD            float64        `json:"cost_usd"`
}
