package domain

// Phase tags which side of a tool invocation a hook event describes.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// HookEvent is the ingress payload emitted by the event producer on
// each tool invocation boundary. Delivery is best-effort: events may
// arrive out of order, duplicated, or not at all, and the tracker must
// tolerate all of that.
type HookEvent struct {
	SessionID  string         `json:"session_id"`
	Phase      Phase          `json:"phase"`
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	IsError    *bool          `json:"is_error,omitempty"`
}

// InputString returns a string field from the tool input, or "" when
// absent or not a string.
func (e *HookEvent) InputString(key string) string {
	if e.ToolInput == nil {
		return ""
	}
	s, _ := e.ToolInput[key].(string)
	return s
}

// InputBool returns a bool field from the tool input, or false when
// absent or not a bool.
func (e *HookEvent) InputBool(key string) bool {
	if e.ToolInput == nil {
		return false
	}
	b, _ := e.ToolInput[key].(bool)
	return b
}
