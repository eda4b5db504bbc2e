package types

import (
	"strings"
	"time"
)

// HookEventType is a normalized session event.
type HookEventType string

const (
	EventSessionStart  HookEventType = "session_start"
	EventSessionEnd    HookEventType = "session_end"
	EventBeforeAgent   HookEventType = "before_agent"
	EventAfterAgent    HookEventType = "after_agent"
	EventBeforeTool    HookEventType = "before_tool"
	EventAfterTool     HookEventType = "after_tool"
	EventStop          HookEventType = "stop"
	EventPreCompact    HookEventType = "pre_compact"
	EventSubagentStart HookEventType = "subagent_start"
	EventSubagentStop  HookEventType = "subagent_stop"
)

// AllEventTypes lists every recognized event.
var AllEventTypes = []HookEventType{
	EventSessionStart, EventSessionEnd, EventBeforeAgent, EventAfterAgent,
	EventBeforeTool, EventAfterTool, EventStop, EventPreCompact,
	EventSubagentStart, EventSubagentStop,
}

// Valid returns true if this is a recognized event type.
func (t HookEventType) Valid() bool {
	for _, e := range AllEventTypes {
		if e == t {
			return true
		}
	}
	return false
}

// TriggerKey returns the definition trigger key for the event (on_<event>).
func (t HookEventType) TriggerKey() string {
	return "on_" + string(t)
}

// EventFromTriggerKey is the inverse of TriggerKey.
func EventFromTriggerKey(key string) (HookEventType, bool) {
	if !strings.HasPrefix(key, "on_") {
		return "", false
	}
	t := HookEventType(strings.TrimPrefix(key, "on_"))
	return t, t.Valid()
}

// HookEvent is one normalized event from a coding CLI.
type HookEvent struct {
	Type       HookEventType  `json:"type"`
	SessionID  string         `json:"session_id"`
	Source     string         `json:"source,omitempty"` // claude, gemini, codex
	Cwd        string         `json:"cwd,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult any            `json:"tool_result,omitempty"`
	ToolError  string         `json:"tool_error,omitempty"`
	Prompt     string         `json:"prompt,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Decision is a tool-call verdict.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionWarn            Decision = "warn"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Valid returns true if this is a recognized decision.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionWarn, DecisionRequireApproval, DecisionBlock:
		return true
	}
	return false
}

// Severity orders decisions from least to most restrictive.
func (d Decision) Severity() int {
	switch d {
	case DecisionWarn:
		return 1
	case DecisionRequireApproval:
		return 2
	case DecisionBlock:
		return 3
	}
	return 0
}

// MostRestrictive returns whichever of a and b is more restrictive.
func MostRestrictive(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	if a == "" {
		return DecisionAllow
	}
	return a
}

// HookResponse is the engine's verdict for a hook event.
type HookResponse struct {
	Decision Decision `json:"decision"`
	Message  string   `json:"message,omitempty"` // Required when Decision is not allow
	// Context is text to surface to the agent's next turn.
	Context []string `json:"context,omitempty"`
	// SystemMessages are shown to the user.
	SystemMessages []string `json:"system_messages,omitempty"`
	Workflow       string   `json:"workflow,omitempty"`
	Step           string   `json:"step,omitempty"`
}

// ContextText joins injected context blocks.
func (r *HookResponse) ContextText() string {
	return strings.Join(r.Context, "\n\n")
}
