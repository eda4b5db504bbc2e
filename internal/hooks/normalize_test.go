package hooks

import (
	"encoding/json"
	"testing"

	"github.com/gobby-stack/gobby/internal/types"
)

func TestNormalize_Claude(t *testing.T) {
	payload := `{
		"session_id": "abc",
		"transcript_path": "/tmp/t.jsonl",
		"cwd": "/work",
		"hook_event_name": "PreToolUse",
		"tool_name": "Bash",
		"tool_input": {"command": "ls -la"}
	}`
	ev, err := Normalize(SourceClaude, "", []byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if ev.Type != types.EventBeforeTool || ev.SessionID != "abc" || ev.Cwd != "/work" || ev.Source != SourceClaude {
		t.Errorf("event = %+v", ev)
	}
	if ev.ToolName != "Bash" || ev.ToolInput["command"] != "ls -la" {
		t.Errorf("tool = %s %v", ev.ToolName, ev.ToolInput)
	}
	if ev.Data["transcript_path"] != "/tmp/t.jsonl" {
		t.Errorf("extra data = %v", ev.Data)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestNormalize_ToolResponseError(t *testing.T) {
	payload := `{"session_id":"s","hook_event_name":"AfterTool","tool_name":"Edit","tool_response":{"error":"file not found"}}`
	ev, err := Normalize(SourceGemini, "", []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != types.EventAfterTool || ev.ToolError != "file not found" {
		t.Errorf("event = %+v", ev)
	}
}

func TestNormalize_Codex(t *testing.T) {
	payload := `{"type":"agent-turn-complete","thread-id":"th-1","cwd":"/w","input-messages":["fix it","and test"],"last-assistant-message":"done"}`
	ev, err := Normalize(SourceCodex, "", []byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != types.EventAfterAgent || ev.SessionID != "th-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Prompt != "fix it\nand test" {
		t.Errorf("prompt = %q", ev.Prompt)
	}
	if ev.Data["last-assistant-message"] != "done" {
		t.Errorf("data = %v", ev.Data)
	}
}

func TestNormalize_EventNameArgument(t *testing.T) {
	tests := []struct {
		source string
		name   string
		want   types.HookEventType
	}{
		{SourceClaude, "UserPromptSubmit", types.EventBeforeAgent},
		{SourceClaude, "before_tool", types.EventBeforeTool},
		{SourceGemini, "PreCompress", types.EventPreCompact},
		{SourceCodex, "session-end", types.EventSessionEnd},
	}
	for _, tt := range tests {
		ev, err := Normalize(tt.source, tt.name, []byte(`{"session_id":"s"}`))
		if err != nil {
			t.Errorf("Normalize(%s, %s) error = %v", tt.source, tt.name, err)
			continue
		}
		if ev.Type != tt.want {
			t.Errorf("Normalize(%s, %s) type = %s, want %s", tt.source, tt.name, ev.Type, tt.want)
		}
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		event   string
		payload string
	}{
		{"bad json", SourceClaude, "", "{"},
		{"unknown source", "cursor", "before_tool", `{"session_id":"s"}`},
		{"unknown event", SourceClaude, "Notification", `{"session_id":"s"}`},
		{"no session", SourceClaude, "PreToolUse", `{}`},
		{"empty payload", SourceGemini, "BeforeTool", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.source, tt.event, []byte(tt.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, data)
	}
	return m
}

func TestEventType(t *testing.T) {
	tests := []struct {
		source  string
		name    string
		want    types.HookEventType
		wantErr bool
	}{
		{SourceClaude, "PreToolUse", types.EventBeforeTool, false},
		{SourceGemini, "before_tool", types.EventBeforeTool, false},
		{SourceCodex, "agent-turn-complete", types.EventAfterAgent, false},
		{"cursor", "before_tool", "", true},
		{"", "session_start", "", true},
		{SourceCodex, "PreToolUse", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.source+"/"+tt.name, func(t *testing.T) {
			got, err := EventType(tt.source, tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EventType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRender_ClaudePreToolUse(t *testing.T) {
	ev := &types.HookEvent{Type: types.EventBeforeTool, ToolName: "Edit"}
	tests := []struct {
		decision types.Decision
		want     string
	}{
		{types.DecisionBlock, "deny"},
		{types.DecisionRequireApproval, "ask"},
		{types.DecisionAllow, ""},
	}
	for _, tt := range tests {
		out, err := Render(SourceClaude, ev, &types.HookResponse{Decision: tt.decision, Message: "because"})
		if err != nil {
			t.Fatal(err)
		}
		spec, _ := decode(t, out)["hookSpecificOutput"].(map[string]any)
		if spec["hookEventName"] != "PreToolUse" {
			t.Errorf("%s: hookSpecificOutput = %v", tt.decision, spec)
		}
		got, _ := spec["permissionDecision"].(string)
		if got != tt.want {
			t.Errorf("%s: permissionDecision = %q, want %q", tt.decision, got, tt.want)
		}
	}
}

func TestRender_ClaudeWarnAndContext(t *testing.T) {
	ev := &types.HookEvent{Type: types.EventSessionStart}
	out, err := Render(SourceClaude, ev, &types.HookResponse{
		Decision:       types.DecisionWarn,
		Message:        "careful",
		Context:        []string{"one", "two"},
		SystemMessages: []string{"hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	if m["systemMessage"] != "hello\ncareful" {
		t.Errorf("systemMessage = %v", m["systemMessage"])
	}
	spec, _ := m["hookSpecificOutput"].(map[string]any)
	if spec["additionalContext"] != "one\n\ntwo" {
		t.Errorf("additionalContext = %v", spec["additionalContext"])
	}
}

func TestRender_ClaudeStopBlock(t *testing.T) {
	ev := &types.HookEvent{Type: types.EventStop}
	out, err := Render(SourceClaude, ev, &types.HookResponse{Decision: types.DecisionBlock, Message: "tests not run"})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	if m["decision"] != "block" || m["reason"] != "tests not run" {
		t.Errorf("output = %v", m)
	}
}

func TestRender_EmptyOutputs(t *testing.T) {
	allow := &types.HookResponse{Decision: types.DecisionAllow}
	tests := []struct {
		source string
		typ    types.HookEventType
	}{
		{SourceClaude, types.EventSessionEnd},
		{SourceGemini, types.EventAfterAgent},
		{SourceCodex, types.EventAfterAgent},
	}
	for _, tt := range tests {
		out, err := Render(tt.source, &types.HookEvent{Type: tt.typ}, allow)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 0 {
			t.Errorf("%s %s: output = %s, want none", tt.source, tt.typ, out)
		}
	}
}

func TestRender_Gemini(t *testing.T) {
	ev := &types.HookEvent{Type: types.EventBeforeTool}
	out, err := Render(SourceGemini, ev, &types.HookResponse{Decision: types.DecisionBlock, Message: "nope", Context: []string{"ctx"}})
	if err != nil {
		t.Fatal(err)
	}
	m := decode(t, out)
	if m["decision"] != "deny" || m["reason"] != "nope" {
		t.Errorf("output = %v", m)
	}
	spec, _ := m["hookSpecificOutput"].(map[string]any)
	if spec["hookEventName"] != "BeforeTool" || spec["additionalContext"] != "ctx" {
		t.Errorf("hookSpecificOutput = %v", spec)
	}
}
