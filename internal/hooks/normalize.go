// Package hooks translates between coding-CLI hook payloads and the
// engine's normalized events and responses. Claude Code, Gemini CLI and
// Codex are supported.
package hooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/gobby-stack/gobby/internal/types"
)

// Sources.
const (
	SourceClaude = "claude"
	SourceGemini = "gemini"
	SourceCodex  = "codex"
)

// Sources lists the supported CLIs.
var Sources = []string{SourceClaude, SourceGemini, SourceCodex}

var claudeEvents = map[string]types.HookEventType{
	"SessionStart":     types.EventSessionStart,
	"SessionEnd":       types.EventSessionEnd,
	"UserPromptSubmit": types.EventBeforeAgent,
	"Stop":             types.EventStop,
	"PreToolUse":       types.EventBeforeTool,
	"PostToolUse":      types.EventAfterTool,
	"PreCompact":       types.EventPreCompact,
	"SubagentStart":    types.EventSubagentStart,
	"SubagentStop":     types.EventSubagentStop,
}

var geminiEvents = map[string]types.HookEventType{
	"SessionStart": types.EventSessionStart,
	"SessionEnd":   types.EventSessionEnd,
	"BeforeAgent":  types.EventBeforeAgent,
	"AfterAgent":   types.EventAfterAgent,
	"BeforeTool":   types.EventBeforeTool,
	"AfterTool":    types.EventAfterTool,
	"PreCompress":  types.EventPreCompact,
}

var codexEvents = map[string]types.HookEventType{
	"session-start":         types.EventSessionStart,
	"agent-turn-complete":   types.EventAfterAgent,
	"session-end":           types.EventSessionEnd,
	"user-prompt-submitted": types.EventBeforeAgent,
}

// EventType resolves a CLI-native event name. Normalized names
// (before_tool, ...) are accepted for every source.
func EventType(source, name string) (types.HookEventType, error) {
	var table map[string]types.HookEventType
	switch source {
	case SourceClaude:
		table = claudeEvents
	case SourceGemini:
		table = geminiEvents
	case SourceCodex:
		table = codexEvents
	default:
		return "", fmt.Errorf("unknown hook source %q", source)
	}
	if t := types.HookEventType(name); t.Valid() {
		return t, nil
	}
	if t, ok := table[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%s: unsupported hook event %q", source, name)
}

// Normalize builds an engine event from a CLI payload. eventName may be
// empty, in which case it is read from the payload (hook_event_name for
// Claude and Gemini, type for Codex).
func Normalize(source, eventName string, payload []byte) (*types.HookEvent, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		payload = []byte("{}")
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%s: hook payload is not valid JSON", source)
	}
	doc := gjson.ParseBytes(payload)

	if eventName == "" {
		if source == SourceCodex {
			eventName = doc.Get("type").String()
		} else {
			eventName = doc.Get("hook_event_name").String()
		}
	}
	typ, err := EventType(source, eventName)
	if err != nil {
		return nil, err
	}

	ev := &types.HookEvent{
		Type:      typ,
		Source:    source,
		SessionID: firstString(doc, "session_id", "sessionId", "thread-id", "thread_id"),
		Cwd:       firstString(doc, "cwd", "workdir"),
		Timestamp: time.Now(),
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("%s: hook payload has no session id", source)
	}

	switch source {
	case SourceCodex:
		normalizeCodex(ev, doc)
	default:
		normalizeToolCLI(ev, doc)
	}
	ev.Data = extraData(doc)
	return ev, nil
}

// normalizeToolCLI handles the Claude and Gemini payload shape, which share
// tool_name, tool_input, tool_response and prompt.
func normalizeToolCLI(ev *types.HookEvent, doc gjson.Result) {
	ev.ToolName = doc.Get("tool_name").String()
	if in := doc.Get("tool_input"); in.IsObject() {
		if m, ok := in.Value().(map[string]any); ok {
			ev.ToolInput = m
		}
	}
	if res := doc.Get("tool_response"); res.Exists() {
		ev.ToolResult = res.Value()
		if res.IsObject() {
			if e := res.Get("error"); e.Exists() && e.String() != "" {
				ev.ToolError = e.String()
			}
		}
	}
	ev.Prompt = doc.Get("prompt").String()
}

func normalizeCodex(ev *types.HookEvent, doc gjson.Result) {
	if msgs := doc.Get("input-messages"); msgs.IsArray() {
		var parts []string
		for _, m := range msgs.Array() {
			parts = append(parts, m.String())
		}
		ev.Prompt = strings.Join(parts, "\n")
	}
}

// extraData keeps payload fields the normalized event has no slot for, so
// conditions can still reach them through event_data.
func extraData(doc gjson.Result) map[string]any {
	known := map[string]bool{
		"session_id": true, "sessionId": true, "thread-id": true, "thread_id": true,
		"cwd": true, "workdir": true, "hook_event_name": true, "type": true,
		"tool_name": true, "tool_input": true, "tool_response": true, "prompt": true,
		"input-messages": true,
	}
	var out map[string]any
	doc.ForEach(func(k, v gjson.Result) bool {
		if known[k.String()] {
			return true
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k.String()] = v.Value()
		return true
	})
	return out
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		// Escape keeps path syntax characters in key names literal.
		if v := doc.Get(gjson.Escape(k)); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// Render produces the stdout body the CLI expects for a response. An empty
// result means the CLI needs no output.
func Render(source string, ev *types.HookEvent, resp *types.HookResponse) ([]byte, error) {
	if resp == nil {
		return nil, nil
	}
	var out any
	switch source {
	case SourceClaude:
		out = claudeOutput(ev, resp)
	case SourceGemini:
		out = geminiOutput(ev, resp)
	case SourceCodex:
		// Codex notify hooks are fire-and-forget.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown hook source %q", source)
	}
	if out == nil {
		return nil, nil
	}
	return json.Marshal(out)
}

type claudeSpecific struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
}

type claudeResponse struct {
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	HookSpecificOutput *claudeSpecific `json:"hookSpecificOutput,omitempty"`
}

var claudeNames = map[types.HookEventType]string{
	types.EventSessionStart:  "SessionStart",
	types.EventSessionEnd:    "SessionEnd",
	types.EventBeforeAgent:   "UserPromptSubmit",
	types.EventStop:          "Stop",
	types.EventBeforeTool:    "PreToolUse",
	types.EventAfterTool:     "PostToolUse",
	types.EventPreCompact:    "PreCompact",
	types.EventSubagentStart: "SubagentStart",
	types.EventSubagentStop:  "SubagentStop",
}

func claudeOutput(ev *types.HookEvent, resp *types.HookResponse) any {
	out := &claudeResponse{SystemMessage: systemMessage(resp)}
	name := claudeNames[ev.Type]
	extra := strings.Join(resp.Context, "\n\n")

	switch ev.Type {
	case types.EventBeforeTool:
		spec := &claudeSpecific{HookEventName: name, AdditionalContext: extra}
		switch resp.Decision {
		case types.DecisionBlock:
			spec.PermissionDecision = "deny"
			spec.PermissionDecisionReason = resp.Message
		case types.DecisionRequireApproval:
			spec.PermissionDecision = "ask"
			spec.PermissionDecisionReason = resp.Message
		}
		out.HookSpecificOutput = spec
	case types.EventAfterTool, types.EventStop, types.EventSubagentStop:
		if resp.Decision == types.DecisionBlock {
			out.Decision = "block"
			out.Reason = resp.Message
		}
		if extra != "" && ev.Type == types.EventAfterTool {
			out.HookSpecificOutput = &claudeSpecific{HookEventName: name, AdditionalContext: extra}
		}
	case types.EventBeforeAgent:
		if resp.Decision == types.DecisionBlock {
			out.Decision = "block"
			out.Reason = resp.Message
		}
		if extra != "" {
			out.HookSpecificOutput = &claudeSpecific{HookEventName: name, AdditionalContext: extra}
		}
	case types.EventSessionStart:
		if extra != "" {
			out.HookSpecificOutput = &claudeSpecific{HookEventName: name, AdditionalContext: extra}
		}
	}

	if *out == (claudeResponse{}) {
		return nil
	}
	return out
}

type geminiSpecific struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext,omitempty"`
}

type geminiResponse struct {
	Decision           string          `json:"decision,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	SystemMessage      string          `json:"systemMessage,omitempty"`
	HookSpecificOutput *geminiSpecific `json:"hookSpecificOutput,omitempty"`
}

var geminiNames = map[types.HookEventType]string{
	types.EventSessionStart: "SessionStart",
	types.EventSessionEnd:   "SessionEnd",
	types.EventBeforeAgent:  "BeforeAgent",
	types.EventAfterAgent:   "AfterAgent",
	types.EventBeforeTool:   "BeforeTool",
	types.EventAfterTool:    "AfterTool",
	types.EventPreCompact:   "PreCompress",
}

func geminiOutput(ev *types.HookEvent, resp *types.HookResponse) any {
	out := &geminiResponse{SystemMessage: systemMessage(resp)}
	switch resp.Decision {
	case types.DecisionBlock:
		out.Decision = "deny"
		out.Reason = resp.Message
	case types.DecisionRequireApproval:
		out.Decision = "ask"
		out.Reason = resp.Message
	}
	if extra := strings.Join(resp.Context, "\n\n"); extra != "" {
		out.HookSpecificOutput = &geminiSpecific{HookEventName: geminiNames[ev.Type], AdditionalContext: extra}
	}
	if *out == (geminiResponse{}) {
		return nil
	}
	return out
}

// systemMessage joins user-facing messages; a warn verdict's message is
// shown to the user since the call proceeds.
func systemMessage(resp *types.HookResponse) string {
	msgs := append([]string(nil), resp.SystemMessages...)
	if resp.Decision == types.DecisionWarn && resp.Message != "" {
		msgs = append(msgs, resp.Message)
	}
	return strings.Join(msgs, "\n")
}
