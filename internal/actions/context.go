package actions

import (
	"log/slog"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/types"
)

// Output collects what an action sequence wants surfaced to the agent and
// user. Lifecycle and step code merge it into the hook response.
type Output struct {
	Context  []string
	Messages []string
	Decision types.Decision
	Reason   string
}

// AddContext appends a block of context for the agent.
func (o *Output) AddContext(text string) {
	if text != "" {
		o.Context = append(o.Context, text)
	}
}

// AddMessage appends a message for the user.
func (o *Output) AddMessage(text string) {
	if text != "" {
		o.Messages = append(o.Messages, text)
	}
}

// Escalate records a decision if it is more restrictive than the current one.
func (o *Output) Escalate(d types.Decision, reason string) {
	if o.Decision == "" || d.Severity() > o.Decision.Severity() {
		o.Decision = d
		o.Reason = reason
	}
}

// Merge folds another output into this one.
func (o *Output) Merge(other *Output) {
	if other == nil {
		return
	}
	o.Context = append(o.Context, other.Context...)
	o.Messages = append(o.Messages, other.Messages...)
	if other.Decision != "" {
		o.Escalate(other.Decision, other.Reason)
	}
}

// Context is what an action sees: the session working copy, the definition
// it runs for, and the triggering event.
type Context struct {
	SessionID  string
	State      *types.SessionWorkflowState // Working copy, persisted by the caller
	Definition *types.Definition
	StepName   string
	Event      *types.HookEvent
	Workdir    string

	// Extra takes precedence over every other name during evaluation.
	Extra map[string]any

	Logger *slog.Logger
	Output *Output

	exec *Executor
}

// Derive returns a context for another definition that shares state and
// output with this one.
func (c *Context) Derive(def *types.Definition, step string) *Context {
	cp := *c
	cp.Definition = def
	cp.StepName = step
	return &cp
}

func (c *Context) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Context) output() *Output {
	if c.Output == nil {
		c.Output = &Output{}
	}
	return c.Output
}

func (c *Context) workdir() string {
	if c.Workdir != "" {
		return c.Workdir
	}
	if c.Event != nil {
		return c.Event.Cwd
	}
	return ""
}

// EvalContext resolves names for conditions and templates. Lookup order:
// Extra, event fields, state builtins, session variables, definition
// variable defaults.
func (c *Context) EvalContext() condition.Context {
	return condition.Chain{
		condition.MapContext(c.Extra),
		condition.ContextFunc(c.eventLookup),
		condition.ContextFunc(c.stateLookup),
		condition.ContextFunc(c.variableLookup),
		condition.ContextFunc(c.definitionLookup),
	}
}

func (c *Context) eventLookup(name string) (any, bool) {
	ev := c.Event
	if ev == nil {
		return nil, false
	}
	switch name {
	case "event_type":
		return string(ev.Type), true
	case "session_id":
		return ev.SessionID, true
	case "source":
		return ev.Source, true
	case "cwd":
		return ev.Cwd, true
	case "tool_name":
		return ev.ToolName, true
	case "tool_input":
		if ev.ToolInput == nil {
			return map[string]any{}, true
		}
		return ev.ToolInput, true
	case "tool_result":
		return ev.ToolResult, true
	case "tool_error":
		return ev.ToolError, true
	case "prompt":
		return ev.Prompt, true
	case "event_data":
		return ev.Data, true
	}
	return nil, false
}

func (c *Context) stateLookup(name string) (any, bool) {
	if name == "session_id" && c.SessionID != "" {
		return c.SessionID, true
	}
	s := c.State
	if s == nil {
		return nil, false
	}
	switch name {
	case "step_action_count":
		return s.StepActionCount, true
	case "total_action_count":
		return s.TotalActionCount, true
	case "current_step":
		if s.ActiveWorkflow != nil {
			return s.ActiveWorkflow.CurrentStep, true
		}
		return "", true
	case "workflow_name":
		if s.ActiveWorkflow != nil {
			return s.ActiveWorkflow.Name, true
		}
		return "", true
	case "artifacts":
		out := make(map[string]any, len(s.Artifacts))
		for k, v := range s.Artifacts {
			out[k] = v
		}
		return out, true
	case condition.UnlockedToolsVar:
		return append([]string(nil), s.ToolsUnlocked...), true
	case "variables":
		return c.mergedVariables(), true
	case "pending_approval":
		if s.PendingApproval == nil {
			return nil, true
		}
		return map[string]any{
			"execution_id": s.PendingApproval.ExecutionID,
			"step_id":      s.PendingApproval.StepID,
			"message":      s.PendingApproval.Message,
		}, true
	}
	return nil, false
}

func (c *Context) variableLookup(name string) (any, bool) {
	if c.State == nil {
		return nil, false
	}
	return c.State.Variable(name)
}

func (c *Context) definitionLookup(name string) (any, bool) {
	if c.Definition == nil {
		return nil, false
	}
	if name == "settings" {
		return c.Definition.Settings, true
	}
	v, ok := c.Definition.Variables[name]
	return v, ok
}

func (c *Context) mergedVariables() map[string]any {
	out := make(map[string]any)
	if c.Definition != nil {
		for k, v := range c.Definition.Variables {
			out[k] = v
		}
	}
	if c.State != nil {
		for k, v := range c.State.Variables {
			out[k] = v
		}
	}
	return out
}
