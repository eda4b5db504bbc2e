package actions

import (
	"context"
	"time"

	"github.com/gobby-stack/gobby/internal/agent"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/llm"
	"github.com/gobby-stack/gobby/internal/mcpclient"
	"github.com/gobby-stack/gobby/internal/state"
	"github.com/gobby-stack/gobby/internal/tasks"
	"github.com/gobby-stack/gobby/internal/webhook"
)

// ContextSource supplies the non-template inject_context sources.
type ContextSource interface {
	PreviousSessionSummary(ctx context.Context, sessionID string) (string, error)
	Memories(ctx context.Context, query string, limit int) ([]string, error)
	Skills(ctx context.Context, tag string) (string, error)
}

// WorkflowControl lets actions start and end the session's step workflow.
// The step-machine controller implements it.
type WorkflowControl interface {
	ActivateWorkflow(ctx context.Context, actx *Context, name, step string, vars map[string]any) error
	EndWorkflow(ctx context.Context, actx *Context) error
}

// Deps are the collaborators built-in actions call. Nil fields disable the
// actions that need them; those actions then fail with a clear error.
type Deps struct {
	States   state.Store
	Tasks    tasks.Store
	Context  ContextSource
	LLM      llm.Provider
	MCP      mcpclient.Caller
	Webhooks *webhook.Client
	Shell    *executor.ShellExecutor
	Spawner  agent.Spawner
	Control  WorkflowControl

	// ShellTimeout bounds run_command and plugin command actions.
	ShellTimeout time.Duration
}
