// Package engine ties the workflow components together behind one
// per-session serialized surface: hook handling, step workflow control and
// the pipeline control surface.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/lifecycle"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/state"
	"github.com/gobby-stack/gobby/internal/stepmachine"
	"github.com/gobby-stack/gobby/internal/types"
)

// Components are the collaborators an Engine drives.
type Components struct {
	States    state.Store
	Steps     *stepmachine.Controller
	Lifecycle *lifecycle.Dispatcher
	Pipelines *pipeline.Executor
	Bus       *events.Bus
}

// Options tune an Engine.
type Options struct {
	// HookTimeout bounds one hook's read-evaluate-persist cycle. Zero means
	// no bound beyond the per-action timeouts.
	HookTimeout time.Duration
	// ArchiveOnEnd archives session state at session_end instead of
	// deleting it.
	ArchiveOnEnd bool
	// WorkerIdle is how long an idle session worker lingers.
	WorkerIdle time.Duration
}

// Engine is safe for concurrent use. Work for one session runs in arrival
// order on that session's worker; sessions proceed in parallel.
type Engine struct {
	c      Components
	opts   Options
	queue  *sessionQueue
	logger *slog.Logger
}

// New creates an engine.
func New(c Components, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		c:      c,
		opts:   opts,
		queue:  newSessionQueue(opts.WorkerIdle, 0, logger),
		logger: logger,
	}
}

// Close drains queued session work.
func (e *Engine) Close() {
	e.queue.Close()
	if e.c.Pipelines != nil {
		e.c.Pipelines.Wait()
	}
}

// HandleHook processes one normalized hook event: lifecycle triggers run
// first, then the active step workflow rules on the event. before_tool
// returns the most restrictive of the two verdicts; after_tool counts the
// call and settles transitions.
func (e *Engine) HandleHook(ctx context.Context, ev *types.HookEvent) (*types.HookResponse, error) {
	if ev == nil || ev.SessionID == "" {
		return nil, fmt.Errorf("hook event needs a session id")
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("unknown hook event type %q", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if e.opts.HookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.HookTimeout)
		defer cancel()
	}

	var resp *types.HookResponse
	err := e.queue.Do(ctx, ev.SessionID, func(ctx context.Context) error {
		var err error
		resp, err = e.handle(ctx, ev)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.c.Bus.Publish(events.Event{
		Type:      events.TypeHook,
		SessionID: ev.SessionID,
		Workflow:  resp.Workflow,
		Data: map[string]any{
			"event":    string(ev.Type),
			"tool":     ev.ToolName,
			"decision": string(resp.Decision),
			"message":  resp.Message,
			"step":     resp.Step,
		},
	})
	return resp, nil
}

func (e *Engine) handle(ctx context.Context, ev *types.HookEvent) (*types.HookResponse, error) {
	var resp *types.HookResponse
	_, err := e.withState(ctx, ev.SessionID, func(actx *actions.Context) error {
		actx.Event = ev
		actx.Workdir = ev.Cwd
		if actx.State.Source == "" {
			actx.State.Source = ev.Source
		}

		rep := e.c.Lifecycle.Dispatch(ctx, actx, ev.Type)
		for _, f := range rep.Failed {
			actx.Logger.Warn("lifecycle workflow failed", "workflow", f.Workflow, "event", ev.Type, "error", f.Err)
		}

		verdict := stepmachine.Verdict{Decision: types.DecisionAllow}
		switch ev.Type {
		case types.EventBeforeTool:
			verdict = e.c.Steps.EvaluateToolCall(actx, ev.ToolName)
		case types.EventAfterTool:
			if err := e.c.Steps.RecordToolCall(ctx, actx); err != nil {
				actx.Logger.Warn("step transition failed", "error", err)
			}
		default:
			if _, err := e.c.Steps.Settle(ctx, actx); err != nil {
				actx.Logger.Warn("step transition failed", "error", err)
			}
		}
		resp = buildResponse(actx, verdict)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ev.Type == types.EventSessionEnd {
		e.retire(ctx, ev.SessionID)
	}
	return resp, nil
}

func (e *Engine) retire(ctx context.Context, sessionID string) {
	var err error
	if e.opts.ArchiveOnEnd {
		err = e.c.States.Archive(ctx, sessionID)
	} else {
		err = e.c.States.Delete(ctx, sessionID)
	}
	if err != nil {
		e.logger.Warn("retiring session state failed", "session", sessionID, "error", err)
	}
}

// buildResponse merges lifecycle output with the step verdict. The more
// restrictive decision wins; on a tie the step verdict's message is used.
func buildResponse(actx *actions.Context, v stepmachine.Verdict) *types.HookResponse {
	out := actx.Output
	resp := &types.HookResponse{
		Decision:       v.Decision,
		Message:        v.Message,
		Context:        out.Context,
		SystemMessages: out.Messages,
	}
	if out.Decision != "" && out.Decision.Severity() > v.Decision.Severity() {
		resp.Decision = out.Decision
		resp.Message = out.Reason
	}
	if resp.Decision == "" {
		resp.Decision = types.DecisionAllow
	}
	if resp.Decision != types.DecisionAllow && resp.Message == "" {
		resp.Message = fmt.Sprintf("%s: %s by workflow policy", actx.Event.ToolName, resp.Decision)
	}
	if aw := actx.State.ActiveWorkflow; aw != nil {
		resp.Workflow = aw.Name
		resp.Step = aw.CurrentStep
	}
	return resp
}

// withState runs fn against the session's state under the cross-process
// session lock and persists the result. A non-nil error from fn discards
// the changes.
func (e *Engine) withState(ctx context.Context, sessionID string, fn func(*actions.Context) error) (*types.SessionWorkflowState, error) {
	unlock, err := e.c.States.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := e.c.States.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = types.NewSessionState(sessionID)
	}
	before := st.ActiveWorkflow.Clone()

	actx := &actions.Context{
		SessionID: sessionID,
		State:     st,
		Logger:    logging.WithSession(e.logger, sessionID),
		Output:    &actions.Output{},
	}
	if err := fn(actx); err != nil {
		return nil, err
	}

	st.UpdatedAt = time.Now()
	if err := e.c.States.Save(context.WithoutCancel(ctx), st); err != nil {
		return nil, err
	}
	e.publishSlotChange(sessionID, before, st.ActiveWorkflow)
	return st.Clone(), nil
}

func (e *Engine) publishSlotChange(sessionID string, before, after *types.ActiveWorkflow) {
	ev := events.Event{SessionID: sessionID}
	switch {
	case before == nil && after == nil:
		return
	case before == nil || (after != nil && before.Name != after.Name):
		ev.Type = events.TypeWorkflowActivate
		ev.Workflow = after.Name
		ev.Data = map[string]any{"type": string(after.Type), "step": after.CurrentStep}
	case after == nil:
		ev.Type = events.TypeWorkflowEnd
		ev.Workflow = before.Name
	case before.CurrentStep != after.CurrentStep:
		ev.Type = events.TypeStepTransition
		ev.Workflow = after.Name
		ev.Data = map[string]any{"from": before.CurrentStep, "to": after.CurrentStep}
	default:
		return
	}
	e.c.Bus.Publish(ev)
}
