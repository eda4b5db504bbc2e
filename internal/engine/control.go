package engine

import (
	"context"

	"github.com/gobby-stack/gobby/internal/actions"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// SessionState returns a snapshot of the session's state, or a fresh empty
// state when the session has none. It is ordered after queued work.
func (e *Engine) SessionState(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error) {
	var out *types.SessionWorkflowState
	err := e.queue.Do(ctx, sessionID, func(ctx context.Context) error {
		st, err := e.c.States.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if st == nil {
			st = types.NewSessionState(sessionID)
		}
		out = st
		return nil
	})
	return out, err
}

// mutate runs fn on the session worker with state loaded and persists it.
func (e *Engine) mutate(ctx context.Context, sessionID string, fn func(context.Context, *actions.Context) error) (*types.SessionWorkflowState, error) {
	var out *types.SessionWorkflowState
	err := e.queue.Do(ctx, sessionID, func(ctx context.Context) error {
		st, err := e.withState(ctx, sessionID, func(actx *actions.Context) error {
			return fn(ctx, actx)
		})
		out = st
		return err
	})
	return out, err
}

// ActivateWorkflow starts a step workflow for the session. The session's
// single step-or-pipeline slot must be free.
func (e *Engine) ActivateWorkflow(ctx context.Context, sessionID, name, step string, vars map[string]any) (*types.SessionWorkflowState, error) {
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		return e.c.Steps.Activate(ctx, actx, name, step, vars)
	})
}

// EndWorkflow ends the active workflow. A step workflow runs its on_exit
// actions; a pipeline in the slot is cancelled.
func (e *Engine) EndWorkflow(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error) {
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		if aw := actx.State.ActiveWorkflow; aw != nil && aw.Type == types.DefinitionPipeline {
			e.cancelSlotPipeline(ctx, actx)
			actx.State.ClearActive()
			return nil
		}
		return e.c.Steps.End(ctx, actx)
	})
}

// Transition moves the active step workflow to another step. Exit
// conditions are enforced unless force is set.
func (e *Engine) Transition(ctx context.Context, sessionID, to string, force bool) (*types.SessionWorkflowState, error) {
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		return e.c.Steps.Transition(ctx, actx, to, force)
	})
}

// ApproveStep records user approval for the current step.
func (e *Engine) ApproveStep(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error) {
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		return e.c.Steps.ApproveStep(ctx, actx)
	})
}

// SetVariable sets a session variable and settles transitions it unblocks.
func (e *Engine) SetVariable(ctx context.Context, sessionID, name string, value any) (*types.SessionWorkflowState, error) {
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		actx.State.SetVariable(name, value)
		_, err := e.c.Steps.Settle(ctx, actx)
		return err
	})
}

// ForceClear abandons whatever occupies the session's slot: the in-flight
// job for the session is cancelled, a pipeline in the slot is cancelled,
// and the slot is emptied without running on_exit.
func (e *Engine) ForceClear(ctx context.Context, sessionID string) (*types.SessionWorkflowState, error) {
	e.queue.CancelCurrent(sessionID)
	return e.mutate(ctx, sessionID, func(ctx context.Context, actx *actions.Context) error {
		if aw := actx.State.ActiveWorkflow; aw != nil {
			actx.Logger.Warn("force clearing workflow", "workflow", aw.Name, "step", aw.CurrentStep)
		}
		e.cancelSlotPipeline(ctx, actx)
		actx.State.ClearActive()
		return nil
	})
}

// cancelSlotPipeline cancels the execution occupying the slot, if any. The
// executor's observer only queues work, so this is safe on a session job.
func (e *Engine) cancelSlotPipeline(ctx context.Context, actx *actions.Context) {
	aw := actx.State.ActiveWorkflow
	if aw == nil || aw.ExecutionID == "" {
		return
	}
	_, err := e.c.Pipelines.Cancel(ctx, aw.ExecutionID)
	if err != nil && !gerrors.HasCode(err, gerrors.CodePipelineTerminal) && !gerrors.HasCode(err, gerrors.CodePipelineNotFound) {
		actx.Logger.Warn("cancelling pipeline failed", "execution", aw.ExecutionID, "error", err)
	}
}
