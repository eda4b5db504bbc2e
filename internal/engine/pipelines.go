package engine

import (
	"context"
	"time"

	"github.com/gobby-stack/gobby/internal/actions"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/types"
)

// RunPipeline starts a pipeline execution. When the run is bound to a
// session it claims that session's workflow slot first, so a session never
// has a step workflow and a pipeline active together.
func (e *Engine) RunPipeline(ctx context.Context, req pipeline.RunRequest) (*types.Execution, error) {
	if req.SessionID != "" {
		_, err := e.mutate(ctx, req.SessionID, func(ctx context.Context, actx *actions.Context) error {
			if aw := actx.State.ActiveWorkflow; aw != nil && aw.Type.OccupiesSlot() {
				return gerrors.StepSlotOccupied(req.SessionID, aw.Name)
			}
			actx.State.ActiveWorkflow = &types.ActiveWorkflow{
				Name:        req.Pipeline,
				Type:        types.DefinitionPipeline,
				ActivatedAt: time.Now(),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	exec, err := e.c.Pipelines.Run(ctx, req)
	if err != nil && req.SessionID != "" {
		e.releaseClaim(req.SessionID, req.Pipeline)
	}
	return exec, err
}

// releaseClaim frees a slot claimed for a run that never started.
func (e *Engine) releaseClaim(sessionID, pipelineName string) {
	err := e.queue.Submit(sessionID, func(ctx context.Context) error {
		_, err := e.withState(ctx, sessionID, func(actx *actions.Context) error {
			aw := actx.State.ActiveWorkflow
			if aw != nil && aw.Type == types.DefinitionPipeline && aw.Name == pipelineName && aw.ExecutionID == "" {
				actx.State.ClearActive()
			}
			return nil
		})
		return err
	})
	if err != nil {
		e.logger.Warn("releasing pipeline claim failed", "session", sessionID, "error", err)
	}
}

// ApprovePipeline resumes an execution paused at an approval gate.
func (e *Engine) ApprovePipeline(ctx context.Context, token string) (*types.Execution, error) {
	return e.c.Pipelines.Approve(ctx, token)
}

// RejectPipeline cancels an execution paused at an approval gate.
func (e *Engine) RejectPipeline(ctx context.Context, token, reason string) (*types.Execution, error) {
	return e.c.Pipelines.Reject(ctx, token, reason)
}

// PipelineStatus returns the full step-by-step record of an execution.
func (e *Engine) PipelineStatus(ctx context.Context, executionID string) (*types.Execution, error) {
	return e.c.Pipelines.Status(ctx, executionID)
}

// ListPipelines lists executions, newest first.
func (e *Engine) ListPipelines(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error) {
	return e.c.Pipelines.List(ctx, f)
}

// CancelPipeline cancels a running or paused execution.
func (e *Engine) CancelPipeline(ctx context.Context, executionID string) (*types.Execution, error) {
	return e.c.Pipelines.Cancel(ctx, executionID)
}

// ExpireApprovals fails executions whose approval gates have expired.
func (e *Engine) ExpireApprovals(ctx context.Context) (int, error) {
	return e.c.Pipelines.ExpireApprovals(ctx, time.Now())
}

// ObservePipeline mirrors top-level executions bound to a session into that
// session's slot and publishes the milestone. It is the pipeline executor's
// observer; it only queues session work, never waits for it.
func (e *Engine) ObservePipeline(event string, exec *types.Execution) {
	e.c.Bus.Publish(events.Event{
		Type:        events.TypePipelinePrefix + event,
		SessionID:   exec.SessionID,
		Workflow:    exec.Pipeline,
		ExecutionID: exec.ID,
		Data: map[string]any{
			"status":       string(exec.Status),
			"error":        exec.Error,
			"resume_token": exec.ResumeToken(),
		},
	})
	if exec.SessionID == "" || exec.Depth > 0 {
		return
	}

	err := e.queue.Submit(exec.SessionID, func(ctx context.Context) error {
		_, err := e.withState(ctx, exec.SessionID, func(actx *actions.Context) error {
			syncSlot(actx.State, exec)
			return nil
		})
		if err != nil {
			e.logger.Warn("syncing pipeline into session failed", "session", exec.SessionID, "execution", exec.ID, "error", err)
		}
		return err
	})
	if err != nil {
		e.logger.Warn("queueing pipeline sync failed", "session", exec.SessionID, "error", err)
	}
}

func syncSlot(st *types.SessionWorkflowState, exec *types.Execution) {
	aw := st.ActiveWorkflow
	if aw != nil && aw.Type == types.DefinitionPipeline && aw.Name == exec.Pipeline && aw.ExecutionID == "" {
		aw.ExecutionID = exec.ID
	}
	if aw == nil || aw.ExecutionID != exec.ID {
		return
	}

	switch {
	case exec.Status.IsTerminal():
		st.ClearActive()
	case exec.Status == types.ExecutionWaitingApproval && exec.PendingApproval != nil:
		pa := *exec.PendingApproval
		st.PendingApproval = &pa
		aw.CurrentStep = pa.StepID
	default:
		st.PendingApproval = nil
		aw.CurrentStep = currentPipelineStep(exec)
	}
}

func currentPipelineStep(exec *types.Execution) string {
	for _, s := range exec.Steps {
		if !s.Status.IsTerminal() {
			return s.ID
		}
	}
	return ""
}
