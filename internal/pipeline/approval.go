package pipeline

import (
	"context"
	"fmt"
	"time"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// Approve consumes a resume token and continues the execution from the gated
// step. Unknown, consumed and expired tokens are errors; an expired token
// also fails the execution. Once the token is claimed the resumed steps
// ignore ctx's cancellation, like Run.
func (x *Executor) Approve(ctx context.Context, token string) (*types.Execution, error) {
	exec, unlock, err := x.claim(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	def, err := x.definitionFor(exec)
	if err != nil {
		x.finish(nil, exec, types.ExecutionFailed, err.Error())
		return exec, err
	}
	if exec.PendingApproval.Expired(x.now()) {
		x.expire(def, exec)
		return exec, gerrors.ApprovalExpired(token)
	}

	idx := def.PipelineStepIndex(exec.PendingApproval.StepID)
	exec.Steps[idx].Approved = true
	if err := x.transition(exec, types.ExecutionRunning); err != nil {
		return exec, err
	}
	exec.PendingApproval = nil
	x.save(exec, x.logger)
	x.logger.Info("pipeline approved", "execution", exec.ID, "step", exec.Steps[idx].ID)
	x.emit(def, "approved", exec)

	x.advance(context.WithoutCancel(ctx), def, exec, idx)
	return exec, nil
}

// Reject consumes a resume token and cancels the execution. The gated step
// and everything after it never run.
func (x *Executor) Reject(ctx context.Context, token, reason string) (*types.Execution, error) {
	exec, unlock, err := x.claim(ctx, token)
	if err != nil {
		return nil, err
	}
	defer unlock()

	def, _ := x.definitionFor(exec)
	stepID := exec.PendingApproval.StepID
	msg := "rejected at step " + stepID
	if reason != "" {
		msg += ": " + reason
	}
	x.finish(def, exec, types.ExecutionCancelled, msg)
	x.logger.Info("pipeline rejected", "execution", exec.ID, "step", stepID, "reason", reason)
	x.emit(def, "rejected", exec)
	return exec, nil
}

// claim locks the execution owning token and re-reads it, so a token raced
// by a concurrent approve or reject is reported as consumed.
func (x *Executor) claim(ctx context.Context, token string) (*types.Execution, func(), error) {
	found, err := x.store.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if found == nil {
		return nil, nil, gerrors.ApprovalNotFound(token)
	}
	unlock, err := x.store.Lock(ctx, found.ID)
	if err != nil {
		return nil, nil, err
	}
	exec, err := x.store.Get(ctx, found.ID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	if exec.Status != types.ExecutionWaitingApproval || exec.ResumeToken() != token {
		unlock()
		return nil, nil, gerrors.ApprovalNotFound(token)
	}
	return exec, unlock, nil
}

// definitionFor loads the pipeline an execution was started from and checks
// it still has the same step layout.
func (x *Executor) definitionFor(exec *types.Execution) (*types.Definition, error) {
	def, err := x.defs.GetTyped(exec.Pipeline, types.DefinitionPipeline)
	if err != nil {
		return nil, err
	}
	if len(def.PipelineSteps) != len(exec.Steps) {
		return nil, fmt.Errorf("pipeline %s changed since execution %s started", def.Name, exec.ID)
	}
	for i := range def.PipelineSteps {
		if def.PipelineSteps[i].ID != exec.Steps[i].ID {
			return nil, fmt.Errorf("pipeline %s changed since execution %s started", def.Name, exec.ID)
		}
	}
	if pa := exec.PendingApproval; pa != nil && def.PipelineStepIndex(pa.StepID) < 0 {
		return nil, gerrors.DefinitionUnknownRef(def.Name, "step", pa.StepID)
	}
	return def, nil
}

func (x *Executor) expire(def *types.Definition, exec *types.Execution) {
	stepID := exec.PendingApproval.StepID
	x.logger.Warn("approval expired", "execution", exec.ID, "step", stepID)
	x.finish(def, exec, types.ExecutionFailed, "approval for step "+stepID+" expired")
}

// Cancel stops an execution. A run in progress in this process is cancelled
// cooperatively: the current step's context is cancelled and the execution
// ends as cancelled once the step returns. A paused execution is cancelled
// directly.
func (x *Executor) Cancel(ctx context.Context, id string) (*types.Execution, error) {
	x.mu.Lock()
	fl := x.running[id]
	x.mu.Unlock()
	if fl != nil {
		fl.cancel()
		select {
		case <-fl.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return x.store.Get(ctx, id)
	}

	unlock, err := x.store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	exec, err := x.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return exec, gerrors.PipelineTerminal(id, string(exec.Status))
	}
	def, _ := x.definitionFor(exec)
	x.finish(def, exec, types.ExecutionCancelled, "cancelled")
	return exec, nil
}

// ExpireApprovals fails every execution whose pending approval expired
// before now and returns how many were expired.
func (x *Executor) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	waiting, err := x.store.List(ctx, types.ExecutionFilter{Status: types.ExecutionWaitingApproval})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, w := range waiting {
		if w.PendingApproval == nil || !w.PendingApproval.Expired(now) {
			continue
		}
		unlock, err := x.store.Lock(ctx, w.ID)
		if err != nil {
			x.logger.Warn("skipping locked execution", "execution", w.ID, "error", err)
			continue
		}
		exec, err := x.store.Get(ctx, w.ID)
		if err == nil && exec.Status == types.ExecutionWaitingApproval && exec.PendingApproval != nil && exec.PendingApproval.Expired(now) {
			def, _ := x.definitionFor(exec)
			x.expire(def, exec)
			n++
		}
		unlock()
	}
	return n, nil
}

func (x *Executor) transition(exec *types.Execution, to types.ExecutionStatus) error {
	if !exec.Status.CanTransitionTo(to) {
		return gerrors.PipelineInvalidTransition(exec.ID, string(exec.Status), string(to))
	}
	exec.Status = to
	return nil
}
