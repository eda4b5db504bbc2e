// Package pipeline runs pipeline definitions: strictly sequential exec,
// prompt and invoke_pipeline steps with persisted human approval gates.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobby-stack/gobby/internal/condition"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/llm"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/state"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/webhook"
)

// DefaultMaxDepth bounds invoke_pipeline nesting.
const DefaultMaxDepth = 5

// Definitions resolves pipeline definitions.
type Definitions interface {
	GetTyped(name string, want types.DefinitionType) (*types.Definition, error)
}

// Observer is told about execution milestones: started,
// approval_required, approved, rejected, completed, failed, cancelled.
type Observer func(event string, exec *types.Execution)

// Options tune an Executor.
type Options struct {
	MaxDepth        int
	ApprovalTimeout time.Duration // Default for gates without timeout_seconds; zero never expires
	Observer        Observer
}

// RunRequest starts an execution.
type RunRequest struct {
	Pipeline  string         `json:"pipeline"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Workdir   string         `json:"workdir,omitempty"`
}

// Executor runs pipelines. It is safe for concurrent use; each execution is
// serialized by its store lock.
type Executor struct {
	defs   Definitions
	store  state.ExecutionStore
	shell  *executor.ShellExecutor
	llm    llm.Provider
	hooks  *webhook.Client
	eval   *condition.Evaluator
	logger *slog.Logger
	opts   Options
	now    func() time.Time

	mu      sync.Mutex
	running map[string]*inflight
	notify  sync.WaitGroup
}

type inflight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a pipeline executor. hooks and provider may be nil; prompt
// steps then fail and webhooks are skipped.
func New(defs Definitions, store state.ExecutionStore, shell *executor.ShellExecutor, provider llm.Provider,
	hooks *webhook.Client, eval *condition.Evaluator, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Executor{
		defs:    defs,
		store:   store,
		shell:   shell,
		llm:     provider,
		hooks:   hooks,
		eval:    eval,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		running: make(map[string]*inflight),
	}
}

// Run starts a pipeline and drives it until it completes, fails, or pauses
// at an approval gate. A failed step is reported through the execution's
// status, not the error; errors mean the execution could not be run.
//
// Steps run detached from ctx's cancellation: a caller going away does not
// stop the execution, only Cancel does.
func (x *Executor) Run(ctx context.Context, req RunRequest) (*types.Execution, error) {
	return x.run(context.WithoutCancel(ctx), req, 0, "")
}

func (x *Executor) run(ctx context.Context, req RunRequest, depth int, parentID string) (*types.Execution, error) {
	if depth > x.opts.MaxDepth {
		return nil, gerrors.PipelineDepth(req.Pipeline, depth)
	}
	def, err := x.defs.GetTyped(req.Pipeline, types.DefinitionPipeline)
	if err != nil {
		return nil, err
	}

	now := x.now()
	exec := &types.Execution{
		ID:        uuid.NewString(),
		Pipeline:  def.Name,
		SessionID: req.SessionID,
		Status:    types.ExecutionRunning,
		Workdir:   req.Workdir,
		Inputs:    mergeInputs(def.Inputs, req.Inputs),
		ParentID:  parentID,
		Depth:     depth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if exec.Workdir == "" {
		exec.Workdir = def.Workdir
	}
	for i := range def.PipelineSteps {
		s := &def.PipelineSteps[i]
		exec.Steps = append(exec.Steps, &types.StepExecution{ID: s.ID, Kind: s.Kind(), Status: types.StepPending})
	}

	unlock, err := x.store.Lock(ctx, exec.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := x.store.Save(ctx, exec); err != nil {
		return nil, err
	}
	x.logger.Info("pipeline started", "execution", exec.ID, "pipeline", def.Name, "depth", depth)
	x.emit(def, "started", exec)

	x.advance(ctx, def, exec, 0)
	return exec, nil
}

// advance runs steps from index from until the execution finishes or pauses.
// Every state change is persisted before the next step starts.
func (x *Executor) advance(ctx context.Context, def *types.Definition, exec *types.Execution, from int) {
	runCtx, cancel := context.WithCancel(ctx)
	fl := &inflight{cancel: cancel, done: make(chan struct{})}
	x.mu.Lock()
	x.running[exec.ID] = fl
	x.mu.Unlock()
	defer func() {
		x.mu.Lock()
		delete(x.running, exec.ID)
		x.mu.Unlock()
		cancel()
		close(fl.done)
	}()

	log := logging.WithExecution(x.logger, exec.ID, exec.Pipeline)

	for i := from; i < len(def.PipelineSteps); i++ {
		step := &def.PipelineSteps[i]
		se := exec.Steps[i]
		if se.Status.IsTerminal() {
			continue
		}
		if err := runCtx.Err(); err != nil {
			x.finish(def, exec, types.ExecutionCancelled, "cancelled before step "+step.ID)
			return
		}

		if step.Condition != "" && !x.eval.Check(step.Condition, x.evalContext(exec)) {
			se.Status = types.StepSkipped
			x.save(exec, log)
			log.Debug("step skipped", "step", step.ID)
			continue
		}

		if step.NeedsApproval() && !se.Approved {
			if exec.Depth > 0 {
				x.failStep(def, exec, se, fmt.Errorf("approval gate on step %s cannot pause an invoked pipeline", step.ID))
				return
			}
			x.pause(def, exec, step)
			return
		}

		started := x.now()
		se.Status = types.StepRunning
		se.StartedAt = &started
		se.Input = x.resolveInput(exec, step, i)
		x.save(exec, log)

		if err := x.runStep(runCtx, def, exec, step, se); err != nil {
			if runCtx.Err() != nil {
				se.Status = types.StepFailed
				se.Error = "cancelled"
				x.finish(def, exec, types.ExecutionCancelled, "cancelled during step "+step.ID)
				return
			}
			x.failStep(def, exec, se, err)
			return
		}
		done := x.now()
		se.Status = types.StepCompleted
		se.CompletedAt = &done
		x.save(exec, log)
		log.Info("step completed", "step", step.ID)
	}

	exec.Outputs = x.renderOutputs(def, exec)
	x.finish(def, exec, types.ExecutionCompleted, "")
}

func (x *Executor) failStep(def *types.Definition, exec *types.Execution, se *types.StepExecution, err error) {
	done := x.now()
	se.Status = types.StepFailed
	se.Error = err.Error()
	se.CompletedAt = &done
	x.finish(def, exec, types.ExecutionFailed, gerrors.PipelineStepFailed(exec.ID, se.ID, err).Error())
}

// pause persists a pending approval and leaves the execution waiting.
func (x *Executor) pause(def *types.Definition, exec *types.Execution, step *types.PipelineStep) {
	now := x.now()
	pa := &types.PendingApproval{
		ExecutionID: exec.ID,
		StepID:      step.ID,
		ResumeToken: newToken(),
		Message:     x.eval.RenderRefs(step.Approval.Message, x.evalContext(exec)),
		RequestedAt: now,
	}
	timeout := x.opts.ApprovalTimeout
	if step.Approval.TimeoutSeconds > 0 {
		timeout = time.Duration(step.Approval.TimeoutSeconds) * time.Second
	}
	if timeout > 0 {
		exp := now.Add(timeout)
		pa.ExpiresAt = &exp
	}
	if pa.Message == "" {
		pa.Message = fmt.Sprintf("Approve step %s of %s", step.ID, exec.Pipeline)
	}
	if err := x.transition(exec, types.ExecutionWaitingApproval); err != nil {
		x.logger.Error("pausing execution failed", "error", err)
		return
	}
	exec.PendingApproval = pa
	x.save(exec, x.logger)
	x.logger.Info("pipeline waiting for approval", "execution", exec.ID, "step", step.ID)
	x.emit(def, "approval_required", exec)
}

// finish moves the execution to a terminal status and persists it.
func (x *Executor) finish(def *types.Definition, exec *types.Execution, status types.ExecutionStatus, msg string) {
	if err := x.transition(exec, status); err != nil {
		x.logger.Error("finishing execution failed", "error", err)
		return
	}
	now := x.now()
	exec.Error = msg
	exec.PendingApproval = nil
	exec.CompletedAt = &now
	x.save(exec, x.logger)
	x.logger.Info("pipeline finished", "execution", exec.ID, "status", status, "error", msg)
	x.emit(def, string(status), exec)
}

// save persists with a context detached from cancellation so a cancelled
// run still records its final status.
func (x *Executor) save(exec *types.Execution, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.store.Save(ctx, exec); err != nil {
		log.Error("saving execution failed", "execution", exec.ID, "error", err)
	}
}

// Status returns the execution with per-step status.
func (x *Executor) Status(ctx context.Context, id string) (*types.Execution, error) {
	return x.store.Get(ctx, id)
}

// List returns executions matching f, newest first.
func (x *Executor) List(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error) {
	return x.store.List(ctx, f)
}

func mergeInputs(defaults, given map[string]any) map[string]any {
	out := types.CloneMap(defaults)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range given {
		out[k] = v
	}
	return out
}

func newToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
