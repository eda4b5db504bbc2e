// Package stepmachine drives step workflows: tool-call verdicts, exit
// conditions, transitions and step entry and exit actions.
package stepmachine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/condition"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// DefaultMaxChain bounds how many transitions one Settle may take.
const DefaultMaxChain = 10

// Definitions resolves step workflow definitions.
type Definitions interface {
	// GetTyped returns a definition and checks its type.
	GetTyped(name string, want types.DefinitionType) (*types.Definition, error)
}

// Verdict is the decision for one tool call.
type Verdict struct {
	Decision types.Decision `json:"decision"`
	Message  string         `json:"message,omitempty"`
	Rule     string         `json:"rule,omitempty"` // Rule that decided, if any
}

// Controller runs the step machine against a session's working state. It
// holds no per-session data; callers serialize access per session and
// persist the state afterwards.
type Controller struct {
	defs     Definitions
	exec     *actions.Executor
	eval     *condition.Evaluator
	logger   *slog.Logger
	maxChain int
	now      func() time.Time
}

// New creates a controller.
func New(defs Definitions, exec *actions.Executor, maxChain int, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChain <= 0 {
		maxChain = DefaultMaxChain
	}
	return &Controller{
		defs:     defs,
		exec:     exec,
		eval:     exec.Evaluator(),
		logger:   logger,
		maxChain: maxChain,
		now:      time.Now,
	}
}

// active returns the session's step workflow definition and current step.
func (c *Controller) active(actx *actions.Context) (*types.Definition, *types.Step, error) {
	st := actx.State
	if st == nil || st.ActiveWorkflow == nil || st.ActiveWorkflow.Type != types.DefinitionStep {
		return nil, nil, gerrors.StepNoActive(actx.SessionID)
	}
	def, err := c.defs.GetTyped(st.ActiveWorkflow.Name, types.DefinitionStep)
	if err != nil {
		return nil, nil, err
	}
	step, ok := def.Step(st.ActiveWorkflow.CurrentStep)
	if !ok {
		return def, nil, gerrors.StepNotFound(def.Name, st.ActiveWorkflow.CurrentStep)
	}
	return def, step, nil
}

// Activate puts a step workflow in the session's slot and enters its initial
// step (or step, when given). Fails if another step or pipeline workflow is
// active. If on_enter fails nothing is committed.
func (c *Controller) Activate(ctx context.Context, actx *actions.Context, name, step string, vars map[string]any) error {
	def, err := c.defs.GetTyped(name, types.DefinitionStep)
	if err != nil {
		return err
	}
	if actx.State == nil {
		actx.State = types.NewSessionState(actx.SessionID)
	}
	if aw := actx.State.ActiveWorkflow; aw != nil && aw.Type.OccupiesSlot() {
		return gerrors.StepSlotOccupied(actx.SessionID, aw.Name)
	}
	if step == "" {
		step = def.InitialStep()
	}
	if _, ok := def.Step(step); !ok {
		return gerrors.StepNotFound(def.Name, step)
	}

	return c.commit(actx, func() error {
		for k, v := range vars {
			actx.State.SetVariable(k, v)
		}
		actx.State.ActiveWorkflow = &types.ActiveWorkflow{
			Name:        def.Name,
			Type:        types.DefinitionStep,
			ActivatedAt: c.now(),
		}
		if err := c.enter(ctx, actx, def, step); err != nil {
			return gerrors.StepEnterFailed(step, err)
		}
		c.logger.Info("step workflow activated", "session", actx.SessionID, "workflow", def.Name, "step", step)
		return nil
	})
}

// enter makes step current and runs its on_enter list.
func (c *Controller) enter(ctx context.Context, actx *actions.Context, def *types.Definition, name string) error {
	step, ok := def.Step(name)
	if !ok {
		return gerrors.StepNotFound(def.Name, name)
	}
	aw := actx.State.ActiveWorkflow
	aw.CurrentStep = name
	aw.StepEnteredAt = c.now()
	actx.State.StepActionCount = 0
	// An approval covers one visit to the step.
	actx.State.UnsetVariable(types.ApprovalVariableFor(name))
	for i := range step.ExitConditions {
		if cond := &step.ExitConditions[i]; cond.Type == types.ExitUserApproval {
			actx.State.UnsetVariable(cond.ApprovalVariable(name))
		}
	}
	return c.exec.RunSequence(ctx, step.OnEnter, actx.Derive(def, name))
}

// commit runs fn against the working state and restores the snapshot taken
// beforehand if fn fails, including any output it produced.
func (c *Controller) commit(actx *actions.Context, fn func() error) error {
	snapshot := actx.State.Clone()
	var nContext, nMessages int
	var decision types.Decision
	var reason string
	if actx.Output != nil {
		nContext, nMessages = len(actx.Output.Context), len(actx.Output.Messages)
		decision, reason = actx.Output.Decision, actx.Output.Reason
	}
	if err := fn(); err != nil {
		*actx.State = *snapshot
		if actx.Output != nil {
			actx.Output.Context = actx.Output.Context[:nContext]
			actx.Output.Messages = actx.Output.Messages[:nMessages]
			actx.Output.Decision, actx.Output.Reason = decision, reason
		}
		return err
	}
	return nil
}

// EvaluateToolCall decides whether the current step permits a tool. Order:
// blocked_tools (absolute), then the first matching rule, then
// allowed_tools. With no active step workflow every tool is allowed.
func (c *Controller) EvaluateToolCall(actx *actions.Context, tool string) Verdict {
	def, step, err := c.active(actx)
	if err != nil {
		if !gerrors.HasCode(err, gerrors.CodeStepNoActive) {
			c.logger.Warn("active workflow unavailable, allowing tool", "session", actx.SessionID, "tool", tool, "error", err)
		}
		return Verdict{Decision: types.DecisionAllow}
	}

	if step.IsBlocked(tool) {
		return Verdict{
			Decision: types.DecisionBlock,
			Message:  fmt.Sprintf("%s is blocked in step %s of %s", tool, step.Name, def.Name),
		}
	}

	ectx := actx.Derive(def, step.Name).EvalContext()
	for i := range step.Rules {
		rule := &step.Rules[i]
		if !rule.AppliesTo(tool) || !c.eval.Check(rule.When, ectx) {
			continue
		}
		msg := rule.Message
		if msg == "" && rule.Action != types.DecisionAllow {
			msg = fmt.Sprintf("%s: rule %s matched in step %s", tool, ruleName(rule, i), step.Name)
		}
		return Verdict{Decision: rule.Action, Message: msg, Rule: ruleName(rule, i)}
	}

	if !step.AllowedTools.Allows(tool) {
		return Verdict{
			Decision: types.DecisionBlock,
			Message:  fmt.Sprintf("%s is not allowed in step %s of %s", tool, step.Name, def.Name),
		}
	}
	return Verdict{Decision: types.DecisionAllow}
}

func ruleName(r *types.Rule, i int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("#%d", i)
}

// RecordToolCall counts a completed tool call and settles transitions.
func (c *Controller) RecordToolCall(ctx context.Context, actx *actions.Context) error {
	actx.State.TotalActionCount++
	if aw := actx.State.ActiveWorkflow; aw == nil || aw.Type != types.DefinitionStep {
		return nil
	}
	actx.State.StepActionCount++
	_, err := c.Settle(ctx, actx)
	return err
}

// Settle takes transitions while the current step's exit conditions hold
// and a transition matches, up to the chain limit. Returns the number of
// transitions taken.
func (c *Controller) Settle(ctx context.Context, actx *actions.Context) (int, error) {
	moved := 0
	for moved < c.maxChain {
		def, step, err := c.active(actx)
		if err != nil {
			if gerrors.HasCode(err, gerrors.CodeStepNoActive) {
				return moved, nil
			}
			return moved, err
		}
		if unmet := c.unmet(actx, def, step); len(unmet) > 0 {
			return moved, nil
		}
		target := c.matchTransition(actx, def, step)
		if target == "" {
			return moved, nil
		}
		if err := c.move(ctx, actx, def, step, target); err != nil {
			return moved, err
		}
		moved++
	}
	c.logger.Warn("transition chain limit reached", "session", actx.SessionID, "limit", c.maxChain)
	return moved, nil
}

func (c *Controller) matchTransition(actx *actions.Context, def *types.Definition, step *types.Step) string {
	ectx := actx.Derive(def, step.Name).EvalContext()
	for _, t := range step.Transitions {
		if c.eval.Check(t.When, ectx) {
			return t.To
		}
	}
	return ""
}

// Transition moves to another step. Exit conditions must hold unless force
// is set. On failure the session stays in the current step.
func (c *Controller) Transition(ctx context.Context, actx *actions.Context, to string, force bool) error {
	def, step, err := c.active(actx)
	if err != nil {
		return err
	}
	if _, ok := def.Step(to); !ok {
		return gerrors.StepNotFound(def.Name, to)
	}
	if !force {
		if unmet := c.unmet(actx, def, step); len(unmet) > 0 {
			return gerrors.StepExitBlocked(step.Name, unmet)
		}
	}
	return c.move(ctx, actx, def, step, to)
}

// move runs on_exit of from and on_enter of to as one unit.
func (c *Controller) move(ctx context.Context, actx *actions.Context, def *types.Definition, from *types.Step, to string) error {
	return c.commit(actx, func() error {
		if err := c.exec.RunSequence(ctx, from.OnExit, actx.Derive(def, from.Name)); err != nil {
			return gerrors.StepEnterFailed(from.Name, err)
		}
		if err := c.enter(ctx, actx, def, to); err != nil {
			return gerrors.StepEnterFailed(to, err)
		}
		c.logger.Info("step transition", "session", actx.SessionID, "workflow", def.Name, "from", from.Name, "to", to)
		return nil
	})
}

// ApproveStep records user approval of the current step and settles.
func (c *Controller) ApproveStep(ctx context.Context, actx *actions.Context) error {
	_, step, err := c.active(actx)
	if err != nil {
		return err
	}
	approved := false
	for i := range step.ExitConditions {
		cond := &step.ExitConditions[i]
		if cond.Type == types.ExitUserApproval {
			actx.State.SetVariable(cond.ApprovalVariable(step.Name), true)
			approved = true
		}
	}
	if !approved {
		actx.State.SetVariable(types.ApprovalVariableFor(step.Name), true)
	}
	_, err = c.Settle(ctx, actx)
	return err
}

// End runs on_exit of the current step and clears the slot. An on_exit
// failure, or a definition that no longer loads, is logged; the workflow
// ends regardless.
func (c *Controller) End(ctx context.Context, actx *actions.Context) error {
	st := actx.State
	if st == nil || st.ActiveWorkflow == nil || st.ActiveWorkflow.Type != types.DefinitionStep {
		return gerrors.StepNoActive(actx.SessionID)
	}
	name := st.ActiveWorkflow.Name
	def, step, err := c.active(actx)
	switch {
	case err != nil:
		c.logger.Warn("ending workflow without on_exit", "session", actx.SessionID, "workflow", name, "error", err)
	default:
		if err := c.exec.RunSequence(ctx, step.OnExit, actx.Derive(def, step.Name)); err != nil {
			c.logger.Warn("on_exit failed while ending workflow", "session", actx.SessionID, "workflow", name, "error", err)
		}
	}
	st.ClearActive()
	c.logger.Info("step workflow ended", "session", actx.SessionID, "workflow", name)
	return nil
}

// ActivateWorkflow implements actions.WorkflowControl.
func (c *Controller) ActivateWorkflow(ctx context.Context, actx *actions.Context, name, step string, vars map[string]any) error {
	return c.Activate(ctx, actx, name, step, vars)
}

// EndWorkflow implements actions.WorkflowControl.
func (c *Controller) EndWorkflow(ctx context.Context, actx *actions.Context) error {
	return c.End(ctx, actx)
}
