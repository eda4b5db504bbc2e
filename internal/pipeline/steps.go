package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/llm"
	"github.com/gobby-stack/gobby/internal/types"
)

// runStep executes one step and records its output on se.
func (x *Executor) runStep(ctx context.Context, def *types.Definition, exec *types.Execution, step *types.PipelineStep, se *types.StepExecution) error {
	if step.TimeoutSeconds > 0 && step.Kind() != types.StepKindExec {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	switch step.Kind() {
	case types.StepKindExec:
		return x.runExec(ctx, exec, step, se)
	case types.StepKindPrompt:
		return x.runPrompt(ctx, exec, step, se)
	case types.StepKindInvoke:
		return x.runInvoke(ctx, exec, step, se)
	}
	return fmt.Errorf("step %s has no runnable kind", step.ID)
}

func (x *Executor) runExec(ctx context.Context, exec *types.Execution, step *types.PipelineStep, se *types.StepExecution) error {
	if x.shell == nil {
		return fmt.Errorf("no shell executor configured")
	}
	ectx := x.evalContext(exec)

	env := map[string]string{
		"GOBBY_EXECUTION_ID": exec.ID,
		"GOBBY_PIPELINE":     exec.Pipeline,
		"GOBBY_STEP_ID":      step.ID,
		"GOBBY_INPUT":        se.Input,
	}
	// Env values are passed to the process as-is, never parsed by the shell.
	for k, v := range step.Env {
		env[k] = x.eval.RenderRefs(v, ectx)
	}
	script, refs := x.eval.RenderShell(step.Exec, ectx)
	for k, v := range refs {
		env[k] = v
	}

	res, err := x.shell.Run(ctx, executor.Command{
		Script:  script,
		Workdir: stepWorkdir(exec.Workdir, x.eval.RenderRefs(step.Workdir, ectx)),
		Env:     env,
		Stdin:   se.Input,
		Timeout: time.Duration(step.TimeoutSeconds) * time.Second,
	})
	if res != nil {
		code := res.ExitCode
		se.ExitCode = &code
		se.Output = res.Output()
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit code %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	return nil
}

func (x *Executor) runPrompt(ctx context.Context, exec *types.Execution, step *types.PipelineStep, se *types.StepExecution) error {
	if x.llm == nil {
		return fmt.Errorf("no LLM provider configured")
	}
	prompt := x.eval.RenderRefs(step.Prompt, x.evalContext(exec))
	if se.Input != "" {
		prompt += "\n\nInput:\n" + se.Input
	}
	text, err := x.llm.Complete(ctx, llm.Request{Prompt: prompt, Tools: step.Tools})
	if err != nil {
		return err
	}
	se.Output = strings.TrimSpace(text)
	return nil
}

func (x *Executor) runInvoke(ctx context.Context, exec *types.Execution, step *types.PipelineStep, se *types.StepExecution) error {
	inputs, _ := x.eval.EvalRefs(step.Inputs, x.evalContext(exec)).(map[string]any)
	if inputs == nil {
		inputs = make(map[string]any)
	}
	if _, ok := inputs["input"]; !ok && se.Input != "" {
		inputs["input"] = se.Input
	}

	child, err := x.run(ctx, RunRequest{
		Pipeline:  step.InvokePipeline,
		Inputs:    inputs,
		SessionID: exec.SessionID,
		Workdir:   exec.Workdir,
	}, exec.Depth+1, exec.ID)
	if err != nil {
		return err
	}
	se.ChildID = child.ID
	if child.Status != types.ExecutionCompleted {
		if child.Status == types.ExecutionCancelled && ctx.Err() != nil {
			return ctx.Err()
		}
		return gerrors.Newf(gerrors.CodePipelineStepFailed, "invoked pipeline %s %s: %s", child.Pipeline, child.Status, child.Error).
			WithDetail("child_execution_id", child.ID)
	}
	se.Output = childOutput(child)
	return nil
}

// childOutput is the child's declared outputs, or its last produced output.
func childOutput(child *types.Execution) any {
	if len(child.Outputs) > 0 {
		return child.Outputs
	}
	for i := len(child.Steps) - 1; i >= 0; i-- {
		if child.Steps[i].Status == types.StepCompleted {
			return child.Steps[i].Output
		}
	}
	return nil
}

func stepWorkdir(base, dir string) string {
	switch {
	case dir == "":
		return base
	case filepath.IsAbs(dir) || base == "":
		return dir
	}
	return filepath.Join(base, dir)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
