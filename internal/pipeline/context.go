package pipeline

import (
	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/types"
)

// evalContext exposes $inputs.<name>, $<step>.output and friends.
func (x *Executor) evalContext(exec *types.Execution) condition.Context {
	ctx := condition.MapContext{
		"inputs":       exec.Inputs,
		"execution_id": exec.ID,
		"session_id":   exec.SessionID,
		"pipeline":     exec.Pipeline,
	}
	if ctx["inputs"] == nil {
		ctx["inputs"] = map[string]any{}
	}
	for _, s := range exec.Steps {
		view := map[string]any{
			"output": s.Output,
			"status": string(s.Status),
			"error":  s.Error,
		}
		if s.ExitCode != nil {
			view["exit_code"] = *s.ExitCode
		}
		ctx[s.ID] = view
	}
	return ctx
}

// resolveInput renders an explicit input reference, or chains the output of
// the closest preceding step that ran.
func (x *Executor) resolveInput(exec *types.Execution, step *types.PipelineStep, idx int) string {
	if step.Input != "" {
		return x.eval.RenderRefs(step.Input, x.evalContext(exec))
	}
	for i := idx - 1; i >= 0; i-- {
		if prev := exec.Steps[i]; prev.Status == types.StepCompleted {
			return condition.StringifyValue(prev.Output)
		}
	}
	return ""
}

func (x *Executor) renderOutputs(def *types.Definition, exec *types.Execution) map[string]any {
	if len(def.Outputs) == 0 {
		return nil
	}
	ctx := x.evalContext(exec)
	out := make(map[string]any, len(def.Outputs))
	for k, ref := range def.Outputs {
		out[k] = x.eval.EvalRefs(ref, ctx)
	}
	return out
}
