package stepmachine

import (
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/types"
)

// ExitReport describes whether the current step may be left.
type ExitReport struct {
	Workflow string   `json:"workflow"`
	Step     string   `json:"step"`
	Met      bool     `json:"met"`
	Unmet    []string `json:"unmet,omitempty"`
}

// ExitStatus reports the current step's exit conditions.
func (c *Controller) ExitStatus(actx *actions.Context) (*ExitReport, error) {
	def, step, err := c.active(actx)
	if err != nil {
		return nil, err
	}
	unmet := c.unmet(actx, def, step)
	return &ExitReport{Workflow: def.Name, Step: step.Name, Met: len(unmet) == 0, Unmet: unmet}, nil
}

// unmet returns a message per failing exit condition. All conditions must
// hold for the step to be left.
func (c *Controller) unmet(actx *actions.Context, def *types.Definition, step *types.Step) []string {
	var out []string
	ectx := actx.Derive(def, step.Name).EvalContext()
	for i := range step.ExitConditions {
		cond := &step.ExitConditions[i]
		if c.conditionHolds(actx.State, ectx, step, cond) {
			continue
		}
		msg := cond.Message
		if msg == "" {
			msg = describeCondition(step, cond)
		}
		out = append(out, msg)
	}
	return out
}

func (c *Controller) conditionHolds(st *types.SessionWorkflowState, ectx condition.Context, step *types.Step, cond *types.ExitCondition) bool {
	switch cond.Type {
	case types.ExitArtifactExists:
		return st.Artifacts[cond.Artifact] != ""
	case types.ExitUserApproval:
		v, _ := ectx.Lookup(cond.ApprovalVariable(step.Name))
		return condition.Truthy(v)
	case types.ExitVariableSet:
		v, ok := ectx.Lookup(cond.Variable)
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr {
			return strings.TrimSpace(s) != ""
		}
		return true
	case types.ExitActionCount:
		return st.StepActionCount >= cond.Min
	case types.ExitExpression:
		return c.eval.Check(cond.When, ectx)
	}
	return false
}

func describeCondition(step *types.Step, cond *types.ExitCondition) string {
	switch cond.Type {
	case types.ExitArtifactExists:
		return fmt.Sprintf("artifact %s has not been captured", cond.Artifact)
	case types.ExitUserApproval:
		return fmt.Sprintf("step %s needs user approval", step.Name)
	case types.ExitVariableSet:
		return fmt.Sprintf("variable %s is not set", cond.Variable)
	case types.ExitActionCount:
		return fmt.Sprintf("at least %d tool calls are required in step %s", cond.Min, step.Name)
	case types.ExitExpression:
		return fmt.Sprintf("condition %q does not hold", cond.When)
	}
	return fmt.Sprintf("unknown exit condition %s", cond.Type)
}
