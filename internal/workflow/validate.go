package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/types"
)

// ActionSet reports which action names are registered.
type ActionSet interface {
	Has(name string) bool
	Names() []string
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Definition string // Definition name
	Step       string // Step name or pipeline step id, if applicable
	Field      string // Field name
	Message    string // Error message
	Suggest    string // Suggestion for fixing
}

func (e ValidationError) Error() string {
	var parts []string
	if e.Definition != "" {
		parts = append(parts, fmt.Sprintf("definition %q", e.Definition))
	}
	if e.Step != "" {
		parts = append(parts, fmt.Sprintf("step %q", e.Step))
	}
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field %q", e.Field))
	}

	location := strings.Join(parts, ", ")
	msg := e.Message
	if e.Suggest != "" {
		msg += fmt.Sprintf(" (suggestion: %s)", e.Suggest)
	}

	if location != "" {
		return fmt.Sprintf("%s: %s", location, msg)
	}
	return msg
}

// ValidationResult holds all validation errors for a definition.
type ValidationResult struct {
	Errors []ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error implements the error interface.
func (r *ValidationResult) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n  - %s",
		len(r.Errors), strings.Join(msgs, "\n  - "))
}

// Add adds a validation error.
func (r *ValidationResult) Add(def, step, field, message, suggest string) {
	r.Errors = append(r.Errors, ValidationError{
		Definition: def,
		Step:       step,
		Field:      field,
		Message:    message,
		Suggest:    suggest,
	})
}

var (
	stepIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	semverPattern = regexp.MustCompile(`^v?\d+\.\d+(\.\d+)?(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

// Validator checks definitions against the schema, the registered actions
// and the expression language.
type Validator struct {
	Actions ActionSet
	Eval    *condition.Evaluator
}

// Validate performs full validation of one definition. Cross-definition
// references (invoke_pipeline targets) are checked by ValidateRefs.
func (v *Validator) Validate(def *types.Definition) *ValidationResult {
	result := &ValidationResult{}
	name := def.Name

	if name == "" {
		result.Add("", "", "name", "definition name is required", "add name: my-workflow")
	}
	if !def.Type.Valid() {
		result.Add(name, "", "type", fmt.Sprintf("unknown type %q", def.Type), "use lifecycle, step or pipeline")
		return result
	}
	if def.Version != "" && !semverPattern.MatchString(def.Version) {
		result.Add(name, "", "version", fmt.Sprintf("%q is not a semantic version", def.Version), "use MAJOR.MINOR.PATCH")
	}

	for key, specs := range def.Triggers {
		if _, ok := types.EventFromTriggerKey(key); !ok {
			result.Add(name, "", "triggers", fmt.Sprintf("unknown trigger %q", key), findSimilarTrigger(key))
		}
		v.checkActions(result, name, "", "triggers."+key, specs)
	}
	v.checkActions(result, name, "", "on_error", def.OnError)

	switch def.Type {
	case types.DefinitionLifecycle:
		if len(def.Steps) > 0 || len(def.PipelineSteps) > 0 {
			result.Add(name, "", "steps", "lifecycle definitions do not take steps", "move actions under triggers")
		}
	case types.DefinitionStep:
		v.validateSteps(result, def)
	case types.DefinitionPipeline:
		v.validatePipeline(result, def)
	}
	return result
}

func (v *Validator) validateSteps(result *ValidationResult, def *types.Definition) {
	name := def.Name
	if len(def.Steps) == 0 {
		result.Add(name, "", "steps", "step workflow must have at least one step", "add a steps list")
		return
	}

	names := make(map[string]int)
	for i, s := range def.Steps {
		if s.Name == "" {
			result.Add(name, fmt.Sprintf("[%d]", i), "name", "step name is required", "")
			continue
		}
		if _, dup := names[s.Name]; dup {
			result.Add(name, s.Name, "name", "duplicate step name", "")
		}
		names[s.Name] = i
	}

	for _, s := range def.Steps {
		v.checkActions(result, name, s.Name, "on_enter", s.OnEnter)
		v.checkActions(result, name, s.Name, "on_exit", s.OnExit)

		for i, r := range s.Rules {
			field := fmt.Sprintf("rules[%d]", i)
			if !r.Action.Valid() {
				result.Add(name, s.Name, field, fmt.Sprintf("unknown rule action %q", r.Action), "use block, allow, warn or require_approval")
			}
			v.checkExpr(result, name, s.Name, field+".when", r.When)
		}

		for i, tr := range s.Transitions {
			field := fmt.Sprintf("transitions[%d]", i)
			if _, ok := names[tr.To]; !ok {
				result.Add(name, s.Name, field, fmt.Sprintf("unknown target step %q", tr.To), findSimilarInMap(tr.To, names))
			}
			if strings.TrimSpace(tr.When) == "" {
				result.Add(name, s.Name, field, "transition condition is required", "add when: ...")
			}
			v.checkExpr(result, name, s.Name, field+".when", tr.When)
		}

		for i, c := range s.ExitConditions {
			field := fmt.Sprintf("exit_conditions[%d]", i)
			switch c.Type {
			case types.ExitArtifactExists:
				if c.Artifact == "" {
					result.Add(name, s.Name, field, "artifact_exists needs artifact", "")
				}
			case types.ExitVariableSet:
				if c.Variable == "" {
					result.Add(name, s.Name, field, "variable_set needs variable", "")
				}
			case types.ExitActionCount:
				if c.Min <= 0 {
					result.Add(name, s.Name, field, "action_count needs a positive min", "")
				}
			case types.ExitExpression:
				if c.When == "" {
					result.Add(name, s.Name, field, "expression needs when", "")
				}
				v.checkExpr(result, name, s.Name, field+".when", c.When)
			case types.ExitUserApproval:
			default:
				result.Add(name, s.Name, field, fmt.Sprintf("unknown exit condition type %q", c.Type),
					"use artifact_exists, user_approval, variable_set, action_count or expression")
			}
		}
	}
}

func (v *Validator) validatePipeline(result *ValidationResult, def *types.Definition) {
	name := def.Name
	if len(def.PipelineSteps) == 0 {
		result.Add(name, "", "steps", "pipeline must have at least one step", "add a steps list")
		return
	}

	ids := make(map[string]int)
	for i, s := range def.PipelineSteps {
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("[%d]", i)
		}
		if s.ID == "" {
			result.Add(name, label, "id", "step id is required", "")
		} else if !stepIDPattern.MatchString(s.ID) {
			result.Add(name, label, "id", "step id must be an identifier", "use letters, digits and underscores")
		} else if s.ID == "inputs" {
			result.Add(name, label, "id", "step id \"inputs\" is reserved", "")
		} else if _, dup := ids[s.ID]; dup {
			result.Add(name, label, "id", "duplicate step id", "")
		}
		ids[s.ID] = i

		if s.Kind() == "" {
			result.Add(name, label, "", "step needs exactly one of exec, prompt or invoke_pipeline", "")
		}
		if s.InvokePipeline == name {
			result.Add(name, label, "invoke_pipeline", "pipeline invokes itself", "")
		}
		if s.Approval != nil && s.Approval.TimeoutSeconds < 0 {
			result.Add(name, label, "approval.timeout_seconds", "timeout must not be negative", "")
		}
		if s.TimeoutSeconds < 0 {
			result.Add(name, label, "timeout_seconds", "timeout must not be negative", "")
		}
		v.checkExpr(result, name, label, "condition", s.Condition)
		v.checkTemplate(result, name, label, "exec", s.Exec)
		v.checkTemplate(result, name, label, "prompt", s.Prompt)

		if strings.HasPrefix(s.Input, "$") {
			ref := strings.TrimPrefix(s.Input, "$")
			root := strings.SplitN(ref, ".", 2)[0]
			if j, ok := ids[root]; !ok || j >= i {
				if root != "inputs" {
					result.Add(name, label, "input", fmt.Sprintf("input references unknown or later step %q", root), findSimilarInMap(root, ids))
				}
			}
		}
	}

	for out, tmpl := range def.Outputs {
		v.checkTemplate(result, name, "", "outputs."+out, tmpl)
	}
	for _, ev := range pipelineWebhookEvents {
		if hook := def.Webhooks.For(ev); hook != nil && hook.URL == "" {
			result.Add(name, "", "webhooks."+ev, "webhook needs a url", "")
		}
	}
}

var pipelineWebhookEvents = []string{
	"on_started", "on_approval_required", "on_approved",
	"on_rejected", "on_completed", "on_failed",
}

// actionRefArgs are arguments whose values name follow-up actions.
var actionRefArgs = []string{"on_success", "on_failure"}

func (v *Validator) checkActions(result *ValidationResult, def, step, field string, specs []types.ActionSpec) {
	for i, spec := range specs {
		f := fmt.Sprintf("%s[%d]", field, i)
		v.checkAction(result, def, step, f, spec.Action)
		v.checkExpr(result, def, step, f+".when", spec.When)
		for _, key := range actionRefArgs {
			v.checkFollowUp(result, def, step, f+"."+key, spec.Args[key])
		}
		for key, arg := range spec.Args {
			if s, ok := arg.(string); ok {
				v.checkTemplate(result, def, step, f+"."+key, s)
			}
		}
	}
}

func (v *Validator) checkFollowUp(result *ValidationResult, def, step, field string, arg any) {
	switch a := arg.(type) {
	case nil:
	case string:
		v.checkAction(result, def, step, field, a)
	case []any:
		for _, item := range a {
			v.checkFollowUp(result, def, step, field, item)
		}
	case map[string]any:
		spec, err := types.ActionSpecFrom(a)
		if err != nil {
			result.Add(def, step, field, err.Error(), "")
			return
		}
		v.checkAction(result, def, step, field, spec.Action)
	}
}

func (v *Validator) checkAction(result *ValidationResult, def, step, field, action string) {
	if v.Actions == nil {
		return
	}
	if action == "" {
		result.Add(def, step, field, "action name is required", "")
		return
	}
	if !v.Actions.Has(action) {
		names := make(map[string]int)
		for i, n := range v.Actions.Names() {
			names[n] = i
		}
		result.Add(def, step, field, fmt.Sprintf("unknown action %q", action), findSimilarInMap(action, names))
	}
}

func (v *Validator) checkExpr(result *ValidationResult, def, step, field, expr string) {
	if v.Eval == nil || strings.TrimSpace(expr) == "" {
		return
	}
	if err := v.Eval.Validate(expr); err != nil {
		result.Add(def, step, field, err.Error(), "")
	}
}

func (v *Validator) checkTemplate(result *ValidationResult, def, step, field, tmpl string) {
	if v.Eval == nil || tmpl == "" {
		return
	}
	if err := v.Eval.ValidateTemplate(tmpl); err != nil {
		result.Add(def, step, field, err.Error(), "")
	}
}

// ValidateRefs checks references between definitions: invoke_pipeline
// targets must be pipelines and must not form a cycle.
func ValidateRefs(defs map[string]*types.Definition) map[string]*ValidationResult {
	out := make(map[string]*ValidationResult)
	add := func(def, step, field, msg, suggest string) {
		r, ok := out[def]
		if !ok {
			r = &ValidationResult{}
			out[def] = r
		}
		r.Add(def, step, field, msg, suggest)
	}

	graph := make(map[string][]string)
	for name, def := range defs {
		if def.Type != types.DefinitionPipeline {
			continue
		}
		for _, s := range def.PipelineSteps {
			if s.InvokePipeline == "" {
				continue
			}
			target, ok := defs[s.InvokePipeline]
			switch {
			case !ok:
				add(name, s.ID, "invoke_pipeline", fmt.Sprintf("unknown pipeline %q", s.InvokePipeline), findSimilarDefinition(s.InvokePipeline, defs))
			case target.Type != types.DefinitionPipeline:
				add(name, s.ID, "invoke_pipeline", fmt.Sprintf("%q is a %s definition, not a pipeline", s.InvokePipeline, target.Type), "")
			default:
				graph[name] = append(graph[name], s.InvokePipeline)
			}
		}
	}

	for name := range graph {
		if cycle := findCycle(name, graph); len(cycle) > 0 {
			add(name, "", "invoke_pipeline", "circular pipeline invocation: "+strings.Join(cycle, " -> "), "")
		}
	}
	return out
}

// findCycle returns a cycle reachable from start, or nil.
func findCycle(start string, graph map[string][]string) []string {
	state := make(map[string]int) // 0 unvisited, 1 visiting, 2 done
	var stack []string
	var cycle []string

	var dfs func(n string) bool
	dfs = func(n string) bool {
		state[n] = 1
		stack = append(stack, n)
		for _, next := range graph[n] {
			if state[next] == 1 {
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			}
			if state[next] == 0 && dfs(next) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = 2
		return false
	}

	if dfs(start) {
		return cycle
	}
	return nil
}

func findSimilarTrigger(key string) string {
	names := make(map[string]int)
	for i, ev := range types.AllEventTypes {
		names[ev.TriggerKey()] = i
	}
	return findSimilarInMap(key, names)
}

func findSimilarDefinition(target string, defs map[string]*types.Definition) string {
	names := make(map[string]int, len(defs))
	for n := range defs {
		names[n] = 0
	}
	return findSimilarInMap(target, names)
}

// findSimilarInMap finds a similar key for "did you mean" suggestions.
func findSimilarInMap(target string, candidates map[string]int) string {
	var best string
	bestScore := 0

	for candidate := range candidates {
		score := similarity(target, candidate)
		if score > bestScore || (score == bestScore && score > 0 && candidate < best) {
			bestScore = score
			best = candidate
		}
	}

	if bestScore > len(target)/2 {
		return fmt.Sprintf("did you mean %q?", best)
	}
	return ""
}

// similarity returns a simple score based on common prefix and suffix.
func similarity(a, b string) int {
	score := 0

	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		if a[i] == b[i] {
			score++
		} else {
			break
		}
	}

	for i := 0; i < minLen-score; i++ {
		if a[len(a)-1-i] == b[len(b)-1-i] {
			score++
		} else {
			break
		}
	}

	return score
}
