// Package types holds the data model shared across the Gobby engine:
// workflow definitions, session workflow state, pipeline executions and hook
// events.
package types

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// DefinitionType identifies the kind of workflow a definition describes.
type DefinitionType string

const (
	DefinitionLifecycle DefinitionType = "lifecycle" // Event-triggered action lists
	DefinitionStep      DefinitionType = "step"      // Single-slot state machine
	DefinitionPipeline  DefinitionType = "pipeline"  // Sequential data-flow execution
)

// Valid returns true if this is a recognized definition type.
func (t DefinitionType) Valid() bool {
	switch t {
	case DefinitionLifecycle, DefinitionStep, DefinitionPipeline:
		return true
	}
	return false
}

// OccupiesSlot returns true if an active workflow of this type uses the
// session's single workflow slot.
func (t DefinitionType) OccupiesSlot() bool {
	return t == DefinitionStep || t == DefinitionPipeline
}

// DefaultPriority is the lifecycle dispatch priority when none is set.
const DefaultPriority = 100

// Definition is a loaded, inheritance-resolved workflow definition.
// Definitions are immutable once loaded; a reload replaces them.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string         `yaml:"version,omitempty" json:"version,omitempty"`
	Type        DefinitionType `yaml:"type" json:"type"`
	Extends     string         `yaml:"extends,omitempty" json:"extends,omitempty"`

	// Lifecycle-only knobs
	Enabled  *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Priority int   `yaml:"priority,omitempty" json:"priority,omitempty"`

	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Settings  map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`

	// Triggers maps on_<event> keys to ordered action lists.
	Triggers map[string][]ActionSpec `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	OnError  []ActionSpec            `yaml:"on_error,omitempty" json:"on_error,omitempty"`

	// Step workflows
	Steps []Step `yaml:"-" json:"steps,omitempty"`

	// Pipelines
	PipelineSteps []PipelineStep    `yaml:"-" json:"pipeline_steps,omitempty"`
	Inputs        map[string]any    `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs       map[string]string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Workdir       string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Webhooks      *PipelineWebhooks `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`

	// Source is the file the definition was loaded from.
	Source string `yaml:"-" json:"source,omitempty"`
}

// UnmarshalYAML decodes the type-dependent steps list.
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	type plain Definition
	var raw struct {
		plain `yaml:",inline"`
		Steps yaml.Node `yaml:"steps"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*d = Definition(raw.plain)

	if raw.Steps.Kind == 0 {
		return nil
	}
	// Steps on other types are kept as step entries for validation to reject.
	if d.Type == DefinitionPipeline {
		return raw.Steps.Decode(&d.PipelineSteps)
	}
	return raw.Steps.Decode(&d.Steps)
}

// IsEnabled reports whether a lifecycle definition is enabled (default true).
func (d *Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// EffectivePriority returns the lifecycle dispatch priority.
func (d *Definition) EffectivePriority() int {
	if d.Priority == 0 {
		return DefaultPriority
	}
	return d.Priority
}

// Step returns the named step.
func (d *Definition) Step(name string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// InitialStep returns the name of the first declared step.
func (d *Definition) InitialStep() string {
	if len(d.Steps) == 0 {
		return ""
	}
	return d.Steps[0].Name
}

// PipelineStep returns the index of the pipeline step with the given id.
func (d *Definition) PipelineStepIndex(id string) int {
	for i := range d.PipelineSteps {
		if d.PipelineSteps[i].ID == id {
			return i
		}
	}
	return -1
}

// TriggerKeys returns the trigger keys in sorted order.
func (d *Definition) TriggerKeys() []string {
	keys := make([]string, 0, len(d.Triggers))
	for k := range d.Triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Step is one state of a step workflow.
type Step struct {
	Name           string          `yaml:"name" json:"name"`
	Description    string          `yaml:"description,omitempty" json:"description,omitempty"`
	OnEnter        []ActionSpec    `yaml:"on_enter,omitempty" json:"on_enter,omitempty"`
	OnExit         []ActionSpec    `yaml:"on_exit,omitempty" json:"on_exit,omitempty"`
	AllowedTools   ToolSelector    `yaml:"allowed_tools,omitempty" json:"allowed_tools"`
	BlockedTools   []string        `yaml:"blocked_tools,omitempty" json:"blocked_tools,omitempty"`
	Rules          []Rule          `yaml:"rules,omitempty" json:"rules,omitempty"`
	Transitions    []Transition    `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	ExitConditions []ExitCondition `yaml:"exit_conditions,omitempty" json:"exit_conditions,omitempty"`
}

// IsBlocked returns true if the tool is in blocked_tools.
func (s *Step) IsBlocked(tool string) bool {
	for _, t := range s.BlockedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Rule is a conditional tool-call directive. First match wins.
type Rule struct {
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	When    string   `yaml:"when,omitempty" json:"when,omitempty"`
	Tools   []string `yaml:"tools,omitempty" json:"tools,omitempty"` // Empty matches any tool
	Action  Decision `yaml:"action" json:"action"`
	Message string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// AppliesTo returns true if the rule's tool filter admits the tool.
func (r *Rule) AppliesTo(tool string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Transition moves the machine to another step when its condition holds.
type Transition struct {
	To   string `yaml:"to" json:"to"`
	When string `yaml:"when" json:"when"`
}

// ExitConditionType identifies a typed exit gate.
type ExitConditionType string

const (
	ExitArtifactExists ExitConditionType = "artifact_exists"
	ExitUserApproval   ExitConditionType = "user_approval"
	ExitVariableSet    ExitConditionType = "variable_set"
	ExitActionCount    ExitConditionType = "action_count"
	ExitExpression     ExitConditionType = "expression"
)

// Valid returns true if this is a recognized exit condition type.
func (t ExitConditionType) Valid() bool {
	switch t {
	case ExitArtifactExists, ExitUserApproval, ExitVariableSet, ExitActionCount, ExitExpression:
		return true
	}
	return false
}

// ExitCondition is one AND-combined gate on leaving a step.
type ExitCondition struct {
	Type     ExitConditionType `yaml:"type" json:"type"`
	Artifact string            `yaml:"artifact,omitempty" json:"artifact,omitempty"`
	Variable string            `yaml:"variable,omitempty" json:"variable,omitempty"`
	Min      int               `yaml:"min,omitempty" json:"min,omitempty"`
	When     string            `yaml:"when,omitempty" json:"when,omitempty"`
	Message  string            `yaml:"message,omitempty" json:"message,omitempty"`
}

// ApprovalVariable returns the variable a user_approval condition reads.
func (c *ExitCondition) ApprovalVariable(step string) string {
	if c.Variable != "" {
		return c.Variable
	}
	return ApprovalVariableFor(step)
}

// ApprovalVariableFor is the default variable set when a user approves a step.
func ApprovalVariableFor(step string) string {
	return step + "_approved"
}

// PipelineStep is one sequential step of a pipeline.
type PipelineStep struct {
	ID             string            `yaml:"id" json:"id"`
	Exec           string            `yaml:"exec,omitempty" json:"exec,omitempty"`
	Prompt         string            `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	InvokePipeline string            `yaml:"invoke_pipeline,omitempty" json:"invoke_pipeline,omitempty"`
	Condition      string            `yaml:"condition,omitempty" json:"condition,omitempty"`
	Input          string            `yaml:"input,omitempty" json:"input,omitempty"`
	Inputs         map[string]any    `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Approval       *ApprovalGate     `yaml:"approval,omitempty" json:"approval,omitempty"`
	Tools          []string          `yaml:"tools,omitempty" json:"tools,omitempty"`
	Workdir        string            `yaml:"workdir,omitempty" json:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Pipeline step kinds.
const (
	StepKindExec   = "exec"
	StepKindPrompt = "prompt"
	StepKindInvoke = "invoke_pipeline"
)

// Kind returns the step kind, or "" when zero or several kinds are set.
func (s *PipelineStep) Kind() string {
	kind := ""
	n := 0
	if s.Exec != "" {
		kind, n = StepKindExec, n+1
	}
	if s.Prompt != "" {
		kind, n = StepKindPrompt, n+1
	}
	if s.InvokePipeline != "" {
		kind, n = StepKindInvoke, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

// NeedsApproval returns true if the step has a required approval gate.
func (s *PipelineStep) NeedsApproval() bool {
	return s.Approval != nil && s.Approval.Required
}

// ApprovalGate pauses a pipeline before a step until approved.
type ApprovalGate struct {
	Required       bool   `yaml:"required" json:"required"`
	Message        string `yaml:"message,omitempty" json:"message,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// WebhookSpec describes one outbound HTTP notification.
type WebhookSpec struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Payload any               `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// PipelineWebhooks are fire-and-forget notifications on execution events.
type PipelineWebhooks struct {
	OnStarted          *WebhookSpec `yaml:"on_started,omitempty" json:"on_started,omitempty"`
	OnApprovalRequired *WebhookSpec `yaml:"on_approval_required,omitempty" json:"on_approval_required,omitempty"`
	OnApproved         *WebhookSpec `yaml:"on_approved,omitempty" json:"on_approved,omitempty"`
	OnRejected         *WebhookSpec `yaml:"on_rejected,omitempty" json:"on_rejected,omitempty"`
	OnCompleted        *WebhookSpec `yaml:"on_completed,omitempty" json:"on_completed,omitempty"`
	OnFailed           *WebhookSpec `yaml:"on_failed,omitempty" json:"on_failed,omitempty"`
}

// For returns the webhook for a pipeline event name (e.g. "on_completed").
func (w *PipelineWebhooks) For(event string) *WebhookSpec {
	if w == nil {
		return nil
	}
	switch event {
	case "on_started":
		return w.OnStarted
	case "on_approval_required":
		return w.OnApprovalRequired
	case "on_approved":
		return w.OnApproved
	case "on_rejected":
		return w.OnRejected
	case "on_completed":
		return w.OnCompleted
	case "on_failed":
		return w.OnFailed
	}
	return nil
}
