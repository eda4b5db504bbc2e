package types

import (
	"time"
)

// ExecutionStatus represents the lifecycle state of a pipeline execution.
type ExecutionStatus string

const (
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

// Valid returns true if this is a recognized execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionRunning, ExecutionWaitingApproval, ExecutionCompleted,
		ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanTransitionTo returns true if moving from s to target is legal.
// Terminal states are immutable.
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	switch s {
	case ExecutionRunning:
		return target == ExecutionWaitingApproval || target.IsTerminal()
	case ExecutionWaitingApproval:
		return target == ExecutionRunning || target == ExecutionCancelled || target == ExecutionFailed
	}
	return false
}

// StepStatus represents the state of one pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal returns true if the step will not change again.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// StepExecution is the runtime record of one pipeline step.
type StepExecution struct {
	ID          string     `yaml:"id" json:"id"`
	Kind        string     `yaml:"kind" json:"kind"`
	Status      StepStatus `yaml:"status" json:"status"`
	Input       string     `yaml:"input,omitempty" json:"input,omitempty"`
	Output      any        `yaml:"output,omitempty" json:"output,omitempty"`
	ExitCode    *int       `yaml:"exit_code,omitempty" json:"exit_code,omitempty"`
	Error       string     `yaml:"error,omitempty" json:"error,omitempty"`
	Approved    bool       `yaml:"approved,omitempty" json:"approved,omitempty"`
	ChildID     string     `yaml:"child_execution_id,omitempty" json:"child_execution_id,omitempty"`
	StartedAt   *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Execution is one run of a pipeline definition.
type Execution struct {
	ID        string          `yaml:"id" json:"execution_id"`
	Pipeline  string          `yaml:"pipeline" json:"pipeline"`
	SessionID string          `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	Status    ExecutionStatus `yaml:"status" json:"status"`
	Workdir   string          `yaml:"workdir,omitempty" json:"workdir,omitempty"`

	Inputs  map[string]any   `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps   []*StepExecution `yaml:"steps" json:"steps"`
	Outputs map[string]any   `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Error   string           `yaml:"error,omitempty" json:"error,omitempty"`

	PendingApproval *PendingApproval `yaml:"pending_approval,omitempty" json:"pending_approval,omitempty"`

	ParentID string `yaml:"parent_execution_id,omitempty" json:"parent_execution_id,omitempty"`
	Depth    int    `yaml:"depth,omitempty" json:"depth,omitempty"`

	CreatedAt   time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `yaml:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Step returns the step record with the given id.
func (e *Execution) Step(id string) *StepExecution {
	for _, s := range e.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ResumeToken returns the pending approval token, if any.
func (e *Execution) ResumeToken() string {
	if e.PendingApproval == nil {
		return ""
	}
	return e.PendingApproval.ResumeToken
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	Status    ExecutionStatus
	SessionID string
	Pipeline  string
}

// Matches returns true if the execution passes the filter.
func (f ExecutionFilter) Matches(e *Execution) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Pipeline != "" && e.Pipeline != f.Pipeline {
		return false
	}
	return true
}

// Clone returns a copy that shares no mutable step records with e.
func (e *Execution) Clone() *Execution {
	c := *e
	c.Inputs = CloneMap(e.Inputs)
	c.Outputs = CloneMap(e.Outputs)
	c.Steps = make([]*StepExecution, len(e.Steps))
	for i, s := range e.Steps {
		cp := *s
		cp.Output = CloneValue(s.Output)
		c.Steps[i] = &cp
	}
	if e.PendingApproval != nil {
		pa := *e.PendingApproval
		c.PendingApproval = &pa
	}
	return &c
}
