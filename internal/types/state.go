package types

import (
	"time"
)

// ActiveWorkflow is the session's single step-or-pipeline slot.
type ActiveWorkflow struct {
	Name          string         `yaml:"name" json:"name"`
	Type          DefinitionType `yaml:"type" json:"type"`
	CurrentStep   string         `yaml:"current_step,omitempty" json:"current_step,omitempty"`
	ExecutionID   string         `yaml:"execution_id,omitempty" json:"execution_id,omitempty"` // Pipelines only
	ActivatedAt   time.Time      `yaml:"activated_at" json:"activated_at"`
	StepEnteredAt time.Time      `yaml:"step_entered_at,omitempty" json:"step_entered_at,omitempty"`
}

// PendingApproval records a pipeline paused at an approval gate.
type PendingApproval struct {
	ExecutionID string     `yaml:"execution_id" json:"execution_id"`
	StepID      string     `yaml:"step_id" json:"step_id"`
	ResumeToken string     `yaml:"resume_token" json:"resume_token"`
	Message     string     `yaml:"message,omitempty" json:"message,omitempty"`
	RequestedAt time.Time  `yaml:"requested_at" json:"requested_at"`
	ExpiresAt   *time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Expired reports whether the approval has passed its expiry.
func (p *PendingApproval) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// SessionWorkflowState is the mutable per-session runtime record.
type SessionWorkflowState struct {
	SessionID string `yaml:"session_id" json:"session_id"`
	Source    string `yaml:"source,omitempty" json:"source,omitempty"` // claude, gemini, codex

	ActiveWorkflow     *ActiveWorkflow `yaml:"active_workflow,omitempty" json:"active_workflow,omitempty"`
	LifecycleWorkflows []string        `yaml:"lifecycle_workflows,omitempty" json:"lifecycle_workflows,omitempty"`

	Variables        map[string]any    `yaml:"variables,omitempty" json:"variables,omitempty"`
	StepActionCount  int               `yaml:"step_action_count" json:"step_action_count"`
	TotalActionCount int               `yaml:"total_action_count" json:"total_action_count"`
	Artifacts        map[string]string `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	ToolsUnlocked    []string          `yaml:"tools_unlocked,omitempty" json:"tools_unlocked,omitempty"`

	PendingApproval *PendingApproval `yaml:"pending_approval,omitempty" json:"pending_approval,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// NewSessionState creates an empty state for a session.
func NewSessionState(sessionID string) *SessionWorkflowState {
	now := time.Now()
	return &SessionWorkflowState{
		SessionID: sessionID,
		Variables: make(map[string]any),
		Artifacts: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetVariable sets a session-scoped variable.
func (s *SessionWorkflowState) SetVariable(name string, value any) {
	if s.Variables == nil {
		s.Variables = make(map[string]any)
	}
	s.Variables[name] = value
}

// UnsetVariable removes a session-scoped variable.
func (s *SessionWorkflowState) UnsetVariable(name string) {
	delete(s.Variables, name)
}

// Variable returns a session-scoped variable.
func (s *SessionWorkflowState) Variable(name string) (any, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// SetArtifact records a captured artifact path.
func (s *SessionWorkflowState) SetArtifact(name, path string) {
	if s.Artifacts == nil {
		s.Artifacts = make(map[string]string)
	}
	s.Artifacts[name] = path
}

// HasLifecycle returns true if the lifecycle workflow is active.
func (s *SessionWorkflowState) HasLifecycle(name string) bool {
	for _, n := range s.LifecycleWorkflows {
		if n == name {
			return true
		}
	}
	return false
}

// AddLifecycle activates a lifecycle workflow (idempotent).
func (s *SessionWorkflowState) AddLifecycle(name string) {
	if !s.HasLifecycle(name) {
		s.LifecycleWorkflows = append(s.LifecycleWorkflows, name)
	}
}

// UnlockTool records that a tool schema has been fetched this session.
func (s *SessionWorkflowState) UnlockTool(name string) {
	for _, t := range s.ToolsUnlocked {
		if t == name {
			return
		}
	}
	s.ToolsUnlocked = append(s.ToolsUnlocked, name)
}

// IsEmpty reports whether the state carries nothing worth persisting.
func (s *SessionWorkflowState) IsEmpty() bool {
	return s.ActiveWorkflow == nil && len(s.LifecycleWorkflows) == 0 &&
		len(s.Variables) == 0 && len(s.Artifacts) == 0 &&
		s.PendingApproval == nil && s.TotalActionCount == 0
}

// ClearActive empties the single workflow slot.
func (s *SessionWorkflowState) ClearActive() {
	s.ActiveWorkflow = nil
	s.PendingApproval = nil
	s.StepActionCount = 0
}

// Clone returns a deep copy of the state.
func (s *SessionWorkflowState) Clone() *SessionWorkflowState {
	if s == nil {
		return nil
	}
	c := *s
	if s.ActiveWorkflow != nil {
		aw := *s.ActiveWorkflow
		c.ActiveWorkflow = &aw
	}
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		if s.PendingApproval.ExpiresAt != nil {
			exp := *s.PendingApproval.ExpiresAt
			pa.ExpiresAt = &exp
		}
		c.PendingApproval = &pa
	}
	c.LifecycleWorkflows = append([]string(nil), s.LifecycleWorkflows...)
	c.ToolsUnlocked = append([]string(nil), s.ToolsUnlocked...)
	c.Variables = CloneMap(s.Variables)
	if s.Artifacts != nil {
		c.Artifacts = make(map[string]string, len(s.Artifacts))
		for k, v := range s.Artifacts {
			c.Artifacts[k] = v
		}
	}
	return &c
}

// CloneMap deep-copies a map of loosely typed values (maps and slices are
// copied, scalars shared).
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies nested maps and slices.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	}
	return v
}

// Clone returns a copy of the slot, or nil.
func (a *ActiveWorkflow) Clone() *ActiveWorkflow {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
