// Package ipc is the daemon's local control protocol.
//
// Messages are newline-delimited JSON over a Unix domain socket. Each
// message is a single JSON object on one line carrying a "type" field. The
// CLI, the hook command and the MCP server are clients; the daemon serves.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/gobby-stack/gobby/internal/types"
)

// MessageType identifies the IPC message kind.
type MessageType string

const (
	// Request types (client → daemon)
	MsgHook               MessageType = "hook"
	MsgPipelineRun        MessageType = "pipeline_run"
	MsgPipelineApprove    MessageType = "pipeline_approve"
	MsgPipelineReject     MessageType = "pipeline_reject"
	MsgPipelineStatus     MessageType = "pipeline_status"
	MsgPipelineCancel     MessageType = "pipeline_cancel"
	MsgPipelineList       MessageType = "pipeline_list"
	MsgWorkflowList       MessageType = "workflow_list"
	MsgWorkflowActivate   MessageType = "workflow_activate"
	MsgWorkflowEnd        MessageType = "workflow_end"
	MsgWorkflowTransition MessageType = "workflow_transition"
	MsgWorkflowApprove    MessageType = "workflow_approve_step"
	MsgWorkflowClear      MessageType = "workflow_clear"
	MsgSetVariable        MessageType = "set_variable"
	MsgGetState           MessageType = "get_state"
	MsgReload             MessageType = "reload"

	// Response types (daemon → client)
	MsgAck           MessageType = "ack"
	MsgError         MessageType = "error"
	MsgHookResult    MessageType = "hook_result"
	MsgExecution     MessageType = "execution"
	MsgExecutionList MessageType = "execution_list"
	MsgDefinitions   MessageType = "definitions"
	MsgState         MessageType = "state"
	MsgReloadResult  MessageType = "reload_result"
)

// Valid returns true if this is a recognized message type.
func (t MessageType) Valid() bool {
	return t.IsRequest() || t.IsResponse()
}

// IsRequest returns true if this message type is sent from a client to the daemon.
func (t MessageType) IsRequest() bool {
	switch t {
	case MsgHook, MsgPipelineRun, MsgPipelineApprove, MsgPipelineReject,
		MsgPipelineStatus, MsgPipelineCancel, MsgPipelineList,
		MsgWorkflowList, MsgWorkflowActivate, MsgWorkflowEnd,
		MsgWorkflowTransition, MsgWorkflowApprove, MsgWorkflowClear,
		MsgSetVariable, MsgGetState, MsgReload:
		return true
	}
	return false
}

// IsResponse returns true if this message type is sent from the daemon to a client.
func (t MessageType) IsResponse() bool {
	switch t {
	case MsgAck, MsgError, MsgHookResult, MsgExecution, MsgExecutionList,
		MsgDefinitions, MsgState, MsgReloadResult:
		return true
	}
	return false
}

// --- Request Messages (client → daemon) ---

// HookMessage carries one normalized hook event.
// Sent by: gobby hook
type HookMessage struct {
	Type  MessageType     `json:"type"` // Always "hook"
	Event types.HookEvent `json:"event"`
}

// PipelineRunMessage starts a pipeline execution.
// Sent by: gobby pipeline run, MCP run_pipeline
type PipelineRunMessage struct {
	Type      MessageType    `json:"type"` // Always "pipeline_run"
	Pipeline  string         `json:"pipeline"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Workdir   string         `json:"workdir,omitempty"`
}

// PipelineApproveMessage resumes a paused execution.
type PipelineApproveMessage struct {
	Type  MessageType `json:"type"` // Always "pipeline_approve"
	Token string      `json:"token"`
}

// PipelineRejectMessage cancels a paused execution.
type PipelineRejectMessage struct {
	Type   MessageType `json:"type"` // Always "pipeline_reject"
	Token  string      `json:"token"`
	Reason string      `json:"reason,omitempty"`
}

// PipelineStatusMessage requests one execution.
type PipelineStatusMessage struct {
	Type        MessageType `json:"type"` // Always "pipeline_status"
	ExecutionID string      `json:"execution_id"`
}

// PipelineCancelMessage cancels a running or paused execution.
type PipelineCancelMessage struct {
	Type        MessageType `json:"type"` // Always "pipeline_cancel"
	ExecutionID string      `json:"execution_id"`
}

// PipelineListMessage lists executions. Empty fields match everything.
type PipelineListMessage struct {
	Type      MessageType `json:"type"` // Always "pipeline_list"
	Status    string      `json:"status,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Pipeline  string      `json:"pipeline,omitempty"`
}

// WorkflowListMessage lists loaded definitions, optionally of one type.
type WorkflowListMessage struct {
	Type           MessageType `json:"type"` // Always "workflow_list"
	DefinitionType string      `json:"definition_type,omitempty"`
}

// WorkflowActivateMessage activates a step workflow for a session.
type WorkflowActivateMessage struct {
	Type      MessageType    `json:"type"` // Always "workflow_activate"
	SessionID string         `json:"session_id"`
	Workflow  string         `json:"workflow"`
	Step      string         `json:"step,omitempty"` // Defaults to the first step
	Variables map[string]any `json:"variables,omitempty"`
}

// WorkflowEndMessage ends the session's active workflow.
type WorkflowEndMessage struct {
	Type      MessageType `json:"type"` // Always "workflow_end"
	SessionID string      `json:"session_id"`
}

// WorkflowTransitionMessage moves the session's step workflow.
type WorkflowTransitionMessage struct {
	Type      MessageType `json:"type"` // Always "workflow_transition"
	SessionID string      `json:"session_id"`
	To        string      `json:"to"`
	Force     bool        `json:"force,omitempty"`
}

// WorkflowApproveMessage approves the session's current step.
type WorkflowApproveMessage struct {
	Type      MessageType `json:"type"` // Always "workflow_approve_step"
	SessionID string      `json:"session_id"`
}

// WorkflowClearMessage force-clears the session's slot.
type WorkflowClearMessage struct {
	Type      MessageType `json:"type"` // Always "workflow_clear"
	SessionID string      `json:"session_id"`
}

// SetVariableMessage sets a session variable.
type SetVariableMessage struct {
	Type      MessageType `json:"type"` // Always "set_variable"
	SessionID string      `json:"session_id"`
	Name      string      `json:"name"`
	Value     any         `json:"value"`
}

// GetStateMessage requests a session's workflow state.
type GetStateMessage struct {
	Type      MessageType `json:"type"` // Always "get_state"
	SessionID string      `json:"session_id"`
}

// ReloadMessage asks the daemon to reload definitions.
type ReloadMessage struct {
	Type MessageType `json:"type"` // Always "reload"
}

// --- Response Messages (daemon → client) ---

// AckMessage confirms successful operation.
type AckMessage struct {
	Type    MessageType `json:"type"` // Always "ack"
	Success bool        `json:"success"`
}

// ErrorMessage reports a failed request. Code carries the error code when
// the failure was a coded engine error.
type ErrorMessage struct {
	Type    MessageType `json:"type"` // Always "error"
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
}

// HookResultMessage returns the verdict for a hook event.
type HookResultMessage struct {
	Type     MessageType        `json:"type"` // Always "hook_result"
	Response types.HookResponse `json:"response"`
}

// ExecutionMessage returns one execution record.
type ExecutionMessage struct {
	Type      MessageType      `json:"type"` // Always "execution"
	Execution *types.Execution `json:"execution"`
}

// ExecutionListMessage returns execution records, newest first.
type ExecutionListMessage struct {
	Type       MessageType        `json:"type"` // Always "execution_list"
	Executions []*types.Execution `json:"executions"`
}

// DefinitionSummary describes one loaded definition.
type DefinitionSummary struct {
	Name        string               `json:"name"`
	Type        types.DefinitionType `json:"type"`
	Description string               `json:"description,omitempty"`
	Source      string               `json:"source,omitempty"`
	Enabled     bool                 `json:"enabled"`
	Priority    int                  `json:"priority"`
}

// DefinitionsMessage returns loaded definitions.
type DefinitionsMessage struct {
	Type        MessageType         `json:"type"` // Always "definitions"
	Definitions []DefinitionSummary `json:"definitions"`
}

// StateMessage returns a session's workflow state.
type StateMessage struct {
	Type  MessageType                 `json:"type"` // Always "state"
	State *types.SessionWorkflowState `json:"state"`
}

// ReloadResultMessage summarizes a definition reload.
type ReloadResultMessage struct {
	Type     MessageType       `json:"type"` // Always "reload_result"
	Loaded   []string          `json:"loaded"`
	Kept     []string          `json:"kept,omitempty"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// --- Message Interface ---

// Message is the interface implemented by all IPC messages.
type Message interface {
	// MessageType returns the type identifier for this message.
	MessageType() MessageType
}

func (m *HookMessage) MessageType() MessageType               { return MsgHook }
func (m *PipelineRunMessage) MessageType() MessageType        { return MsgPipelineRun }
func (m *PipelineApproveMessage) MessageType() MessageType    { return MsgPipelineApprove }
func (m *PipelineRejectMessage) MessageType() MessageType     { return MsgPipelineReject }
func (m *PipelineStatusMessage) MessageType() MessageType     { return MsgPipelineStatus }
func (m *PipelineCancelMessage) MessageType() MessageType     { return MsgPipelineCancel }
func (m *PipelineListMessage) MessageType() MessageType       { return MsgPipelineList }
func (m *WorkflowListMessage) MessageType() MessageType       { return MsgWorkflowList }
func (m *WorkflowActivateMessage) MessageType() MessageType   { return MsgWorkflowActivate }
func (m *WorkflowEndMessage) MessageType() MessageType        { return MsgWorkflowEnd }
func (m *WorkflowTransitionMessage) MessageType() MessageType { return MsgWorkflowTransition }
func (m *WorkflowApproveMessage) MessageType() MessageType    { return MsgWorkflowApprove }
func (m *WorkflowClearMessage) MessageType() MessageType      { return MsgWorkflowClear }
func (m *SetVariableMessage) MessageType() MessageType        { return MsgSetVariable }
func (m *GetStateMessage) MessageType() MessageType           { return MsgGetState }
func (m *ReloadMessage) MessageType() MessageType             { return MsgReload }
func (m *AckMessage) MessageType() MessageType                { return MsgAck }
func (m *ErrorMessage) MessageType() MessageType              { return MsgError }
func (m *HookResultMessage) MessageType() MessageType         { return MsgHookResult }
func (m *ExecutionMessage) MessageType() MessageType          { return MsgExecution }
func (m *ExecutionListMessage) MessageType() MessageType      { return MsgExecutionList }
func (m *DefinitionsMessage) MessageType() MessageType        { return MsgDefinitions }
func (m *StateMessage) MessageType() MessageType              { return MsgState }
func (m *ReloadResultMessage) MessageType() MessageType       { return MsgReloadResult }

// --- Parsing Helpers ---

// RawMessage is used for initial parsing to determine message type.
type RawMessage struct {
	Type MessageType `json:"type"`
}

func newMessage(t MessageType) Message {
	switch t {
	case MsgHook:
		return &HookMessage{}
	case MsgPipelineRun:
		return &PipelineRunMessage{}
	case MsgPipelineApprove:
		return &PipelineApproveMessage{}
	case MsgPipelineReject:
		return &PipelineRejectMessage{}
	case MsgPipelineStatus:
		return &PipelineStatusMessage{}
	case MsgPipelineCancel:
		return &PipelineCancelMessage{}
	case MsgPipelineList:
		return &PipelineListMessage{}
	case MsgWorkflowList:
		return &WorkflowListMessage{}
	case MsgWorkflowActivate:
		return &WorkflowActivateMessage{}
	case MsgWorkflowEnd:
		return &WorkflowEndMessage{}
	case MsgWorkflowTransition:
		return &WorkflowTransitionMessage{}
	case MsgWorkflowApprove:
		return &WorkflowApproveMessage{}
	case MsgWorkflowClear:
		return &WorkflowClearMessage{}
	case MsgSetVariable:
		return &SetVariableMessage{}
	case MsgGetState:
		return &GetStateMessage{}
	case MsgReload:
		return &ReloadMessage{}
	case MsgAck:
		return &AckMessage{}
	case MsgError:
		return &ErrorMessage{}
	case MsgHookResult:
		return &HookResultMessage{}
	case MsgExecution:
		return &ExecutionMessage{}
	case MsgExecutionList:
		return &ExecutionListMessage{}
	case MsgDefinitions:
		return &DefinitionsMessage{}
	case MsgState:
		return &StateMessage{}
	case MsgReloadResult:
		return &ReloadResultMessage{}
	}
	return nil
}

// ParseMessage parses a JSON message and returns the appropriate typed message.
// Returns an error if the message type is unknown or JSON is malformed.
func ParseMessage(data []byte) (Message, error) {
	var raw RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	msg := newMessage(raw.Type)
	if msg == nil {
		return nil, fmt.Errorf("unknown message type: %q", raw.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", raw.Type, err)
	}
	return msg, nil
}

// Marshal serializes a message to JSON as a single line (no pretty printing).
func Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
