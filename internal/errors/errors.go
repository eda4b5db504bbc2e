// Package errors provides structured error types for Gobby.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for Gobby operations.
const (
	// Config errors
	CodeConfigMissingField = "CONFIG_001" // Missing required field
	CodeConfigInvalidValue = "CONFIG_002" // Invalid value

	// Definition errors
	CodeDefinitionParse      = "DEF_001" // YAML could not be parsed
	CodeDefinitionInvalid    = "DEF_002" // Schema validation failed
	CodeDefinitionCycle      = "DEF_003" // Circular extends or invoke_pipeline
	CodeDefinitionNotFound   = "DEF_004" // Unknown definition name
	CodeDefinitionUnknownRef = "DEF_005" // Unknown step, action or parent reference
	CodeDefinitionWrongType  = "DEF_006" // Definition has the wrong type for the operation

	// Evaluation errors
	CodeEvalParse   = "EVAL_001" // Malformed expression
	CodeEvalRuntime = "EVAL_002" // Type error during evaluation

	// Action errors
	CodeActionUnknown = "ACTION_001" // Unknown action name
	CodeActionFailed  = "ACTION_002" // Action returned an error
	CodeActionTimeout = "ACTION_003" // Action exceeded its timeout
	CodeActionPanic   = "ACTION_004" // Action panicked
	CodeActionArgs    = "ACTION_005" // Missing or invalid argument

	// Step machine errors
	CodeStepNotFound     = "STEP_001" // Unknown step name
	CodeStepExitBlocked  = "STEP_002" // Exit conditions not met
	CodeStepNoActive     = "STEP_003" // No active step workflow
	CodeStepSlotOccupied = "STEP_004" // Another step or pipeline workflow is active
	CodeStepEnterFailed  = "STEP_005" // on_enter or on_exit failed

	// Pipeline errors
	CodePipelineNotFound    = "PIPE_001" // Execution not found
	CodePipelineStepFailed  = "PIPE_002" // A step failed
	CodePipelineTerminal    = "PIPE_003" // Execution already terminal
	CodePipelineDepth       = "PIPE_004" // invoke_pipeline nesting too deep
	CodePipelineInvalidFlow = "PIPE_005" // Invalid status transition

	// Approval errors
	CodeApprovalNotFound = "APPROVAL_001" // Unknown or consumed token
	CodeApprovalExpired  = "APPROVAL_002" // Token expired

	// State errors
	CodeStateLocked = "STATE_001" // Lock held by another process
	CodeStateRead   = "STATE_002" // Read failure
	CodeStateWrite  = "STATE_003" // Write failure
)

// GobbyError is the structured error type for Gobby operations.
type GobbyError struct {
	Code    string         `json:"code"`              // Error code (e.g., "DEF_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (workflow, step, token...)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *GobbyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *GobbyError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *GobbyError) WithDetail(key string, value any) *GobbyError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *GobbyError) WithCause(err error) *GobbyError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *GobbyError) MarshalJSON() ([]byte, error) {
	type alias GobbyError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new GobbyError.
func New(code, message string) *GobbyError {
	return &GobbyError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new GobbyError with formatted message.
func Newf(code, format string, args ...any) *GobbyError {
	return &GobbyError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a GobbyError.
func Wrap(code, message string, err error) *GobbyError {
	return &GobbyError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted GobbyError.
func Wrapf(code string, err error, format string, args ...any) *GobbyError {
	return &GobbyError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- Config Errors ---

// ConfigMissingField creates an error for missing config field.
func ConfigMissingField(field string) *GobbyError {
	return Newf(CodeConfigMissingField, "missing required config field: %s", field).
		WithDetail("field", field)
}

// ConfigInvalidValue creates an error for invalid config value.
func ConfigInvalidValue(field string, value any, reason string) *GobbyError {
	return Newf(CodeConfigInvalidValue, "invalid config value for %s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// --- Definition Errors ---

// DefinitionParse creates an error for an unparseable definition file.
func DefinitionParse(source string, err error) *GobbyError {
	return Wrap(CodeDefinitionParse, "failed to parse definition", err).
		WithDetail("source", source)
}

// DefinitionInvalid creates a schema validation error.
func DefinitionInvalid(name, reason string) *GobbyError {
	return Newf(CodeDefinitionInvalid, "definition %s is invalid: %s", name, reason).
		WithDetail("definition", name).
		WithDetail("reason", reason)
}

// DefinitionCycle creates an error for circular inheritance or invocation.
func DefinitionCycle(name string, chain []string) *GobbyError {
	return Newf(CodeDefinitionCycle, "cycle detected in definition %s", name).
		WithDetail("definition", name).
		WithDetail("chain", chain)
}

// DefinitionNotFound creates an error for an unknown definition.
func DefinitionNotFound(name string) *GobbyError {
	return Newf(CodeDefinitionNotFound, "definition not found: %s", name).
		WithDetail("definition", name)
}

// DefinitionUnknownRef creates an error for a reference to something that does not exist.
func DefinitionUnknownRef(name, kind, ref string) *GobbyError {
	return Newf(CodeDefinitionUnknownRef, "definition %s references unknown %s %q", name, kind, ref).
		WithDetail("definition", name).
		WithDetail("kind", kind).
		WithDetail("ref", ref)
}

// DefinitionWrongType creates an error when a definition is used as the wrong type.
func DefinitionWrongType(name, want, got string) *GobbyError {
	return Newf(CodeDefinitionWrongType, "definition %s has type %s, want %s", name, got, want).
		WithDetail("definition", name).
		WithDetail("want", want).
		WithDetail("got", got)
}

// --- Evaluation Errors ---

// EvalParse creates an error for a malformed expression.
func EvalParse(expr string, pos int, reason string) *GobbyError {
	return Newf(CodeEvalParse, "parse error at %d: %s", pos, reason).
		WithDetail("expression", expr).
		WithDetail("position", pos)
}

// EvalRuntime creates an error for an evaluation-time failure.
func EvalRuntime(expr, reason string) *GobbyError {
	return Newf(CodeEvalRuntime, "evaluation error: %s", reason).
		WithDetail("expression", expr)
}

// --- Action Errors ---

// ActionUnknown creates an error for an unregistered action.
func ActionUnknown(action string) *GobbyError {
	return Newf(CodeActionUnknown, "unknown action: %s", action).
		WithDetail("action", action)
}

// ActionFailed wraps an action failure.
func ActionFailed(action string, err error) *GobbyError {
	return Wrap(CodeActionFailed, "action "+action+" failed", err).
		WithDetail("action", action)
}

// ActionTimeout creates an error for an action that exceeded its deadline.
func ActionTimeout(action string, timeout any) *GobbyError {
	return Newf(CodeActionTimeout, "action %s timed out after %v", action, timeout).
		WithDetail("action", action).
		WithDetail("timeout", timeout)
}

// ActionPanic creates an error for a recovered panic.
func ActionPanic(action string, recovered any) *GobbyError {
	return Newf(CodeActionPanic, "action %s panicked: %v", action, recovered).
		WithDetail("action", action)
}

// ActionArgs creates an error for a missing or invalid action argument.
func ActionArgs(action, arg, reason string) *GobbyError {
	return Newf(CodeActionArgs, "action %s: argument %s %s", action, arg, reason).
		WithDetail("action", action).
		WithDetail("arg", arg)
}

// --- Step Errors ---

// StepNotFound creates an error for an unknown step.
func StepNotFound(workflow, step string) *GobbyError {
	return Newf(CodeStepNotFound, "workflow %s has no step %s", workflow, step).
		WithDetail("workflow", workflow).
		WithDetail("step", step)
}

// StepExitBlocked creates an error when exit conditions do not hold.
func StepExitBlocked(step string, unmet []string) *GobbyError {
	return Newf(CodeStepExitBlocked, "exit conditions for step %s not met", step).
		WithDetail("step", step).
		WithDetail("unmet", unmet)
}

// StepNoActive creates an error when a session has no active step workflow.
func StepNoActive(sessionID string) *GobbyError {
	return Newf(CodeStepNoActive, "session %s has no active workflow", sessionID).
		WithDetail("session_id", sessionID)
}

// StepSlotOccupied creates an error when the single workflow slot is taken.
func StepSlotOccupied(sessionID, active string) *GobbyError {
	return Newf(CodeStepSlotOccupied, "session %s already has active workflow %s", sessionID, active).
		WithDetail("session_id", sessionID).
		WithDetail("active", active)
}

// StepEnterFailed wraps an on_enter or on_exit failure.
func StepEnterFailed(step string, err error) *GobbyError {
	return Wrap(CodeStepEnterFailed, "entering step "+step+" failed", err).
		WithDetail("step", step)
}

// --- Pipeline Errors ---

// PipelineNotFound creates an error for an unknown execution.
func PipelineNotFound(executionID string) *GobbyError {
	return Newf(CodePipelineNotFound, "execution not found: %s", executionID).
		WithDetail("execution_id", executionID)
}

// PipelineStepFailed wraps a step failure.
func PipelineStepFailed(executionID, stepID string, err error) *GobbyError {
	return Wrap(CodePipelineStepFailed, "step "+stepID+" failed", err).
		WithDetail("execution_id", executionID).
		WithDetail("step_id", stepID)
}

// PipelineTerminal creates an error for an operation on a finished execution.
func PipelineTerminal(executionID, status string) *GobbyError {
	return Newf(CodePipelineTerminal, "execution %s is already %s", executionID, status).
		WithDetail("execution_id", executionID).
		WithDetail("status", status)
}

// PipelineDepth creates an error for runaway nested invocation.
func PipelineDepth(pipeline string, depth int) *GobbyError {
	return Newf(CodePipelineDepth, "pipeline %s exceeds max nesting depth %d", pipeline, depth).
		WithDetail("pipeline", pipeline).
		WithDetail("depth", depth)
}

// PipelineInvalidTransition creates an error for an illegal status change.
func PipelineInvalidTransition(executionID, from, to string) *GobbyError {
	return Newf(CodePipelineInvalidFlow, "invalid status transition for execution %s: %s -> %s", executionID, from, to).
		WithDetail("execution_id", executionID).
		WithDetail("from", from).
		WithDetail("to", to)
}

// --- Approval Errors ---

// ApprovalNotFound creates an error for an unknown or consumed token.
func ApprovalNotFound(token string) *GobbyError {
	return New(CodeApprovalNotFound, "no pending approval for token").
		WithDetail("token", token)
}

// ApprovalExpired creates an error for an expired token.
func ApprovalExpired(token string) *GobbyError {
	return New(CodeApprovalExpired, "approval token expired").
		WithDetail("token", token)
}

// --- State Errors ---

// StateLocked creates an error when a session lock is held elsewhere.
func StateLocked(sessionID string) *GobbyError {
	return Newf(CodeStateLocked, "session %s state is locked by another process", sessionID).
		WithDetail("session_id", sessionID)
}

// StateRead wraps a state read failure.
func StateRead(path string, err error) *GobbyError {
	return Wrap(CodeStateRead, "failed to read state", err).
		WithDetail("path", path)
}

// StateWrite wraps a state write failure.
func StateWrite(path string, err error) *GobbyError {
	return Wrap(CodeStateWrite, "failed to write state", err).
		WithDetail("path", path)
}

// HasCode checks if an error is a GobbyError with the given code.
// It handles wrapped errors by unwrapping to find a GobbyError.
func HasCode(err error, code string) bool {
	var gerr *GobbyError
	if errors.As(err, &gerr) {
		return gerr.Code == code
	}
	return false
}

// Code returns the error code if err is a GobbyError, empty string otherwise.
func Code(err error) string {
	var gerr *GobbyError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return ""
}
