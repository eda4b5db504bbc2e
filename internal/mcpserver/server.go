// Package mcpserver exposes the daemon's control surface as MCP tools so an
// agent can run pipelines, answer approvals and steer its own workflow.
// Every call is proxied to the daemon over the IPC socket.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/types"
)

// Backend is the daemon client the tools call. *ipc.Client implements it.
type Backend interface {
	RunPipeline(ctx context.Context, msg *ipc.PipelineRunMessage) (*types.Execution, error)
	ApprovePipeline(ctx context.Context, token string) (*types.Execution, error)
	RejectPipeline(ctx context.Context, token, reason string) (*types.Execution, error)
	PipelineStatus(ctx context.Context, executionID string) (*types.Execution, error)
	CancelPipeline(ctx context.Context, executionID string) (*types.Execution, error)
	ListPipelines(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error)
	ListDefinitions(ctx context.Context, defType string) ([]ipc.DefinitionSummary, error)
	SessionRequest(ctx context.Context, msg ipc.Message) (*types.SessionWorkflowState, error)
	Reload(ctx context.Context) (*ipc.ReloadResultMessage, error)
}

var _ Backend = (*ipc.Client)(nil)

// Server is the MCP tool server.
type Server struct {
	backend Backend
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// New creates the server and registers its tools.
func New(backend Backend, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		logger:  logger.With("component", "mcp"),
		mcp:     server.NewMCPServer("gobby", version, server.WithToolCapabilities(true)),
	}
	s.registerPipelineTools()
	s.registerWorkflowTools()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerPipelineTools() {
	s.mcp.AddTool(mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run a pipeline. Returns the execution; a run that reaches an approval gate returns with status waiting_approval and a resume token."),
		mcp.WithString("pipeline", mcp.Required(), mcp.Description("Pipeline name")),
		mcp.WithObject("inputs", mcp.Description("Pipeline inputs")),
		mcp.WithString("session_id", mcp.Description("Bind the run to this session's workflow slot")),
		mcp.WithString("workdir", mcp.Description("Working directory for exec steps")),
	), s.runPipeline)

	s.mcp.AddTool(mcp.NewTool("approve_pipeline",
		mcp.WithDescription("Approve a paused pipeline and resume it"),
		mcp.WithString("token", mcp.Required(), mcp.Description("Resume token from the paused execution")),
	), s.approvePipeline)

	s.mcp.AddTool(mcp.NewTool("reject_pipeline",
		mcp.WithDescription("Reject a paused pipeline; the execution is cancelled"),
		mcp.WithString("token", mcp.Required(), mcp.Description("Resume token from the paused execution")),
		mcp.WithString("reason", mcp.Description("Why the step was rejected")),
	), s.rejectPipeline)

	s.mcp.AddTool(mcp.NewTool("pipeline_status",
		mcp.WithDescription("Get a pipeline execution with its step results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution ID")),
	), s.pipelineStatus)

	s.mcp.AddTool(mcp.NewTool("cancel_pipeline",
		mcp.WithDescription("Cancel a running or paused pipeline execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution ID")),
	), s.cancelPipeline)

	s.mcp.AddTool(mcp.NewTool("list_pipelines",
		mcp.WithDescription("List pipeline executions"),
		mcp.WithString("status", mcp.Description("Filter by status"),
			mcp.Enum("running", "waiting_approval", "completed", "failed", "cancelled")),
		mcp.WithString("session_id", mcp.Description("Filter by session")),
		mcp.WithString("pipeline", mcp.Description("Filter by pipeline name")),
	), s.listPipelines)
}

func (s *Server) registerWorkflowTools() {
	s.mcp.AddTool(mcp.NewTool("list_definitions",
		mcp.WithDescription("List loaded workflow and pipeline definitions"),
		mcp.WithString("type", mcp.Description("Filter by definition type"),
			mcp.Enum("lifecycle", "step", "pipeline")),
	), s.listDefinitions)

	s.mcp.AddTool(mcp.NewTool("reload_definitions",
		mcp.WithDescription("Reload definitions from disk; invalid files keep their previous version"),
	), s.reload)

	s.mcp.AddTool(mcp.NewTool("get_workflow_state",
		mcp.WithDescription("Get a session's workflow state"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.getState)

	s.mcp.AddTool(mcp.NewTool("activate_workflow",
		mcp.WithDescription("Activate a step workflow for a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Step workflow name")),
		mcp.WithString("step", mcp.Description("Initial step; defaults to the first")),
		mcp.WithObject("variables", mcp.Description("Initial session variables")),
	), s.activate)

	s.mcp.AddTool(mcp.NewTool("end_workflow",
		mcp.WithDescription("End the session's active workflow"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.end)

	s.mcp.AddTool(mcp.NewTool("transition_step",
		mcp.WithDescription("Move the active step workflow to another step"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("to", mcp.Required(), mcp.Description("Target step")),
		mcp.WithBoolean("force", mcp.Description("Skip exit conditions")),
	), s.transition)

	s.mcp.AddTool(mcp.NewTool("approve_step",
		mcp.WithDescription("Record user approval for the current step"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.approveStep)

	s.mcp.AddTool(mcp.NewTool("set_variable",
		mcp.WithDescription("Set a session variable"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Variable name")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value; text that is not JSON is stored as a string")),
	), s.setVariable)
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func objectArg(req mcp.CallToolRequest, key string) map[string]any {
	m, _ := req.GetArguments()[key].(map[string]any)
	return m
}

func (s *Server) runPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("pipeline")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Debug("run_pipeline", "pipeline", name)
	return jsonResult(s.backend.RunPipeline(ctx, &ipc.PipelineRunMessage{
		Type:      ipc.MsgPipelineRun,
		Pipeline:  name,
		Inputs:    objectArg(req, "inputs"),
		SessionID: req.GetString("session_id", ""),
		Workdir:   req.GetString("workdir", ""),
	}))
}

func (s *Server) approvePipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.backend.ApprovePipeline(ctx, token))
}

func (s *Server) rejectPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.backend.RejectPipeline(ctx, token, req.GetString("reason", "")))
}

func (s *Server) pipelineStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.backend.PipelineStatus(ctx, id))
}

func (s *Server) cancelPipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.backend.CancelPipeline(ctx, id))
}

func (s *Server) listPipelines(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.backend.ListPipelines(ctx, types.ExecutionFilter{
		Status:    types.ExecutionStatus(req.GetString("status", "")),
		SessionID: req.GetString("session_id", ""),
		Pipeline:  req.GetString("pipeline", ""),
	}))
}

func (s *Server) listDefinitions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.backend.ListDefinitions(ctx, req.GetString("type", "")))
}

func (s *Server) reload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.backend.Reload(ctx))
}

// sessionTool runs a session request built from the required session_id.
func (s *Server) sessionTool(ctx context.Context, req mcp.CallToolRequest, build func(sessionID string) (ipc.Message, error)) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := build(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.backend.SessionRequest(ctx, msg))
}

func (s *Server) getState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		return &ipc.GetStateMessage{Type: ipc.MsgGetState, SessionID: id}, nil
	})
}

func (s *Server) activate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		name, err := req.RequireString("workflow")
		if err != nil {
			return nil, err
		}
		return &ipc.WorkflowActivateMessage{
			Type:      ipc.MsgWorkflowActivate,
			SessionID: id,
			Workflow:  name,
			Step:      req.GetString("step", ""),
			Variables: objectArg(req, "variables"),
		}, nil
	})
}

func (s *Server) end(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		return &ipc.WorkflowEndMessage{Type: ipc.MsgWorkflowEnd, SessionID: id}, nil
	})
}

func (s *Server) transition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		to, err := req.RequireString("to")
		if err != nil {
			return nil, err
		}
		return &ipc.WorkflowTransitionMessage{
			Type:      ipc.MsgWorkflowTransition,
			SessionID: id,
			To:        to,
			Force:     req.GetBool("force", false),
		}, nil
	})
}

func (s *Server) approveStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		return &ipc.WorkflowApproveMessage{Type: ipc.MsgWorkflowApprove, SessionID: id}, nil
	})
}

func (s *Server) setVariable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.sessionTool(ctx, req, func(id string) (ipc.Message, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return nil, err
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return nil, err
		}
		return &ipc.SetVariableMessage{
			Type:      ipc.MsgSetVariable,
			SessionID: id,
			Name:      name,
			Value:     ParseValue(raw),
		}, nil
	})
}

// ParseValue decodes raw as JSON, falling back to the raw string.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
