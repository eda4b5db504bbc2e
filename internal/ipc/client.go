package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

const dialTimeout = 5 * time.Second

// Client connects to the daemon's IPC socket. One connection is used per
// request.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

// SetTimeout bounds each request. Zero means wait as long as the context
// allows.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Path returns the socket path the client dials.
func (c *Client) Path() string {
	return c.socketPath
}

// Send sends a message and waits for the response. An *ErrorMessage
// response is returned as an error; coded errors keep their code.
func (c *Client) Send(ctx context.Context, msg Message) (Message, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IPC socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if dl, ok := ctx.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	data, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	responseLine, err := readLine(bufio.NewReaderSize(conn, 64*1024))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	response, err := ParseMessage(responseLine)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if e, ok := response.(*ErrorMessage); ok {
		return nil, e.Err()
	}
	return response, nil
}

// Err converts the message into an error.
func (m *ErrorMessage) Err() error {
	if m.Code != "" {
		return gerrors.New(m.Code, m.Message)
	}
	return fmt.Errorf("server error: %s", m.Message)
}

func expect[T Message](resp Message, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: %s", resp.MessageType())
	}
	return typed, nil
}

// Hook sends a hook event and returns the verdict.
func (c *Client) Hook(ctx context.Context, ev *types.HookEvent) (*types.HookResponse, error) {
	r, err := expect[*HookResultMessage](c.Send(ctx, &HookMessage{Type: MsgHook, Event: *ev}))
	if err != nil {
		return nil, err
	}
	return &r.Response, nil
}

// RunPipeline starts a pipeline execution.
func (c *Client) RunPipeline(ctx context.Context, msg *PipelineRunMessage) (*types.Execution, error) {
	msg.Type = MsgPipelineRun
	return c.execution(ctx, msg)
}

// ApprovePipeline resumes a paused execution.
func (c *Client) ApprovePipeline(ctx context.Context, token string) (*types.Execution, error) {
	return c.execution(ctx, &PipelineApproveMessage{Type: MsgPipelineApprove, Token: token})
}

// RejectPipeline cancels a paused execution.
func (c *Client) RejectPipeline(ctx context.Context, token, reason string) (*types.Execution, error) {
	return c.execution(ctx, &PipelineRejectMessage{Type: MsgPipelineReject, Token: token, Reason: reason})
}

// PipelineStatus returns one execution.
func (c *Client) PipelineStatus(ctx context.Context, executionID string) (*types.Execution, error) {
	return c.execution(ctx, &PipelineStatusMessage{Type: MsgPipelineStatus, ExecutionID: executionID})
}

// CancelPipeline cancels a running or paused execution.
func (c *Client) CancelPipeline(ctx context.Context, executionID string) (*types.Execution, error) {
	return c.execution(ctx, &PipelineCancelMessage{Type: MsgPipelineCancel, ExecutionID: executionID})
}

func (c *Client) execution(ctx context.Context, msg Message) (*types.Execution, error) {
	r, err := expect[*ExecutionMessage](c.Send(ctx, msg))
	if err != nil {
		return nil, err
	}
	return r.Execution, nil
}

// ListPipelines lists executions.
func (c *Client) ListPipelines(ctx context.Context, f types.ExecutionFilter) ([]*types.Execution, error) {
	r, err := expect[*ExecutionListMessage](c.Send(ctx, &PipelineListMessage{
		Type:      MsgPipelineList,
		Status:    string(f.Status),
		SessionID: f.SessionID,
		Pipeline:  f.Pipeline,
	}))
	if err != nil {
		return nil, err
	}
	return r.Executions, nil
}

// ListDefinitions lists loaded definitions of one type, or all when empty.
func (c *Client) ListDefinitions(ctx context.Context, defType string) ([]DefinitionSummary, error) {
	r, err := expect[*DefinitionsMessage](c.Send(ctx, &WorkflowListMessage{Type: MsgWorkflowList, DefinitionType: defType}))
	if err != nil {
		return nil, err
	}
	return r.Definitions, nil
}

// SessionRequest sends a session-scoped workflow request and returns the
// resulting state. msg must be one of the workflow_* or set_variable or
// get_state messages with its Type set.
func (c *Client) SessionRequest(ctx context.Context, msg Message) (*types.SessionWorkflowState, error) {
	r, err := expect[*StateMessage](c.Send(ctx, msg))
	if err != nil {
		return nil, err
	}
	return r.State, nil
}

// Reload asks the daemon to reload definitions.
func (c *Client) Reload(ctx context.Context) (*ReloadResultMessage, error) {
	return expect[*ReloadResultMessage](c.Send(ctx, &ReloadMessage{Type: MsgReload}))
}
