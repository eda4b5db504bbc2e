package daemon

import (
	"context"
	"strings"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/pipeline"
	"github.com/gobby-stack/gobby/internal/types"
)

// Handler serves IPC requests from the Service.
type Handler struct {
	svc *Service
}

var _ ipc.Handler = (*Handler)(nil)

// errorMessage carries the error code separately; the client rebuilds the
// coded error, so the "[CODE] " prefix is stripped from the text.
func errorMessage(err error) ipc.Message {
	code := gerrors.Code(err)
	msg := err.Error()
	if code != "" {
		msg = strings.TrimPrefix(msg, "["+code+"] ")
	}
	return &ipc.ErrorMessage{Type: ipc.MsgError, Message: msg, Code: code}
}

func executionResult(exec *types.Execution, err error) ipc.Message {
	if err != nil {
		return errorMessage(err)
	}
	return &ipc.ExecutionMessage{Type: ipc.MsgExecution, Execution: exec}
}

func stateResult(st *types.SessionWorkflowState, err error) ipc.Message {
	if err != nil {
		return errorMessage(err)
	}
	return &ipc.StateMessage{Type: ipc.MsgState, State: st}
}

func (h *Handler) HandleHook(ctx context.Context, msg *ipc.HookMessage) ipc.Message {
	resp, err := h.svc.HandleHook(ctx, &msg.Event)
	if err != nil {
		return errorMessage(err)
	}
	return &ipc.HookResultMessage{Type: ipc.MsgHookResult, Response: *resp}
}

func (h *Handler) HandlePipelineRun(ctx context.Context, msg *ipc.PipelineRunMessage) ipc.Message {
	return executionResult(h.svc.RunPipeline(ctx, pipeline.RunRequest{
		Pipeline:  msg.Pipeline,
		Inputs:    msg.Inputs,
		SessionID: msg.SessionID,
		Workdir:   msg.Workdir,
	}))
}

func (h *Handler) HandlePipelineApprove(ctx context.Context, msg *ipc.PipelineApproveMessage) ipc.Message {
	return executionResult(h.svc.ApprovePipeline(ctx, msg.Token))
}

func (h *Handler) HandlePipelineReject(ctx context.Context, msg *ipc.PipelineRejectMessage) ipc.Message {
	return executionResult(h.svc.RejectPipeline(ctx, msg.Token, msg.Reason))
}

func (h *Handler) HandlePipelineStatus(ctx context.Context, msg *ipc.PipelineStatusMessage) ipc.Message {
	return executionResult(h.svc.PipelineStatus(ctx, msg.ExecutionID))
}

func (h *Handler) HandlePipelineCancel(ctx context.Context, msg *ipc.PipelineCancelMessage) ipc.Message {
	return executionResult(h.svc.CancelPipeline(ctx, msg.ExecutionID))
}

func (h *Handler) HandlePipelineList(ctx context.Context, msg *ipc.PipelineListMessage) ipc.Message {
	execs, err := h.svc.ListPipelines(ctx, types.ExecutionFilter{
		Status:    types.ExecutionStatus(msg.Status),
		SessionID: msg.SessionID,
		Pipeline:  msg.Pipeline,
	})
	if err != nil {
		return errorMessage(err)
	}
	return &ipc.ExecutionListMessage{Type: ipc.MsgExecutionList, Executions: execs}
}

func (h *Handler) HandleWorkflowList(ctx context.Context, msg *ipc.WorkflowListMessage) ipc.Message {
	return &ipc.DefinitionsMessage{Type: ipc.MsgDefinitions, Definitions: h.svc.Definitions(types.DefinitionType(msg.DefinitionType))}
}

func (h *Handler) HandleWorkflowActivate(ctx context.Context, msg *ipc.WorkflowActivateMessage) ipc.Message {
	return stateResult(h.svc.ActivateWorkflow(ctx, msg.SessionID, msg.Workflow, msg.Step, msg.Variables))
}

func (h *Handler) HandleWorkflowEnd(ctx context.Context, msg *ipc.WorkflowEndMessage) ipc.Message {
	return stateResult(h.svc.EndWorkflow(ctx, msg.SessionID))
}

func (h *Handler) HandleWorkflowTransition(ctx context.Context, msg *ipc.WorkflowTransitionMessage) ipc.Message {
	return stateResult(h.svc.Transition(ctx, msg.SessionID, msg.To, msg.Force))
}

func (h *Handler) HandleWorkflowApprove(ctx context.Context, msg *ipc.WorkflowApproveMessage) ipc.Message {
	return stateResult(h.svc.ApproveStep(ctx, msg.SessionID))
}

func (h *Handler) HandleWorkflowClear(ctx context.Context, msg *ipc.WorkflowClearMessage) ipc.Message {
	return stateResult(h.svc.ForceClear(ctx, msg.SessionID))
}

func (h *Handler) HandleSetVariable(ctx context.Context, msg *ipc.SetVariableMessage) ipc.Message {
	return stateResult(h.svc.SetVariable(ctx, msg.SessionID, msg.Name, msg.Value))
}

func (h *Handler) HandleGetState(ctx context.Context, msg *ipc.GetStateMessage) ipc.Message {
	return stateResult(h.svc.SessionState(ctx, msg.SessionID))
}

func (h *Handler) HandleReload(ctx context.Context, msg *ipc.ReloadMessage) ipc.Message {
	rep, err := h.svc.Reload(ctx)
	if err != nil {
		return errorMessage(err)
	}
	return &ipc.ReloadResultMessage{
		Type:     ipc.MsgReloadResult,
		Loaded:   rep.Loaded,
		Kept:     rep.Kept,
		Rejected: rep.Rejected,
	}
}
