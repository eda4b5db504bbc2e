package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/llm"
)

func registerBridgeActions(r *Registry, d *Deps) error {
	return registerAll(r, map[string]Func{
		"call_llm":      d.callLLM,
		"call_mcp_tool": d.callMCPTool,
	})
}

// bridgeFailure stores an error marker as the action's value so output_as
// records it, and lets the sequence continue.
func bridgeFailure(actx *Context, action string, err error) Result {
	actx.logger().Warn("bridge call failed", "action", action, "error", err)
	msg := err.Error()
	return Result{"value": map[string]any{"error": msg}, "error": msg}
}

func (d *Deps) callLLM(ctx context.Context, actx *Context, args Args) (Result, error) {
	prompt, err := args.Require("call_llm", "prompt")
	if err != nil {
		return nil, err
	}
	if d.LLM == nil {
		return bridgeFailure(actx, "call_llm", fmt.Errorf("llm provider not configured")), nil
	}
	text, err := d.LLM.Complete(ctx, llm.Request{
		Prompt:    prompt,
		System:    args.String("system"),
		Tools:     args.Strings("tools"),
		Model:     args.String("model"),
		MaxTokens: int64(args.Int("max_tokens", 0)),
	})
	if err != nil {
		return bridgeFailure(actx, "call_llm", err), nil
	}
	return Result{"value": strings.TrimSpace(text)}, nil
}

func (d *Deps) callMCPTool(ctx context.Context, actx *Context, args Args) (Result, error) {
	server, err := args.Require("call_mcp_tool", "server")
	if err != nil {
		return nil, err
	}
	tool, err := args.Require("call_mcp_tool", "tool")
	if err != nil {
		return nil, err
	}
	if d.MCP == nil {
		return bridgeFailure(actx, "call_mcp_tool", fmt.Errorf("mcp hub not configured")), nil
	}
	text, err := d.MCP.CallTool(ctx, server, tool, args.Map("arguments"))
	if err != nil {
		return bridgeFailure(actx, "call_mcp_tool", err), nil
	}
	return Result{"value": text}, nil
}
