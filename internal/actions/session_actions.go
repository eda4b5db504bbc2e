package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/agent"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/types"
)

func registerSessionActions(r *Registry, d *Deps) error {
	return registerAll(r, map[string]Func{
		"run_command":       d.runCommand,
		"spawn_session":     d.spawnSession,
		"activate_workflow": d.activateWorkflow,
		"end_workflow":      d.endWorkflow,
		"block_tool":        blockTool,
		"unlock_tool":       unlockTool,
	})
}

// runCommand runs a shell command in the session's working directory. A
// non-zero exit fails the action unless allow_failure is set.
func (d *Deps) runCommand(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Shell == nil {
		return nil, fmt.Errorf("shell executor not configured")
	}
	script, err := args.Require("run_command", "command")
	if err != nil {
		return nil, err
	}
	workdir := args.String("workdir")
	if workdir == "" {
		workdir = actx.workdir()
	}

	out, err := d.Shell.Run(ctx, executor.Command{
		Script:  script,
		Workdir: workdir,
		Env:     stringMap(args.Map("env")),
		Stdin:   args.String("stdin"),
		Timeout: d.ShellTimeout,
	})
	if err != nil {
		return nil, err
	}
	res := Result{"value": out.Output(), "exit_code": out.ExitCode, "stderr": out.Stderr}
	if out.ExitCode != 0 && !args.Bool("allow_failure") {
		return res, fmt.Errorf("command exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return res, nil
}

func (d *Deps) spawnSession(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Spawner == nil {
		return nil, fmt.Errorf("agent spawner not configured")
	}
	workdir := args.String("workdir")
	if workdir == "" {
		workdir = actx.workdir()
	}
	spawned, err := d.Spawner.Spawn(ctx, agent.SpawnRequest{
		CLI:           args.String("cli"),
		Prompt:        args.String("prompt"),
		Workdir:       workdir,
		ParentSession: actx.SessionID,
		Workflow:      args.String("workflow"),
		Env:           stringMap(args.Map("env")),
	})
	if err != nil {
		return nil, err
	}
	return Result{"value": spawned.Name, "cli": spawned.CLI}, nil
}

func (d *Deps) activateWorkflow(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Control == nil {
		return nil, fmt.Errorf("workflow control not configured")
	}
	name, err := args.Require("activate_workflow", "name")
	if err != nil {
		return nil, err
	}
	if err := d.Control.ActivateWorkflow(ctx, actx, name, args.String("step"), args.Map("variables")); err != nil {
		return nil, err
	}
	return Result{"value": name}, nil
}

func (d *Deps) endWorkflow(ctx context.Context, actx *Context, _ Args) (Result, error) {
	if d.Control == nil {
		return nil, fmt.Errorf("workflow control not configured")
	}
	if err := d.Control.EndWorkflow(ctx, actx); err != nil {
		return nil, err
	}
	return Result{}, nil
}

// blockTool sets the verdict for the current tool call. With a tools list
// it only applies to those tools.
func blockTool(_ context.Context, actx *Context, args Args) (Result, error) {
	tool := ""
	if actx.Event != nil {
		tool = actx.Event.ToolName
	}
	if only := args.Strings("tools"); len(only) > 0 && !containsString(only, tool) {
		return Result{"applied": false}, nil
	}

	decision := types.DecisionBlock
	if s := args.String("decision"); s != "" {
		decision = types.Decision(s)
		if !decision.Valid() {
			return nil, argError("block_tool", "decision", fmt.Sprintf("unknown decision %q", s))
		}
	}
	msg := args.String("message")
	if msg == "" {
		msg = fmt.Sprintf("%s is not allowed here", tool)
	}
	actx.output().Escalate(decision, msg)
	return Result{"applied": true, "value": string(decision)}, nil
}

// unlockTool marks a tool's schema as fetched for is_tool_unlocked.
func unlockTool(_ context.Context, actx *Context, args Args) (Result, error) {
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}
	tool := args.String("tool")
	if tool == "" && actx.Event != nil {
		tool = actx.Event.ToolName
	}
	if tool == "" {
		return nil, argError("unlock_tool", "tool", "is required")
	}
	actx.State.UnlockTool(tool)
	return Result{"value": tool}, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
