// Package workspace is a compiled-in plugin exposing git working-tree
// queries to workflows as plugin:workspace:<action>.
package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/executor"
)

// Name is the plugin name manifests enable.
const Name = "workspace"

// Plugin implements actions.Plugin.
type Plugin struct{}

// New returns the workspace plugin.
func New() *Plugin { return &Plugin{} }

// Name implements actions.Plugin.
func (*Plugin) Name() string { return Name }

// Register implements actions.Plugin.
func (*Plugin) Register(r *actions.PluginRegistrar) error {
	shell := r.Deps().Shell
	if shell == nil {
		return fmt.Errorf("workspace plugin needs a shell executor")
	}
	if err := r.Action("git_status", gitStatus(shell)); err != nil {
		return err
	}
	return r.Action("changed_files", changedFiles(shell))
}

// gitStatus reports the porcelain status and whether the tree is clean.
func gitStatus(shell *executor.ShellExecutor) actions.Func {
	return func(ctx context.Context, actx *actions.Context, args actions.Args) (actions.Result, error) {
		out, err := git(ctx, shell, workdir(actx, args), "git status --porcelain")
		if err != nil {
			return nil, err
		}
		return actions.Result{"value": out, "clean": out == ""}, nil
	}
}

// changedFiles lists paths changed relative to a base ref (default HEAD).
func changedFiles(shell *executor.ShellExecutor) actions.Func {
	return func(ctx context.Context, actx *actions.Context, args actions.Args) (actions.Result, error) {
		base := args.String("base")
		if base == "" {
			base = "HEAD"
		}
		out, err := git(ctx, shell, workdir(actx, args), "git diff --name-only "+condition.ShellEscape(base))
		if err != nil {
			return nil, err
		}
		var files []any
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}
		return actions.Result{"value": files, "count": len(files)}, nil
	}
}

func git(ctx context.Context, shell *executor.ShellExecutor, dir, script string) (string, error) {
	res, err := shell.Run(ctx, executor.Command{Script: script, Workdir: dir})
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s: exit %d: %s", script, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

func workdir(actx *actions.Context, args actions.Args) string {
	if d := args.String("workdir"); d != "" {
		return d
	}
	if actx.Workdir != "" {
		return actx.Workdir
	}
	if actx.Event != nil {
		return actx.Event.Cwd
	}
	return ""
}
