package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gobby-stack/gobby/internal/executor"
)

// Command runs a CLI (claude -p, gemini, codex exec) as the completion
// backend. The prompt is written to stdin and also exported as GOBBY_PROMPT;
// the system prompt and tool list go in GOBBY_SYSTEM and GOBBY_TOOLS.
type Command struct {
	Script  string
	Timeout time.Duration
	Shell   *executor.ShellExecutor
}

// Complete implements Provider.
func (c *Command) Complete(ctx context.Context, req Request) (string, error) {
	shell := c.Shell
	if shell == nil {
		shell = executor.NewShellExecutor()
	}
	env := map[string]string{
		"GOBBY_PROMPT": req.Prompt,
		"GOBBY_SYSTEM": req.System,
		"GOBBY_TOOLS":  strings.Join(req.Tools, ","),
	}
	if req.Model != "" {
		env["GOBBY_MODEL"] = req.Model
	}

	res, err := shell.Run(ctx, executor.Command{
		Script:  c.Script,
		Env:     env,
		Stdin:   req.Prompt,
		Timeout: c.Timeout,
	})
	if err != nil {
		return "", fmt.Errorf("llm command: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("llm command exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Output(), nil
}
