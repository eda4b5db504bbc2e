// Package executor provides shell command execution with cancellation support.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Command is one shell invocation.
type Command struct {
	Script  string
	Workdir string
	Env     map[string]string
	Stdin   string
	Timeout time.Duration // Zero means the executor default
}

// Result is the outcome of a finished command.
type Result struct {
	ExitCode int    `json:"exit_code"` // -1 if killed or not started
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Output returns stdout with one trailing newline removed.
func (r *Result) Output() string {
	return strings.TrimSuffix(r.Stdout, "\n")
}

// ShellExecutor executes shell commands with context cancellation.
type ShellExecutor struct {
	// DefaultShell is the shell used to execute commands.
	// Defaults to "/bin/sh".
	DefaultShell string

	// DefaultTimeout bounds commands that set no timeout. Zero means none.
	DefaultTimeout time.Duration

	// KillGrace is how long to wait after SIGTERM before SIGKILL.
	KillGrace time.Duration
}

// NewShellExecutor creates a new ShellExecutor with default settings.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{
		DefaultShell: "/bin/sh",
		KillGrace:    3 * time.Second,
	}
}

// Run executes the command and captures its output.
// When the context is cancelled or the timeout expires the whole process
// group is terminated (SIGTERM, then SIGKILL after KillGrace) and the
// context error is returned alongside the partial result.
//
// A non-zero exit is not an error; callers inspect Result.ExitCode.
func (e *ShellExecutor) Run(ctx context.Context, c Command) (*Result, error) {
	if strings.TrimSpace(c.Script) == "" {
		return nil, fmt.Errorf("command is empty")
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = e.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell := e.DefaultShell
	if shell == "" {
		shell = "/bin/sh"
	}

	// Not CommandContext: cancellation is handled manually to allow SIGTERM first.
	cmd := exec.Command(shell, "-c", c.Script)
	if c.Workdir != "" {
		cmd.Dir = c.Workdir
	}
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(c.Env)...)
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so we can kill the entire tree
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return &Result{ExitCode: -1}, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	grace := e.KillGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}

	var exitCode int
	var execErr error

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(grace):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		exitCode = -1
		execErr = ctx.Err()

	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				execErr = err
			}
		}
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, execErr
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
