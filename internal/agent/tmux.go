// Package agent spawns AI coding-CLI sessions in detached tmux sessions.
package agent

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// Runner executes tmux with args and returns combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func execTmux(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "tmux", args...).CombinedOutput()
}

// Tmux wraps the tmux CLI.
type Tmux struct {
	run            Runner
	defaultTimeout time.Duration
}

// NewTmux creates a wrapper around the tmux binary.
func NewTmux() *Tmux {
	return &Tmux{run: execTmux, defaultTimeout: 5 * time.Second}
}

// SessionOptions configures session creation.
type SessionOptions struct {
	Name    string            // Session name (required)
	Workdir string            // Working directory for the session
	Env     map[string]string // Environment variables to set
	Width   int               // Terminal width (default: 200)
	Height  int               // Terminal height (default: 50)
	Command string            // Initial command to run in the session
}

// NewSession creates a detached session.
// Returns an error if a session with the same name already exists.
func (t *Tmux) NewSession(ctx context.Context, opts SessionOptions) error {
	if opts.Name == "" {
		return fmt.Errorf("session name is required")
	}
	if t.SessionExists(ctx, opts.Name) {
		return fmt.Errorf("session %s already exists", opts.Name)
	}

	width := opts.Width
	if width == 0 {
		width = 200
	}
	height := opts.Height
	if height == 0 {
		height = 50
	}
	args := []string{
		"new-session",
		"-d", // Detached
		"-s", opts.Name,
		"-x", fmt.Sprintf("%d", width),
		"-y", fmt.Sprintf("%d", height),
	}
	if opts.Workdir != "" {
		args = append(args, "-c", opts.Workdir)
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}

	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if output, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("creating tmux session: %w: %s", err, output)
	}
	return nil
}

// KillSession terminates a session. Killing a missing session is not an error.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("session name is required")
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	output, err := t.run(ctx, "kill-session", "-t", name)
	if err != nil {
		if strings.Contains(string(output), "session not found") ||
			strings.Contains(string(output), "can't find session") ||
			strings.Contains(string(output), "no server running") {
			return nil
		}
		return fmt.Errorf("killing tmux session: %w: %s", err, output)
	}
	return nil
}

// SessionExists checks if a session exists.
func (t *Tmux) SessionExists(ctx context.Context, name string) bool {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	_, err := t.run(ctx, "has-session", "-t", name)
	return err == nil
}

func (t *Tmux) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.defaultTimeout)
}
