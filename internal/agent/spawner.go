package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CLI commands used to start an interactive session with an initial prompt.
// The prompt is appended as a single shell-quoted argument.
var cliCommands = map[string]string{
	"claude": "claude",
	"gemini": "gemini -i",
	"codex":  "codex",
}

// SpawnRequest describes a child session.
type SpawnRequest struct {
	CLI           string // claude, gemini or codex
	Prompt        string
	Workdir       string
	ParentSession string
	Workflow      string // Step workflow the child should activate on start
	Env           map[string]string
}

// Spawned identifies a started session.
type Spawned struct {
	Name    string `json:"name"`
	CLI     string `json:"cli"`
	Command string `json:"command"`
}

// Spawner starts agent sessions.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (*Spawned, error)
}

// TmuxSpawner runs each agent in its own detached tmux session.
type TmuxSpawner struct {
	Tmux   *Tmux
	Prefix string
}

// NewTmuxSpawner creates a spawner using the system tmux.
func NewTmuxSpawner() *TmuxSpawner {
	return &TmuxSpawner{Tmux: NewTmux(), Prefix: "gobby-"}
}

// Spawn implements Spawner.
func (s *TmuxSpawner) Spawn(ctx context.Context, req SpawnRequest) (*Spawned, error) {
	cli := req.CLI
	if cli == "" {
		cli = "claude"
	}
	base, ok := cliCommands[cli]
	if !ok {
		return nil, fmt.Errorf("unknown cli %q", cli)
	}
	command := base
	if req.Prompt != "" {
		command += " " + shellQuote(req.Prompt)
	}

	env := make(map[string]string, len(req.Env)+2)
	for k, v := range req.Env {
		env[k] = v
	}
	if req.ParentSession != "" {
		env["GOBBY_PARENT_SESSION"] = req.ParentSession
	}
	if req.Workflow != "" {
		env["GOBBY_WORKFLOW"] = req.Workflow
	}

	name := s.Prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if err := s.Tmux.NewSession(ctx, SessionOptions{
		Name:    name,
		Workdir: req.Workdir,
		Env:     env,
		Command: command,
	}); err != nil {
		return nil, err
	}
	return &Spawned{Name: name, CLI: cli, Command: command}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
