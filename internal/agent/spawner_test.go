package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	calls    [][]string
	existing map[string]bool
	failNew  bool
}

func (r *recorder) run(_ context.Context, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	switch args[0] {
	case "has-session":
		if r.existing[args[2]] {
			return nil, nil
		}
		return []byte("can't find session"), errors.New("exit status 1")
	case "new-session":
		if r.failNew {
			return []byte("boom"), errors.New("exit status 1")
		}
	case "kill-session":
		if !r.existing[args[2]] {
			return []byte("can't find session: " + args[2]), errors.New("exit status 1")
		}
	}
	return nil, nil
}

func newFakeTmux(r *recorder) *Tmux {
	return &Tmux{run: r.run, defaultTimeout: time.Second}
}

func TestTmuxSpawner_Spawn(t *testing.T) {
	rec := &recorder{}
	s := &TmuxSpawner{Tmux: newFakeTmux(rec), Prefix: "gobby-"}

	spawned, err := s.Spawn(context.Background(), SpawnRequest{
		CLI:           "claude",
		Prompt:        "fix the user's bug",
		Workdir:       "/repo",
		ParentSession: "parent-1",
		Workflow:      "plan-execute",
	})
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if !strings.HasPrefix(spawned.Name, "gobby-") || len(spawned.Name) != len("gobby-")+8 {
		t.Errorf("Name = %q", spawned.Name)
	}
	if spawned.Command != `claude 'fix the user'\''s bug'` {
		t.Errorf("Command = %q", spawned.Command)
	}

	newCall := rec.calls[len(rec.calls)-1]
	joined := strings.Join(newCall, " ")
	for _, want := range []string{"new-session -d -s " + spawned.Name, "-c /repo", "-e GOBBY_PARENT_SESSION=parent-1", "-e GOBBY_WORKFLOW=plan-execute"} {
		if !strings.Contains(joined, want) {
			t.Errorf("tmux args %q missing %q", joined, want)
		}
	}
	if newCall[len(newCall)-1] != spawned.Command {
		t.Errorf("command should be the last arg, got %q", newCall[len(newCall)-1])
	}
}

func TestTmuxSpawner_Errors(t *testing.T) {
	s := &TmuxSpawner{Tmux: newFakeTmux(&recorder{failNew: true})}
	if _, err := s.Spawn(context.Background(), SpawnRequest{CLI: "cursor"}); err == nil {
		t.Error("expected error for unknown cli")
	}
	if _, err := s.Spawn(context.Background(), SpawnRequest{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected tmux failure, got %v", err)
	}
}

func TestTmux_NewSessionExisting(t *testing.T) {
	tm := newFakeTmux(&recorder{existing: map[string]bool{"dup": true}})
	if err := tm.NewSession(context.Background(), SessionOptions{Name: "dup"}); err == nil {
		t.Error("expected error for existing session")
	}
	if err := tm.NewSession(context.Background(), SessionOptions{}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestTmux_KillSessionIdempotent(t *testing.T) {
	tm := newFakeTmux(&recorder{existing: map[string]bool{"live": true}})
	if err := tm.KillSession(context.Background(), "live"); err != nil {
		t.Errorf("kill live: %v", err)
	}
	if err := tm.KillSession(context.Background(), "gone"); err != nil {
		t.Errorf("kill missing should be nil, got %v", err)
	}
}
