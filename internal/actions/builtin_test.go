package actions

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/config"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/executor"
	"github.com/gobby-stack/gobby/internal/llm"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/tasks"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/webhook"
)

type fakeSource struct {
	summary  string
	memories []string
	skills   string
	err      error
}

func (f *fakeSource) PreviousSessionSummary(context.Context, string) (string, error) {
	return f.summary, f.err
}

func (f *fakeSource) Memories(_ context.Context, _ string, limit int) ([]string, error) {
	if len(f.memories) > limit {
		return f.memories[:limit], f.err
	}
	return f.memories, f.err
}

func (f *fakeSource) Skills(context.Context, string) (string, error) { return f.skills, f.err }

type fakeMCP struct {
	text string
	err  error
	args map[string]any
}

func (f *fakeMCP) CallTool(_ context.Context, _, _ string, args map[string]any) (string, error) {
	f.args = args
	return f.text, f.err
}

func newBuiltinExecutor(t *testing.T, d *Deps) *Executor {
	t.Helper()
	logger := logging.NewForTest()
	r := NewRegistry()
	if err := RegisterBuiltins(r, d); err != nil {
		t.Fatal(err)
	}
	return NewExecutor(r, condition.New(logger), 5*time.Second, logger)
}

func run(t *testing.T, x *Executor, actx *Context, action string, args map[string]any) (Result, error) {
	t.Helper()
	return x.Execute(context.Background(), types.ActionSpec{Action: action, Args: args}, actx)
}

func TestVariableActions(t *testing.T) {
	x := newBuiltinExecutor(t, &Deps{})
	actx := newTestContext("s1")

	if _, err := run(t, x, actx, "set_variable", map[string]any{"name": "mode", "value": "review"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := actx.State.Variable("mode"); v != "review" {
		t.Errorf("mode = %v", v)
	}

	for i := 0; i < 2; i++ {
		if _, err := run(t, x, actx, "increment_variable", map[string]any{"name": "edits"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := run(t, x, actx, "increment_variable", map[string]any{"name": "edits", "amount": 0.5}); err != nil {
		t.Fatal(err)
	}
	if v, _ := actx.State.Variable("edits"); v != 2.5 {
		t.Errorf("edits = %v (%T)", v, v)
	}

	if _, err := run(t, x, actx, "increment_variable", map[string]any{"name": "mode"}); !gerrors.HasCode(err, gerrors.CodeActionArgs) {
		t.Errorf("incrementing a string: %v", err)
	}
	if _, err := run(t, x, actx, "set_variable", map[string]any{"value": 1}); !gerrors.HasCode(err, gerrors.CodeActionArgs) {
		t.Errorf("missing name: %v", err)
	}
}

func TestInjectContext_Precedence(t *testing.T) {
	store := tasks.NewFileStore(t.TempDir())
	if _, err := store.CreateTask(context.Background(), &tasks.Task{Title: "Fix login"}); err != nil {
		t.Fatal(err)
	}
	x := newBuiltinExecutor(t, &Deps{
		Tasks:   store,
		Context: &fakeSource{summary: "did stuff", memories: []string{"m1", "m2", "m3"}, skills: "## Available Skills\n- **go**: Go"},
	})
	actx := newTestContext("s1")

	res, err := run(t, x, actx, "inject_context", map[string]any{
		"source":  []any{"skills", "memories", "active_task", "previous_session_summary"},
		"content": "Header",
		"limit":   2,
	})
	if err != nil {
		t.Fatal(err)
	}
	text := res["value"].(string)
	order := []string{"Header", "## Previous Session", "## Active Task", "## Memories", "## Available Skills"}
	last := -1
	for _, marker := range order {
		i := strings.Index(text, marker)
		if i < 0 {
			t.Fatalf("missing %q in %q", marker, text)
		}
		if i < last {
			t.Errorf("%q out of order in %q", marker, text)
		}
		last = i
	}
	if strings.Contains(text, "m3") {
		t.Error("limit not applied")
	}
	if len(actx.Output.Context) != 1 {
		t.Errorf("context blocks = %d", len(actx.Output.Context))
	}
}

func TestInjectContext_MissingDataYieldsNothing(t *testing.T) {
	x := newBuiltinExecutor(t, &Deps{Context: &fakeSource{err: errors.New("offline")}})
	actx := newTestContext("s1")
	res, err := run(t, x, actx, "inject_context", map[string]any{"source": "previous_session_summary"})
	if err != nil {
		t.Fatal(err)
	}
	if res["injected"] != false || len(actx.Output.Context) != 0 {
		t.Errorf("expected nothing injected, got %v", res)
	}
	if _, err := run(t, x, actx, "inject_context", map[string]any{"source": "horoscope"}); !gerrors.HasCode(err, gerrors.CodeActionArgs) {
		t.Errorf("unknown source error = %v", err)
	}
}

func TestInjectMessage(t *testing.T) {
	x := newBuiltinExecutor(t, &Deps{})
	actx := newTestContext("s1")
	actx.State.SetVariable("n", 3)
	if _, err := run(t, x, actx, "inject_message", map[string]any{"content": "{{ n }} edits left"}); err != nil {
		t.Fatal(err)
	}
	if len(actx.Output.Messages) != 1 || actx.Output.Messages[0] != "3 edits left" {
		t.Errorf("messages = %v", actx.Output.Messages)
	}
}

func TestArtifactActions(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "docs", "plans", "a", "old.md")
	newer := filepath.Join(dir, "docs", "plans", "b", "new.md")
	for _, p := range []string{older, newer} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("plan "+filepath.Base(p)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	x := newBuiltinExecutor(t, &Deps{})
	actx := newTestContext("s1")
	actx.Workdir = dir

	res, err := run(t, x, actx, "capture_artifact", map[string]any{"pattern": "docs/**/*.md", "as": "plan"})
	if err != nil {
		t.Fatal(err)
	}
	if res["found"] != true || actx.State.Artifacts["plan"] != newer {
		t.Errorf("captured %v, artifacts %v", res, actx.State.Artifacts)
	}

	res, err = run(t, x, actx, "capture_artifact", map[string]any{"pattern": "*.txt", "as": "none"})
	if err != nil || res["found"] != false {
		t.Errorf("no match: %v %v", res, err)
	}

	if _, err := run(t, x, actx, "read_artifact", map[string]any{"name": "plan", "as": "plan_text"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := actx.State.Variable("plan_text"); v != "plan new.md" {
		t.Errorf("plan_text = %v", v)
	}
}

func TestGlobRegexp(t *testing.T) {
	tests := []struct {
		pattern, path string
		want          bool
	}{
		{"/r/**/*.md", "/r/a.md", true},
		{"/r/**/*.md", "/r/x/y/a.md", true},
		{"/r/*.md", "/r/x/a.md", false},
		{"/r/plan-?.md", "/r/plan-1.md", true},
		{"/r/[!a]*.go", "/r/b.go", true},
		{"/r/[!a]*.go", "/r/a.go", false},
	}
	for _, tt := range tests {
		re, err := globRegexp(tt.pattern)
		if err != nil {
			t.Fatalf("%s: %v", tt.pattern, err)
		}
		if got := re.MatchString(tt.path); got != tt.want {
			t.Errorf("%s ~ %s = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestTaskActions(t *testing.T) {
	store := tasks.NewFileStore(t.TempDir())
	x := newBuiltinExecutor(t, &Deps{Tasks: store})
	actx := newTestContext("s1")
	ctx := context.Background()

	res, err := run(t, x, actx, "persist_tasks", map[string]any{
		"tasks": []any{"Write tests", map[string]any{"title": "Ship", "priority": 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ids := res["value"].([]any); len(ids) != 2 {
		t.Errorf("ids = %v", ids)
	}

	if _, err := run(t, x, actx, "write_todos", map[string]any{"todos": []any{"one", "two"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, x, actx, "write_todos", map[string]any{"todos": []any{"three"}}); err != nil {
		t.Fatal(err)
	}
	open, _ := store.List(ctx, tasks.Filter{Status: tasks.StatusOpen, Kind: tasks.KindTodo, SessionID: "s1"})
	if len(open) != 1 || open[0].Title != "three" {
		t.Fatalf("open todos after replace = %+v", open)
	}

	if _, err := run(t, x, actx, "mark_todo_complete", map[string]any{"todo": "THREE"}); err != nil {
		t.Fatal(err)
	}
	open, _ = store.List(ctx, tasks.Filter{Status: tasks.StatusOpen, Kind: tasks.KindTodo, SessionID: "s1"})
	if len(open) != 0 {
		t.Errorf("todo not closed: %+v", open)
	}

	res, err = run(t, x, actx, "mark_todo_complete", map[string]any{"todo": "ghost"})
	if err != nil || res["error"] == nil {
		t.Errorf("soft failure expected, got %v %v", res, err)
	}
	if _, err := run(t, x, actx, "mark_todo_complete", map[string]any{"todo": "ghost", "halt_on_error": true}); err == nil {
		t.Error("halt_on_error should surface the failure")
	}
}

func TestBridgeActions(t *testing.T) {
	var got llm.Request
	provider := llm.ProviderFunc(func(_ context.Context, req llm.Request) (string, error) {
		got = req
		if strings.Contains(req.Prompt, "fail") {
			return "", errors.New("rate limited")
		}
		return "  summary text \n", nil
	})
	mcp := &fakeMCP{text: "42 issues"}
	x := newBuiltinExecutor(t, &Deps{LLM: provider, MCP: mcp})
	actx := newTestContext("s1")
	actx.State.SetVariable("file", "main.go")

	if _, err := run(t, x, actx, "call_llm", map[string]any{
		"prompt": "Summarize {{ file }}", "tools": []any{"Read"}, "output_as": "summary",
	}); err != nil {
		t.Fatal(err)
	}
	if got.Prompt != "Summarize main.go" || len(got.Tools) != 1 {
		t.Errorf("request = %+v", got)
	}
	if v, _ := actx.State.Variable("summary"); v != "summary text" {
		t.Errorf("summary = %q", v)
	}

	if _, err := run(t, x, actx, "call_llm", map[string]any{"prompt": "fail please", "output_as": "summary"}); err != nil {
		t.Fatalf("bridge failures must not fail the action: %v", err)
	}
	marker, _ := actx.State.Variable("summary")
	if m, ok := marker.(map[string]any); !ok || m["error"] != "rate limited" {
		t.Errorf("error marker = %v", marker)
	}

	if _, err := run(t, x, actx, "call_mcp_tool", map[string]any{
		"server": "lint", "tool": "scan", "arguments": map[string]any{"path": "{{ file }}"}, "output_as": "scan",
	}); err != nil {
		t.Fatal(err)
	}
	if mcp.args["path"] != "main.go" {
		t.Errorf("mcp args = %v", mcp.args)
	}
	if v, _ := actx.State.Variable("scan"); v != "42 issues" {
		t.Errorf("scan = %v", v)
	}
}

func TestWebhookAction(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		if payload["session"] != "s1" || r.Header.Get("X-Team") != "core" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"id":"build-7"}}`))
	}))
	defer srv.Close()

	client := webhook.NewClient(config.WebhookConfig{Timeout: 5 * time.Second}, logging.NewForTest())
	x := newBuiltinExecutor(t, &Deps{Webhooks: client})
	actx := newTestContext("s1")

	_, err := run(t, x, actx, "webhook", map[string]any{
		"url":     srv.URL + "/hook",
		"headers": map[string]any{"X-Team": "core"},
		"payload": map[string]any{"session": "{{ session_id }}"},
		"retry":   map[string]any{"max_attempts": 3, "backoff_seconds": 0.01, "retry_on_status": []any{503}},
		"capture_response": map[string]any{
			"status_var": "hook_status",
			"json_paths": map[string]any{"build_id": "data.id"},
		},
		"on_success": map[string]any{"action": "set_variable", "name": "notified", "value": true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if v, _ := actx.State.Variable("hook_status"); v != 200 {
		t.Errorf("hook_status = %v", v)
	}
	if v, _ := actx.State.Variable("build_id"); v != "build-7" {
		t.Errorf("build_id = %v", v)
	}
	if v, _ := actx.State.Variable("notified"); v != true {
		t.Errorf("on_success did not run")
	}
}

func TestWebhookAction_OnFailureHandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := webhook.NewClient(config.WebhookConfig{Timeout: 5 * time.Second}, logging.NewForTest())
	x := newBuiltinExecutor(t, &Deps{Webhooks: client})
	actx := newTestContext("s1")

	args := map[string]any{
		"url":        srv.URL,
		"on_failure": "inject_message",
	}
	// inject_message without content fails, so on_failure surfaces that error.
	if _, err := run(t, x, actx, "webhook", args); err == nil {
		t.Error("expected on_failure error to propagate")
	}

	args["on_failure"] = map[string]any{"action": "set_variable", "name": "hook_failed", "value": true}
	res, err := run(t, x, actx, "webhook", args)
	if err != nil {
		t.Fatalf("handled failure should not error: %v", err)
	}
	if res["status"] != http.StatusForbidden {
		t.Errorf("status = %v", res["status"])
	}
	if v, _ := actx.State.Variable("hook_failed"); v != true {
		t.Error("on_failure did not run")
	}

	delete(args, "on_failure")
	if _, err := run(t, x, actx, "webhook", args); err == nil {
		t.Error("unhandled failure should error")
	}
}

func TestBlockTool(t *testing.T) {
	x := newBuiltinExecutor(t, &Deps{})
	actx := newTestContext("s1")
	actx.Event = &types.HookEvent{Type: types.EventBeforeTool, ToolName: "Bash"}

	if _, err := run(t, x, actx, "block_tool", map[string]any{"tools": []any{"Edit"}}); err != nil {
		t.Fatal(err)
	}
	if actx.Output.Decision != "" {
		t.Errorf("should not apply to Bash: %s", actx.Output.Decision)
	}
	if _, err := run(t, x, actx, "block_tool", map[string]any{"message": "no shell"}); err != nil {
		t.Fatal(err)
	}
	if actx.Output.Decision != types.DecisionBlock || actx.Output.Reason != "no shell" {
		t.Errorf("output = %+v", actx.Output)
	}
	if _, err := run(t, x, actx, "block_tool", map[string]any{"decision": "deny"}); !gerrors.HasCode(err, gerrors.CodeActionArgs) {
		t.Errorf("invalid decision error = %v", err)
	}
}

func TestRunCommand(t *testing.T) {
	x := newBuiltinExecutor(t, &Deps{Shell: executor.NewShellExecutor()})
	actx := newTestContext("s1")
	actx.Workdir = t.TempDir()

	res, err := run(t, x, actx, "run_command", map[string]any{"command": "echo $GREETING", "env": map[string]any{"GREETING": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res["value"] != "hi" {
		t.Errorf("value = %v", res["value"])
	}
	if _, err := run(t, x, actx, "run_command", map[string]any{"command": "exit 3"}); err == nil {
		t.Error("non-zero exit should fail")
	}
	if res, err := run(t, x, actx, "run_command", map[string]any{"command": "exit 3", "allow_failure": true}); err != nil || res["exit_code"] != 3 {
		t.Errorf("allow_failure: %v %v", res, err)
	}
}

type fakeControl struct {
	activated string
	ended     bool
}

func (f *fakeControl) ActivateWorkflow(_ context.Context, _ *Context, name, _ string, _ map[string]any) error {
	f.activated = name
	return nil
}

func (f *fakeControl) EndWorkflow(context.Context, *Context) error {
	f.ended = true
	return nil
}

func TestWorkflowControlActions(t *testing.T) {
	ctl := &fakeControl{}
	x := newBuiltinExecutor(t, &Deps{Control: ctl})
	actx := newTestContext("s1")
	if _, err := run(t, x, actx, "activate_workflow", map[string]any{"name": "plan-execute"}); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, x, actx, "end_workflow", nil); err != nil {
		t.Fatal(err)
	}
	if ctl.activated != "plan-execute" || !ctl.ended {
		t.Errorf("control = %+v", ctl)
	}
}

func TestLoadPlugins_CommandActions(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, PluginManifestName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("notes", `
[plugin]
name = "notes"

[[actions]]
name = "echo_args"
command = "printf '%s' \"$GOBBY_ARGS\""
timeout = "5s"
`)
	write("off", "[plugin]\nname = \"off\"\nenabled = false\n\n[[actions]]\nname = \"x\"\ncommand = \"true\"\n")
	write("broken", "[plugin]\nname = \"Bad Name\"\n")

	logger := logging.NewForTest()
	r := NewRegistry()
	d := &Deps{Shell: executor.NewShellExecutor()}
	loaded, err := LoadPlugins(dir, nil, r, d, logger)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0] != "notes" {
		t.Fatalf("loaded = %v", loaded)
	}
	if r.Has(PluginActionName("off", "x")) {
		t.Error("disabled plugin registered")
	}

	x := NewExecutor(r, condition.New(logger), time.Second, logger)
	res, err := x.Execute(context.Background(), types.ActionSpec{
		Action: PluginActionName("notes", "echo_args"),
		Args:   map[string]any{"topic": "db"},
	}, newTestContext("s1"))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := res["value"].(map[string]any)
	if !ok || m["topic"] != "db" {
		t.Errorf("value = %v", res["value"])
	}
}
