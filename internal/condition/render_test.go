package condition

import (
	"testing"

	"github.com/gobby-stack/gobby/internal/logging"
)

func TestRender(t *testing.T) {
	e := New(logging.NewForTest())
	ctx := MapContext{
		"name":  "world",
		"count": 42,
		"task":  map[string]any{"id": "gt-1", "title": "Fix bug"},
		"list":  []any{"a", "b"},
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"Hello, {{ name }}!", "Hello, world!"},
		{"Count: {{count}}", "Count: 42"},
		{"{{ task.id }}: {{ task.title }}", "gt-1: Fix bug"},
		{"{{ list }}", `["a","b"]`},
		{"missing: [{{ nope }}]", "missing: []"},
		{"broken: [{{ name == }}]", "broken: []"},
		{"{{ count + 1 }}", "43"},
		{"{{ upper(name) }}", "WORLD"},
		{"No vars here", "No vars here"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := e.Render(tt.input, ctx); got != tt.expected {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRenderRefs(t *testing.T) {
	e := New(logging.NewForTest())
	ctx := MapContext{
		"build":  map[string]any{"output": "bin/app", "status": "completed"},
		"inputs": map[string]any{"env": "staging"},
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"deploy $build.output", "deploy bin/app"},
		{"status=$build.status", "status=completed"},
		{"--env $inputs.env", "--env staging"},
		{"echo $HOME and $PATH", "echo $HOME and $PATH"},
		{"$build.missing|", "|"},
		{"{{ inputs.env }}-$build.output", "staging-bin/app"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := e.RenderRefs(tt.input, ctx); got != tt.expected {
				t.Errorf("RenderRefs(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEval_PreservesType(t *testing.T) {
	e := New(logging.NewForTest())
	task := map[string]any{"id": "gt-1"}
	ctx := MapContext{"task": task, "n": 3}

	got := e.Eval("{{ task }}", ctx)
	m, ok := got.(map[string]any)
	if !ok || m["id"] != "gt-1" {
		t.Errorf("Eval pure reference = %#v", got)
	}
	if got := e.Eval("{{ n }}", ctx); got != 3 {
		t.Errorf("Eval(n) = %#v, want 3", got)
	}
	if got := e.Eval("id-{{ n }}", ctx); got != "id-3" {
		t.Errorf("Eval mixed = %#v", got)
	}
	if got := e.Eval("{{ nope }}", ctx); got != nil {
		t.Errorf("Eval missing = %#v, want nil", got)
	}
}

func TestEvalMap(t *testing.T) {
	e := New(logging.NewForTest())
	ctx := MapContext{"id": "gt-1", "n": 2}
	out := e.EvalMap(map[string]any{
		"task":   "{{ id }}",
		"nested": map[string]any{"count": "{{ n }}"},
		"list":   []any{"{{ id }}", 7},
		"flag":   true,
	}, ctx)

	if out["task"] != "gt-1" {
		t.Errorf("task = %v", out["task"])
	}
	if out["nested"].(map[string]any)["count"] != 2 {
		t.Errorf("nested.count = %#v", out["nested"])
	}
	list := out["list"].([]any)
	if list[0] != "gt-1" || list[1] != 7 {
		t.Errorf("list = %#v", list)
	}
	if out["flag"] != true {
		t.Errorf("flag = %v", out["flag"])
	}
}

func TestValidateTemplate(t *testing.T) {
	e := New(logging.NewForTest())
	if err := e.ValidateTemplate("ok {{ a.b }} and {{ len(c) }}"); err != nil {
		t.Errorf("ValidateTemplate: %v", err)
	}
	if err := e.ValidateTemplate("bad {{ a == }}"); err == nil {
		t.Error("expected error for malformed placeholder")
	}
}

func TestStringifyValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{42, "42"},
		{true, "true"},
		{map[string]any{"a": 1}, `{"a":1}`},
		{[]string{"x"}, `["x"]`},
	}
	for _, tt := range tests {
		if got := StringifyValue(tt.in); got != tt.want {
			t.Errorf("StringifyValue(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShellEscape(t *testing.T) {
	if got := ShellEscape("it's"); got != `'it'"'"'s'` {
		t.Errorf("ShellEscape = %s", got)
	}
}

func TestEvalRefs(t *testing.T) {
	e := New(logging.NewForTest())
	ctx := MapContext{
		"build":  map[string]any{"output": map[string]any{"tag": "v2"}, "exit_code": 0},
		"inputs": map[string]any{"env": "prod"},
	}

	got := e.EvalRefs(map[string]any{
		"whole":  "$build.output",
		"code":   "$build.exit_code",
		"text":   "tag $build.output.tag for $inputs.env",
		"list":   []any{"$inputs.env", 3},
		"shell":  "$HOME",
		"nested": map[string]any{"tag": "$build.output.tag"},
	}, ctx).(map[string]any)

	if m, ok := got["whole"].(map[string]any); !ok || m["tag"] != "v2" {
		t.Errorf("whole = %#v, want the referenced map", got["whole"])
	}
	if got["code"] != 0 {
		t.Errorf("code = %#v", got["code"])
	}
	if got["text"] != "tag v2 for prod" {
		t.Errorf("text = %q", got["text"])
	}
	if l := got["list"].([]any); l[0] != "prod" || l[1] != 3 {
		t.Errorf("list = %v", l)
	}
	if got["shell"] != "$HOME" {
		t.Errorf("shell = %v", got["shell"])
	}
	if got["nested"].(map[string]any)["tag"] != "v2" {
		t.Errorf("nested = %v", got["nested"])
	}
}

func TestRenderShell(t *testing.T) {
	e := New(logging.NewForTest())
	ctx := MapContext{
		"a":      map[string]any{"output": `say "hi" $HOME`},
		"inputs": map[string]any{"title": "x; rm -rf ."},
	}

	script, env := e.RenderShell(`printf '%s' "$a.output" {{ inputs.title }} $HOME $missing.x`, ctx)

	want := `printf '%s' "${GOBBY_REF_1}" ${GOBBY_REF_0} $HOME $missing.x`
	if script != want {
		t.Errorf("script = %q, want %q", script, want)
	}
	if env["GOBBY_REF_0"] != "x; rm -rf ." || env["GOBBY_REF_1"] != `say "hi" $HOME` {
		t.Errorf("env = %v", env)
	}
	if len(env) != 2 {
		t.Errorf("env has %d bindings, want 2", len(env))
	}

	plain, env := e.RenderShell("echo ok", ctx)
	if plain != "echo ok" || len(env) != 0 {
		t.Errorf("plain script = %q, env = %v", plain, env)
	}
}
