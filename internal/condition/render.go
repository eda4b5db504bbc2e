package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// StringifyValue converts a value to its string form for template output.
// Maps and slices are JSON-encoded so they can round-trip through shell steps.
func StringifyValue(val any) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	rv := reflect.ValueOf(val)
	kind := rv.Kind()

	if kind == reflect.Map || kind == reflect.Slice || kind == reflect.Array {
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", val)
	}

	return fmt.Sprintf("%v", val)
}

// templatePattern matches {{ expr }} placeholders.
var templatePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// refPattern matches $root.field.sub pipeline references.
var refPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z_][A-Za-z0-9_]*)*)`)

// Render substitutes every {{ expr }} in s. Missing or failing expressions
// render as the empty string.
func (e *Evaluator) Render(s string, ctx Context) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := e.Evaluate(expr, ctx)
		if err != nil {
			e.logger.Debug("template expression failed", "expr", expr, "error", err)
			return ""
		}
		return StringifyValue(v)
	})
}

// RenderRefs renders {{ }} templates, then substitutes $root.path references
// whose root resolves in ctx. Unresolved roots such as shell variables are
// left untouched.
func (e *Evaluator) RenderRefs(s string, ctx Context) string {
	s = e.Render(s, ctx)
	if !strings.Contains(s, "$") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match[1:], ".")
		v, ok := ctx.Lookup(parts[0])
		if !ok {
			return match
		}
		for _, p := range parts[1:] {
			v = field(v, p)
		}
		return StringifyValue(v)
	})
}

// ShellRefPrefix names the environment variables RenderShell binds values to.
const ShellRefPrefix = "GOBBY_REF_"

// RenderShell is RenderRefs for shell scripts. Each {{ }} placeholder and
// resolvable $reference becomes a ${GOBBY_REF_n} expansion and its value is
// returned in env, so values reach the script verbatim and are never parsed
// as shell.
func (e *Evaluator) RenderShell(s string, ctx Context) (string, map[string]string) {
	env := make(map[string]string)
	bind := func(v string) string {
		name := fmt.Sprintf("%s%d", ShellRefPrefix, len(env))
		env[name] = v
		return "${" + name + "}"
	}

	if strings.Contains(s, "{{") {
		s = templatePattern.ReplaceAllStringFunc(s, func(match string) string {
			expr := strings.TrimSpace(match[2 : len(match)-2])
			v, err := e.Evaluate(expr, ctx)
			if err != nil {
				e.logger.Debug("template expression failed", "expr", expr, "error", err)
				return ""
			}
			return bind(StringifyValue(v))
		})
	}
	if strings.Contains(s, "$") {
		s = refPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := strings.Split(match[1:], ".")
			v, ok := ctx.Lookup(parts[0])
			if !ok {
				return match
			}
			for _, p := range parts[1:] {
				v = field(v, p)
			}
			return bind(StringifyValue(v))
		})
	}
	return s, env
}

// EvalRefs applies RenderRefs through nested maps and slices. A string that
// is exactly one resolvable $reference keeps the referenced value's type.
func (e *Evaluator) EvalRefs(v any, ctx Context) any {
	switch val := v.(type) {
	case string:
		if m := refPattern.FindString(val); m != "" && m == val {
			parts := strings.Split(m[1:], ".")
			if root, ok := ctx.Lookup(parts[0]); ok {
				for _, p := range parts[1:] {
					root = field(root, p)
				}
				return root
			}
		}
		return e.RenderRefs(val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = e.EvalRefs(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = e.EvalRefs(item, ctx)
		}
		return out
	}
	return v
}

// Eval renders a template, preserving the value's type when the template is a
// single pure placeholder like "{{ task }}".
func (e *Evaluator) Eval(s string, ctx Context) any {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if inner != "" && !strings.Contains(inner, "{{") && !strings.Contains(inner, "}}") {
			v, err := e.Evaluate(inner, ctx)
			if err != nil {
				e.logger.Debug("template expression failed", "expr", inner, "error", err)
				return nil
			}
			return v
		}
	}
	return e.Render(s, ctx)
}

// EvalMap recursively applies Eval to string values in m.
func (e *Evaluator) EvalMap(m map[string]any, ctx Context) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = e.EvalValue(v, ctx)
	}
	return out
}

// EvalValue applies Eval through nested maps and slices.
func (e *Evaluator) EvalValue(v any, ctx Context) any {
	switch val := v.(type) {
	case string:
		return e.Eval(val, ctx)
	case map[string]any:
		return e.EvalMap(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = e.EvalValue(item, ctx)
		}
		return out
	}
	return v
}

// ValidateTemplate checks every {{ }} placeholder in s.
func (e *Evaluator) ValidateTemplate(s string) error {
	for _, m := range templatePattern.FindAllStringSubmatch(s, -1) {
		if err := e.Validate(strings.TrimSpace(m[1])); err != nil {
			return err
		}
	}
	return nil
}

// ShellEscape wraps a string in single quotes for safe shell usage.
func ShellEscape(s string) string {
	escaped := strings.ReplaceAll(s, "'", "'\"'\"'")
	return "'" + escaped + "'"
}
