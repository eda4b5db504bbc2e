package condition

import (
	"fmt"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// DiscoveryTools are the progressive-disclosure MCP tools an agent calls
// before it may use a tool's schema.
var DiscoveryTools = []string{
	"list_mcp_servers",
	"list_tools",
	"get_tool_schema",
	"search_tools",
	"recommend_tools",
}

// UnlockedToolsVar is the context variable holding tools whose schema has
// been fetched this session.
const UnlockedToolsVar = "tools_unlocked"

var regexCache sync.Map

func registerBuiltins(e *Evaluator) {
	e.RegisterFunc("is_discovery_tool", fnIsDiscoveryTool)
	e.RegisterFunc("is_tool_unlocked", fnIsToolUnlocked)
	e.RegisterFunc("is_plan_file", fnIsPlanFile)
	e.RegisterFunc("len", fnLen)
	e.RegisterFunc("lower", stringFunc(strings.ToLower))
	e.RegisterFunc("upper", stringFunc(strings.ToUpper))
	e.RegisterFunc("startswith", fnStartsWith)
	e.RegisterFunc("endswith", fnEndsWith)
	e.RegisterFunc("contains", fnContains)
	e.RegisterFunc("matches", fnMatches)
	e.RegisterFunc("defined", fnDefined)
	e.RegisterFunc("default", fnDefault)
}

func argCount(args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("takes %d argument(s), got %d", n, len(args))
	}
	return nil
}

// bareToolName strips the mcp__<server>__ prefix CLIs add to MCP tools.
func bareToolName(name string) string {
	if strings.HasPrefix(name, "mcp__") {
		if i := strings.LastIndex(name, "__"); i > len("mcp_") {
			return name[i+2:]
		}
	}
	return name
}

func fnIsDiscoveryTool(_ Context, args []any) (any, error) {
	if err := argCount(args, 1); err != nil {
		return nil, err
	}
	name := bareToolName(StringifyValue(args[0]))
	for _, t := range DiscoveryTools {
		if name == t {
			return true, nil
		}
	}
	return false, nil
}

func fnIsToolUnlocked(ctx Context, args []any) (any, error) {
	if err := argCount(args, 1); err != nil {
		return nil, err
	}
	name := StringifyValue(args[0])
	unlocked, _ := ctx.Lookup(UnlockedToolsVar)
	return contains(unlocked, name) || contains(unlocked, bareToolName(name)), nil
}

// fnIsPlanFile reports whether a path is a plan document for the given CLI
// source (claude, gemini, codex). With no source any CLI's plan dir counts.
func fnIsPlanFile(_ Context, args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("takes 1 or 2 arguments, got %d", len(args))
	}
	path := filepath.ToSlash(StringifyValue(args[0]))
	if path == "" {
		return false, nil
	}
	dirs := map[string]string{
		"claude": "/.claude/plans/",
		"gemini": "/.gemini/plans/",
		"codex":  "/.codex/plans/",
	}
	if len(args) == 2 && StringifyValue(args[1]) != "" {
		dir, ok := dirs[strings.ToLower(StringifyValue(args[1]))]
		if !ok {
			return false, nil
		}
		return strings.Contains("/"+path, dir), nil
	}
	for _, dir := range dirs {
		if strings.Contains("/"+path, dir) {
			return true, nil
		}
	}
	base := strings.ToLower(filepath.Base(path))
	return base == "plan.md" || (strings.HasPrefix(base, "plan-") && strings.HasSuffix(base, ".md")), nil
}

func fnLen(_ Context, args []any) (any, error) {
	if err := argCount(args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case nil:
		return 0, nil
	case string:
		return len(v), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len(), nil
	}
	return nil, fmt.Errorf("len of %T", args[0])
}

func stringFunc(fn func(string) string) Func {
	return func(_ Context, args []any) (any, error) {
		if err := argCount(args, 1); err != nil {
			return nil, err
		}
		return fn(StringifyValue(args[0])), nil
	}
}

func fnStartsWith(_ Context, args []any) (any, error) {
	if err := argCount(args, 2); err != nil {
		return nil, err
	}
	return strings.HasPrefix(StringifyValue(args[0]), StringifyValue(args[1])), nil
}

func fnEndsWith(_ Context, args []any) (any, error) {
	if err := argCount(args, 2); err != nil {
		return nil, err
	}
	return strings.HasSuffix(StringifyValue(args[0]), StringifyValue(args[1])), nil
}

func fnContains(_ Context, args []any) (any, error) {
	if err := argCount(args, 2); err != nil {
		return nil, err
	}
	return contains(args[0], args[1]), nil
}

func fnMatches(_ Context, args []any) (any, error) {
	if err := argCount(args, 2); err != nil {
		return nil, err
	}
	pattern := StringifyValue(args[1])
	var re *regexp.Regexp
	if cached, ok := regexCache.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		regexCache.Store(pattern, compiled)
		re = compiled
	}
	return re.MatchString(StringifyValue(args[0])), nil
}

func fnDefined(_ Context, args []any) (any, error) {
	if err := argCount(args, 1); err != nil {
		return nil, err
	}
	return args[0] != nil, nil
}

func fnDefault(_ Context, args []any) (any, error) {
	if err := argCount(args, 2); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return args[1], nil
	}
	return args[0], nil
}
