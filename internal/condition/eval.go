// Package condition evaluates workflow expressions and renders templates.
//
// Expressions are parsed into a small AST and evaluated against a Context.
// Unknown variables are undefined (nil) rather than errors, and Check fails
// closed: a malformed expression or a runtime type error is logged and
// treated as false.
package condition

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"

	gerrors "github.com/gobby-stack/gobby/internal/errors"
)

// Func is a built-in function callable from expressions.
type Func func(ctx Context, args []any) (any, error)

// Evaluator parses, caches and evaluates expressions. It is safe for
// concurrent use once all functions are registered.
type Evaluator struct {
	funcs  map[string]Func
	cache  sync.Map // expr -> Node
	logger *slog.Logger
}

// New creates an evaluator with the built-in functions registered.
func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		funcs:  make(map[string]Func),
		logger: logger,
	}
	registerBuiltins(e)
	return e
}

// RegisterFunc adds or replaces a function. Call before sharing the evaluator.
func (e *Evaluator) RegisterFunc(name string, fn Func) {
	e.funcs[name] = fn
}

// HasFunc reports whether a function is registered.
func (e *Evaluator) HasFunc(name string) bool {
	_, ok := e.funcs[name]
	return ok
}

// Compile parses an expression, using the cache.
func (e *Evaluator) Compile(expr string) (Node, error) {
	if n, ok := e.cache.Load(expr); ok {
		return n.(Node), nil
	}
	n, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	e.cache.Store(expr, n)
	return n, nil
}

// Validate parses an expression and checks that every function it calls
// exists. Used when loading definitions.
func (e *Evaluator) Validate(expr string) error {
	n, err := e.Compile(expr)
	if err != nil {
		return err
	}
	var unknown string
	Walk(n, func(n Node) {
		if c, ok := n.(*Call); ok && unknown == "" && !e.HasFunc(c.Func) {
			unknown = c.Func
		}
	})
	if unknown != "" {
		return gerrors.EvalParse(expr, -1, "unknown function "+unknown)
	}
	return nil
}

// Evaluate evaluates an expression and returns its value.
func (e *Evaluator) Evaluate(expr string, ctx Context) (any, error) {
	n, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = MapContext(nil)
	}
	st := &evalState{e: e, ctx: ctx, expr: expr}
	return st.eval(n)
}

// Check evaluates a boolean guard. An empty expression is true. Any error
// is logged and yields false.
func (e *Evaluator) Check(expr string, ctx Context) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	v, err := e.Evaluate(expr, ctx)
	if err != nil {
		e.logger.Warn("condition failed closed", "expr", expr, "error", err)
		return false
	}
	return Truthy(v)
}

type evalState struct {
	e    *Evaluator
	ctx  Context
	expr string
}

func (s *evalState) errorf(format string, args ...any) error {
	return gerrors.EvalRuntime(s.expr, fmt.Sprintf(format, args...))
}

func (s *evalState) eval(n Node) (any, error) {
	switch v := n.(type) {
	case *Literal:
		return v.Value, nil
	case *Ident:
		val, _ := s.ctx.Lookup(v.Name)
		return val, nil
	case *Member:
		x, err := s.eval(v.X)
		if err != nil {
			return nil, err
		}
		return field(x, v.Name), nil
	case *Index:
		x, err := s.eval(v.X)
		if err != nil {
			return nil, err
		}
		idx, err := s.eval(v.Index)
		if err != nil {
			return nil, err
		}
		return index(x, idx), nil
	case *List:
		out := make([]any, 0, len(v.Items))
		for _, it := range v.Items {
			val, err := s.eval(it)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case *Call:
		fn, ok := s.e.funcs[v.Func]
		if !ok {
			return nil, s.errorf("unknown function %s", v.Func)
		}
		args, err := s.evalArgs(v.Args)
		if err != nil {
			return nil, err
		}
		out, err := fn(s.ctx, args)
		if err != nil {
			return nil, s.errorf("%s: %v", v.Func, err)
		}
		return out, nil
	case *MethodCall:
		recv, err := s.eval(v.Recv)
		if err != nil {
			return nil, err
		}
		args, err := s.evalArgs(v.Args)
		if err != nil {
			return nil, err
		}
		return s.callMethod(recv, v.Name, args)
	case *Unary:
		x, err := s.eval(v.X)
		if err != nil {
			return nil, err
		}
		if v.Op == "not" {
			return !Truthy(x), nil
		}
		f, ok := toFloat(x)
		if !ok {
			return nil, s.errorf("cannot negate %T", x)
		}
		return normalizeNumber(-f), nil
	case *Binary:
		return s.evalBinary(v)
	}
	return nil, s.errorf("unsupported node %T", n)
}

func (s *evalState) evalArgs(nodes []Node) ([]any, error) {
	args := make([]any, len(nodes))
	for i, a := range nodes {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (s *evalState) evalBinary(b *Binary) (any, error) {
	l, err := s.eval(b.L)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "and":
		if !Truthy(l) {
			return false, nil
		}
		r, err := s.eval(b.R)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "or":
		if Truthy(l) {
			return true, nil
		}
		r, err := s.eval(b.R)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	r, err := s.eval(b.R)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "in":
		return contains(r, l), nil
	case "not in":
		return !contains(r, l), nil
	case "<", "<=", ">", ">=":
		c, ok := compare(l, r)
		if !ok {
			// Ordering against undefined is false rather than an error.
			if l == nil || r == nil {
				return false, nil
			}
			return nil, s.errorf("cannot compare %T and %T", l, r)
		}
		switch b.Op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	case "+":
		if ls, ok := l.(string); ok {
			return ls + StringifyValue(r), nil
		}
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if !lok || !rok {
			return nil, s.errorf("cannot add %T and %T", l, r)
		}
		return normalizeNumber(lf + rf), nil
	case "-":
		lf, lok := toFloat(l)
		rf, rok := toFloat(r)
		if !lok || !rok {
			return nil, s.errorf("cannot subtract %T and %T", l, r)
		}
		return normalizeNumber(lf - rf), nil
	}
	return nil, s.errorf("unknown operator %s", b.Op)
}

func (s *evalState) callMethod(recv any, name string, args []any) (any, error) {
	switch name {
	case "get":
		if len(args) == 0 || len(args) > 2 {
			return nil, s.errorf("get takes 1 or 2 arguments")
		}
		v := index(recv, args[0])
		if v == nil && len(args) == 2 {
			return args[1], nil
		}
		return v, nil
	case "startswith", "endswith":
		if len(args) != 1 {
			return nil, s.errorf("%s takes 1 argument", name)
		}
		str, _ := recv.(string)
		arg := StringifyValue(args[0])
		if name == "startswith" {
			return strings.HasPrefix(str, arg), nil
		}
		return strings.HasSuffix(str, arg), nil
	case "lower", "upper", "strip":
		str := StringifyValue(recv)
		switch name {
		case "lower":
			return strings.ToLower(str), nil
		case "upper":
			return strings.ToUpper(str), nil
		}
		return strings.TrimSpace(str), nil
	case "keys":
		m, ok := recv.(map[string]any)
		if !ok {
			return []any{}, nil
		}
		keys := make([]any, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		return keys, nil
	}
	return nil, s.errorf("unknown method %s", name)
}

// Truthy reports the boolean value of v: nil, false, zero numbers and empty
// strings, slices and maps are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// Equal compares two values, treating all numeric types as comparable.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(c, StringifyValue(item))
	case []any:
		for _, v := range c {
			if Equal(v, item) {
				return true
			}
		}
		return false
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		for _, v := range c {
			if v == s {
				return true
			}
		}
		return false
	case map[string]any:
		k, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[k]
		return found
	case map[string]string:
		k, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[k]
		return found
	}
	return false
}

// field returns x.name, or nil when x has no such field.
func field(x any, name string) any {
	switch v := x.(type) {
	case map[string]any:
		return v[name]
	case map[string]string:
		if s, ok := v[name]; ok {
			return s
		}
		return nil
	case []any, []string:
		if i, err := strconv.Atoi(name); err == nil {
			return index(x, i)
		}
	}
	return nil
}

// index returns x[idx], or nil when out of range or not indexable.
func index(x any, idx any) any {
	if key, ok := idx.(string); ok {
		return field(x, key)
	}
	f, ok := toFloat(idx)
	if !ok {
		return nil
	}
	i := int(f)
	switch v := x.(type) {
	case []any:
		if i < 0 {
			i += len(v)
		}
		if i >= 0 && i < len(v) {
			return v[i]
		}
	case []string:
		if i < 0 {
			i += len(v)
		}
		if i >= 0 && i < len(v) {
			return v[i]
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func normalizeNumber(f float64) any {
	if f == float64(int(f)) {
		return int(f)
	}
	return f
}
