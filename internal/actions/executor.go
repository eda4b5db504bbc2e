package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gobby-stack/gobby/internal/condition"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// Reserved argument keys interpreted by the executor, not the action.
const (
	ArgTimeout  = "timeout"
	ArgOutputAs = "output_as"
)

// unrenderedArgs hold nested action specs; they are rendered when the
// follow-up itself runs.
var unrenderedArgs = map[string]bool{"on_success": true, "on_failure": true}

// Executor runs actions from the registry. It holds no per-session state and
// is shared by every session.
type Executor struct {
	registry       *Registry
	eval           *condition.Evaluator
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewExecutor creates an executor. A zero defaultTimeout disables the
// default bound; actions may still set their own.
func NewExecutor(registry *Registry, eval *condition.Evaluator, defaultTimeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, eval: eval, defaultTimeout: defaultTimeout, logger: logger}
}

// Registry returns the action registry.
func (x *Executor) Registry() *Registry { return x.registry }

// Evaluator returns the condition evaluator used for guards and templates.
func (x *Executor) Evaluator() *condition.Evaluator { return x.eval }

// Execute runs one action. Arguments are rendered against the action context
// first. The returned Result always carries an "error" entry when err is
// non-nil.
func (x *Executor) Execute(ctx context.Context, spec types.ActionSpec, actx *Context) (res Result, err error) {
	entry, ok := x.registry.lookup(spec.Action)
	if !ok {
		e := gerrors.ActionUnknown(spec.Action)
		return Result{"error": e.Error()}, e
	}
	if actx.exec == nil {
		actx.exec = x
	}

	args := x.renderArgs(spec.Args, actx)
	timeout := entry.timeout
	if timeout == 0 {
		timeout = x.defaultTimeout
	}
	if d, ok := args.Duration(ArgTimeout); ok && d > 0 {
		timeout = d
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := actx.logger().With("action", spec.Action)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("action panicked", "panic", r)
			err = gerrors.ActionPanic(spec.Action, r)
			res = Result{"error": err.Error()}
		}
	}()

	res, err = entry.fn(callCtx, actx, args)
	if err != nil {
		err = x.classify(spec.Action, err, callCtx, timeout)
		if res == nil {
			res = Result{}
		}
		res["error"] = err.Error()
		log.Warn("action failed", "error", err, "duration", time.Since(start))
		return res, err
	}
	if res == nil {
		res = Result{}
	}
	if name := args.String(ArgOutputAs); name != "" && actx.State != nil {
		if v, ok := res["value"]; ok {
			actx.State.SetVariable(name, v)
		} else {
			actx.State.SetVariable(name, map[string]any(res))
		}
	}
	log.Debug("action completed", "duration", time.Since(start))
	return res, nil
}

func (x *Executor) classify(action string, err error, callCtx context.Context, timeout time.Duration) error {
	var ge *gerrors.GobbyError
	if errors.As(err, &ge) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return gerrors.ActionTimeout(action, timeout)
	}
	return gerrors.ActionFailed(action, err)
}

func (x *Executor) renderArgs(raw map[string]any, actx *Context) Args {
	args := make(Args, len(raw))
	ectx := actx.EvalContext()
	for k, v := range raw {
		if unrenderedArgs[k] {
			args[k] = v
			continue
		}
		args[k] = x.eval.EvalValue(v, ectx)
	}
	return args
}

// RunSequence runs specs in order. A false when guard skips that action; the
// first error aborts the rest of the list and is returned.
func (x *Executor) RunSequence(ctx context.Context, specs []types.ActionSpec, actx *Context) error {
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if spec.When != "" && !x.eval.Check(spec.When, actx.EvalContext()) {
			actx.logger().Debug("action skipped", "action", spec.Action, "when", spec.When)
			continue
		}
		if _, err := x.Execute(ctx, spec, actx); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, spec.Action, err)
		}
	}
	return nil
}

// Run executes a follow-up action list from inside another action.
func (c *Context) Run(ctx context.Context, specs []types.ActionSpec) error {
	if c.exec == nil {
		return fmt.Errorf("action context has no executor")
	}
	return c.exec.RunSequence(ctx, specs, c)
}

// Evaluator returns the evaluator of the executor running this context.
func (c *Context) Evaluator() *condition.Evaluator {
	if c.exec == nil {
		return nil
	}
	return c.exec.eval
}

// SpecsFrom reads a follow-up argument: an action name, an inline spec map,
// or a list of either.
func SpecsFrom(v any) ([]types.ActionSpec, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]types.ActionSpec, 0, len(val))
		for _, item := range val {
			spec, err := types.ActionSpecFrom(item)
			if err != nil {
				return nil, err
			}
			out = append(out, spec)
		}
		return out, nil
	case []string:
		out := make([]types.ActionSpec, 0, len(val))
		for _, name := range val {
			out = append(out, types.ActionSpec{Action: name})
		}
		return out, nil
	}
	spec, err := types.ActionSpecFrom(v)
	if err != nil {
		return nil, err
	}
	return []types.ActionSpec{spec}, nil
}

func argError(action, arg, reason string) error {
	return gerrors.ActionArgs(action, arg, reason)
}
