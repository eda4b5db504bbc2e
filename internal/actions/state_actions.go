package actions

import (
	"context"
	"fmt"
)

func registerStateActions(r *Registry, d *Deps) error {
	return registerAll(r, map[string]Func{
		"set_variable":        setVariable,
		"increment_variable":  incrementVariable,
		"load_workflow_state": d.loadWorkflowState,
		"save_workflow_state": d.saveWorkflowState,
	})
}

// setVariable sets name to value. A variables map sets several at once.
func setVariable(_ context.Context, actx *Context, args Args) (Result, error) {
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}
	if vars := args.Map("variables"); vars != nil {
		for k, v := range vars {
			actx.State.SetVariable(k, v)
		}
		return Result{"value": len(vars)}, nil
	}
	name, err := args.Require("set_variable", "name")
	if err != nil {
		return nil, err
	}
	actx.State.SetVariable(name, args["value"])
	return Result{"value": args["value"]}, nil
}

// incrementVariable adds amount (default 1) to a numeric variable. A missing
// variable counts as zero.
func incrementVariable(_ context.Context, actx *Context, args Args) (Result, error) {
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}
	name, err := args.Require("increment_variable", "name")
	if err != nil {
		return nil, err
	}
	amount := 1.0
	if args.Has("amount") {
		f, ok := args.Float("amount")
		if !ok {
			return nil, argError("increment_variable", "amount", "must be a number")
		}
		amount = f
	}

	current := 0.0
	if v, ok := actx.State.Variable(name); ok && v != nil {
		f, ok := toFloat(v)
		if !ok {
			return nil, argError("increment_variable", "name", "refers to non-numeric value "+describe(v))
		}
		current = f
	}
	next := numberValue(current + amount)
	actx.State.SetVariable(name, next)
	return Result{"value": next}, nil
}

// loadWorkflowState replaces the working copy with the persisted state.
// With nothing persisted the working copy is left alone.
func (d *Deps) loadWorkflowState(ctx context.Context, actx *Context, _ Args) (Result, error) {
	if d.States == nil {
		return nil, fmt.Errorf("state store not configured")
	}
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}
	loaded, err := d.States.Load(ctx, actx.SessionID)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return Result{"loaded": false}, nil
	}
	*actx.State = *loaded
	return Result{"loaded": true}, nil
}

// saveWorkflowState checkpoints the working copy.
func (d *Deps) saveWorkflowState(ctx context.Context, actx *Context, _ Args) (Result, error) {
	if d.States == nil {
		return nil, fmt.Errorf("state store not configured")
	}
	if actx.State == nil {
		return nil, fmt.Errorf("no session state")
	}
	if err := d.States.Save(ctx, actx.State.Clone()); err != nil {
		return nil, err
	}
	return Result{"saved": true}, nil
}

func registerAll(r *Registry, fns map[string]Func) error {
	for name, fn := range fns {
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}
