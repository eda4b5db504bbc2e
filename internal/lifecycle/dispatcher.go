// Package lifecycle fans session events out to every enabled lifecycle
// definition's trigger list.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/gobby-stack/gobby/internal/actions"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/types"
)

// Definitions supplies enabled lifecycle definitions in dispatch order.
type Definitions interface {
	Lifecycles() []*types.Definition
}

// Failure is one definition whose trigger list aborted.
type Failure struct {
	Workflow string
	Err      error
}

// Report lists which definitions handled an event.
type Report struct {
	Ran    []string
	Failed []Failure
}

// Dispatcher runs lifecycle triggers.
type Dispatcher struct {
	defs   Definitions
	exec   *actions.Executor
	logger *slog.Logger
}

// New creates a dispatcher.
func New(defs Definitions, exec *actions.Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{defs: defs, exec: exec, logger: logger}
}

// Dispatch runs the on_<event> list of every lifecycle definition in
// priority order. Each definition is isolated: an action error skips the rest
// of that definition's list and runs its on_error list, and the next
// definition still runs. All definitions share actx's state and output.
func (d *Dispatcher) Dispatch(ctx context.Context, actx *actions.Context, event types.HookEventType) *Report {
	rep := &Report{}
	key := event.TriggerKey()

	for _, def := range d.defs.Lifecycles() {
		specs := def.Triggers[key]
		if len(specs) == 0 {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		log := logging.WithWorkflow(d.logger, def.Name).With("event", string(event))
		dctx := actx.Derive(def, "")
		dctx.Logger = log

		rep.Ran = append(rep.Ran, def.Name)
		if actx.State != nil {
			actx.State.AddLifecycle(def.Name)
		}

		err := d.exec.RunSequence(ctx, specs, dctx)
		if err == nil {
			continue
		}
		log.Warn("lifecycle trigger failed", "error", err)
		rep.Failed = append(rep.Failed, Failure{Workflow: def.Name, Err: err})

		if len(def.OnError) > 0 {
			ectx := dctx.Derive(def, "")
			ectx.Extra = withError(actx.Extra, err)
			if herr := d.exec.RunSequence(ctx, def.OnError, ectx); herr != nil {
				log.Error("on_error handler failed", "error", herr)
			}
		}
	}
	return rep
}

func withError(extra map[string]any, err error) map[string]any {
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
