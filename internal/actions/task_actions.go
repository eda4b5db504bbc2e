package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/condition"
	"github.com/gobby-stack/gobby/internal/tasks"
)

func registerTaskActions(r *Registry, d *Deps) error {
	return registerAll(r, map[string]Func{
		"persist_tasks":      d.persistTasks,
		"write_todos":        d.writeTodos,
		"mark_todo_complete": d.markTodoComplete,
	})
}

// softFail turns a task-store failure into a recorded error unless the
// action sets halt_on_error.
func softFail(actx *Context, action string, args Args, err error) (Result, error) {
	if args.Bool("halt_on_error") {
		return nil, err
	}
	actx.logger().Warn("task action failed", "action", action, "error", err)
	return Result{"error": err.Error()}, nil
}

// persistTasks creates durable tasks from a list of titles or task maps.
func (d *Deps) persistTasks(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Tasks == nil {
		return softFail(actx, "persist_tasks", args, fmt.Errorf("task store not configured"))
	}
	items, err := taskItems(args["tasks"])
	if err != nil {
		return nil, argError("persist_tasks", "tasks", err.Error())
	}

	ids := make([]any, 0, len(items))
	for _, item := range items {
		item.Kind = tasks.KindTask
		if args.Bool("session_scoped") {
			item.SessionID = actx.SessionID
		}
		created, err := d.Tasks.CreateTask(ctx, item)
		if err != nil {
			res, herr := softFail(actx, "persist_tasks", args, err)
			if res != nil {
				res["created"] = ids
			}
			return res, herr
		}
		ids = append(ids, created.ID)
	}
	return Result{"value": ids}, nil
}

// writeTodos records the session's todo list. The default mode replaces the
// open todos of the session; mode: append keeps them.
func (d *Deps) writeTodos(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Tasks == nil {
		return softFail(actx, "write_todos", args, fmt.Errorf("task store not configured"))
	}
	titles := args.Strings("todos")
	mode := args.String("mode")
	if mode == "" {
		mode = "replace"
	}
	if mode != "replace" && mode != "append" {
		return nil, argError("write_todos", "mode", "must be replace or append")
	}

	if mode == "replace" {
		open, err := d.Tasks.List(ctx, tasks.Filter{Status: tasks.StatusOpen, Kind: tasks.KindTodo, SessionID: actx.SessionID})
		if err != nil {
			return softFail(actx, "write_todos", args, err)
		}
		for _, t := range open {
			if err := d.Tasks.CloseTask(ctx, t.ID, "replaced"); err != nil {
				return softFail(actx, "write_todos", args, err)
			}
		}
	}

	ids := make([]any, 0, len(titles))
	for i, title := range titles {
		if strings.TrimSpace(title) == "" {
			continue
		}
		t, err := d.Tasks.CreateTask(ctx, &tasks.Task{
			Kind:      tasks.KindTodo,
			Title:     title,
			Priority:  i,
			SessionID: actx.SessionID,
		})
		if err != nil {
			return softFail(actx, "write_todos", args, err)
		}
		ids = append(ids, t.ID)
	}
	return Result{"value": ids}, nil
}

// markTodoComplete closes one of the session's open todos by ID or title.
func (d *Deps) markTodoComplete(ctx context.Context, actx *Context, args Args) (Result, error) {
	if d.Tasks == nil {
		return softFail(actx, "mark_todo_complete", args, fmt.Errorf("task store not configured"))
	}
	ref, err := args.Require("mark_todo_complete", "todo")
	if err != nil {
		return nil, err
	}

	open, err := d.Tasks.List(ctx, tasks.Filter{Status: tasks.StatusOpen, Kind: tasks.KindTodo, SessionID: actx.SessionID})
	if err != nil {
		return softFail(actx, "mark_todo_complete", args, err)
	}
	for _, t := range open {
		if t.ID == ref || strings.EqualFold(t.Title, ref) {
			if err := d.Tasks.CloseTask(ctx, t.ID, "completed"); err != nil {
				return softFail(actx, "mark_todo_complete", args, err)
			}
			return Result{"value": t.ID}, nil
		}
	}
	return softFail(actx, "mark_todo_complete", args, fmt.Errorf("no open todo %q", ref))
}

func taskItems(v any) ([]*tasks.Task, error) {
	list, ok := v.([]any)
	if !ok {
		if s, isStr := v.([]string); isStr {
			for _, item := range s {
				list = append(list, item)
			}
		} else {
			return nil, fmt.Errorf("must be a list, got %T", v)
		}
	}

	out := make([]*tasks.Task, 0, len(list))
	for i, item := range list {
		switch it := item.(type) {
		case string:
			out = append(out, &tasks.Task{Title: it})
		case map[string]any:
			t := &tasks.Task{
				Title:       condition.StringifyValue(it["title"]),
				Description: condition.StringifyValue(it["description"]),
			}
			if p, ok := toFloat(it["priority"]); ok {
				t.Priority = int(p)
			}
			t.Needs = Args(it).Strings("needs")
			out = append(out, t)
		default:
			return nil, fmt.Errorf("item %d: expected a title or a map, got %T", i, item)
		}
	}
	return out, nil
}
