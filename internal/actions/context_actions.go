package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobby-stack/gobby/internal/tasks"
)

// Context sources in the order their blocks are composed.
const (
	SourcePreviousSummary = "previous_session_summary"
	SourceActiveTask      = "active_task"
	SourceMemories        = "memories"
	SourceSkills          = "skills"
)

var sourceOrder = []string{SourcePreviousSummary, SourceActiveTask, SourceMemories, SourceSkills}

func registerContextActions(r *Registry, d *Deps) error {
	return registerAll(r, map[string]Func{
		"inject_context": d.injectContext,
		"inject_message": injectMessage,
	})
}

// injectContext composes a context block for the agent. Explicit content
// comes first, then each requested source in fixed order regardless of the
// order they were listed in. Sources with no data contribute nothing.
func (d *Deps) injectContext(ctx context.Context, actx *Context, args Args) (Result, error) {
	var blocks []string
	for _, key := range []string{"content", "template"} {
		if s := strings.TrimSpace(args.String(key)); s != "" {
			blocks = append(blocks, s)
		}
	}

	requested := make(map[string]bool)
	for _, s := range args.Strings("source") {
		requested[s] = true
	}
	for _, s := range args.Strings("sources") {
		requested[s] = true
	}
	for name := range requested {
		if !isKnownSource(name) {
			return nil, argError("inject_context", "source", fmt.Sprintf("unknown source %q", name))
		}
	}

	for _, name := range sourceOrder {
		if !requested[name] {
			continue
		}
		text, err := d.fetchSource(ctx, actx, name, args)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			actx.logger().Warn("context source unavailable", "source", name, "error", err)
			continue
		}
		if text != "" {
			blocks = append(blocks, text)
		}
	}

	if len(blocks) == 0 {
		return Result{"value": "", "injected": false}, nil
	}
	text := strings.Join(blocks, "\n\n")
	actx.output().AddContext(text)
	return Result{"value": text, "injected": true}, nil
}

func isKnownSource(name string) bool {
	for _, s := range sourceOrder {
		if s == name {
			return true
		}
	}
	return false
}

func (d *Deps) fetchSource(ctx context.Context, actx *Context, name string, args Args) (string, error) {
	switch name {
	case SourcePreviousSummary:
		if d.Context == nil {
			return "", nil
		}
		summary, err := d.Context.PreviousSessionSummary(ctx, actx.SessionID)
		if err != nil || summary == "" {
			return "", err
		}
		return "## Previous Session\n" + summary, nil

	case SourceActiveTask:
		if d.Tasks == nil {
			return "", nil
		}
		t, err := tasks.ActiveTask(ctx, d.Tasks, actx.SessionID)
		if err != nil || t == nil {
			return "", err
		}
		return formatTask(t), nil

	case SourceMemories:
		if d.Context == nil {
			return "", nil
		}
		mems, err := d.Context.Memories(ctx, args.String("query"), args.Int("limit", 5))
		if err != nil || len(mems) == 0 {
			return "", err
		}
		var b strings.Builder
		b.WriteString("## Memories")
		for _, m := range mems {
			b.WriteString("\n- ")
			b.WriteString(strings.TrimSpace(m))
		}
		return b.String(), nil

	case SourceSkills:
		if d.Context == nil {
			return "", nil
		}
		return d.Context.Skills(ctx, args.String("tag"))
	}
	return "", nil
}

func formatTask(t *tasks.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Active Task\n**%s** (%s, %s)", t.Title, t.ID, t.Status)
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
	}
	return b.String()
}

// injectMessage shows a message to the user.
func injectMessage(_ context.Context, actx *Context, args Args) (Result, error) {
	msg := args.String("content")
	if msg == "" {
		msg = args.String("message")
	}
	if strings.TrimSpace(msg) == "" {
		return nil, argError("inject_message", "content", "is required")
	}
	actx.output().AddMessage(msg)
	return Result{"value": msg}, nil
}
