package daemon

import (
	"context"
	"log/slog"

	"github.com/gobby-stack/gobby/internal/engine"
	"github.com/gobby-stack/gobby/internal/events"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/types"
	"github.com/gobby-stack/gobby/internal/workflow"
)

// Service is the engine plus the definition registry: everything the
// daemon's surfaces expose.
type Service struct {
	*engine.Engine

	Registry *workflow.Registry
	Bus      *events.Bus
	logger   *slog.Logger
}

// Reload reloads definitions and announces the result on the bus.
func (s *Service) Reload(ctx context.Context) (*workflow.ReloadReport, error) {
	rep, err := s.Registry.Reload()
	if err != nil {
		return nil, err
	}
	s.Bus.Publish(events.Event{
		Type: events.TypeReload,
		Data: map[string]any{
			"loaded":   len(rep.Loaded),
			"rejected": rep.Rejected,
		},
	})
	return rep, nil
}

// Definitions summarizes loaded definitions of one type, or all when t is
// empty, sorted by name.
func (s *Service) Definitions(t types.DefinitionType) []ipc.DefinitionSummary {
	defs := s.Registry.List(t)
	out := make([]ipc.DefinitionSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, ipc.DefinitionSummary{
			Name:        d.Name,
			Type:        d.Type,
			Description: d.Description,
			Source:      d.Source,
			Enabled:     d.IsEnabled(),
			Priority:    d.EffectivePriority(),
		})
	}
	return out
}
