package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobby-stack/gobby/internal/condition"
	gerrors "github.com/gobby-stack/gobby/internal/errors"
	"github.com/gobby-stack/gobby/internal/types"
)

// Snapshot is an immutable set of loaded definitions.
type Snapshot struct {
	defs     map[string]*types.Definition
	LoadedAt time.Time
}

// Get returns a definition by name.
func (s *Snapshot) Get(name string) (*types.Definition, bool) {
	d, ok := s.defs[name]
	return d, ok
}

// Len returns the number of definitions.
func (s *Snapshot) Len() int { return len(s.defs) }

// ReloadReport summarizes a reload.
type ReloadReport struct {
	Loaded   []string          `json:"loaded"`
	Kept     []string          `json:"kept,omitempty"` // Rejected on reload, previous version retained
	Rejected map[string]string `json:"rejected,omitempty"`
}

// Registry holds the current definition snapshot and swaps it atomically on
// reload. Readers never observe a partially loaded set.
type Registry struct {
	loader    *Loader
	validator *Validator
	logger    *slog.Logger

	current  atomic.Pointer[Snapshot]
	reloadMu sync.Mutex
}

// NewRegistry creates a registry with an empty snapshot. Call Reload to load.
func NewRegistry(loader *Loader, actions ActionSet, eval *condition.Evaluator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		loader:    loader,
		validator: &Validator{Actions: actions, Eval: eval},
		logger:    logger,
	}
	r.current.Store(&Snapshot{defs: map[string]*types.Definition{}, LoadedAt: time.Now()})
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Reload loads every definition, validates it and atomically installs the
// result. A definition that fails keeps its previous version if there was
// one; other definitions are unaffected.
func (r *Registry) Reload() (*ReloadReport, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	prev := r.current.Load()
	docs, parseErrs := r.loader.LoadDocuments()
	report := &ReloadReport{Rejected: make(map[string]string)}

	// A file that no longer parses is attributed to the definition it
	// last produced, which need not match its file name.
	byFile := make(map[string]string, len(prev.defs))
	for name, def := range prev.defs {
		byFile[def.Source] = name
	}
	for file, err := range parseErrs {
		name, ok := byFile[file]
		if !ok {
			name = nameFromFile(file)
		}
		report.Rejected[name] = err.Error()
	}

	built := make(map[string]*types.Definition, len(docs))
	for name, doc := range docs {
		def, err := r.build(name, doc, docs)
		if err != nil {
			report.Rejected[name] = err.Error()
			continue
		}
		built[name] = def
	}

	// Cross-definition checks only see definitions that passed on their own.
	for name, res := range ValidateRefs(built) {
		if res.HasErrors() {
			report.Rejected[name] = res.Error()
			delete(built, name)
		}
	}

	for name, reason := range report.Rejected {
		if old, ok := prev.defs[name]; ok {
			built[name] = old
			report.Kept = append(report.Kept, name)
		}
		r.logger.Error("definition rejected", "definition", name, "error", reason)
	}
	for name := range built {
		if _, rejected := report.Rejected[name]; !rejected {
			report.Loaded = append(report.Loaded, name)
		}
	}
	sort.Strings(report.Loaded)
	sort.Strings(report.Kept)

	r.current.Store(&Snapshot{defs: built, LoadedAt: time.Now()})
	r.logger.Info("definitions loaded", "loaded", len(report.Loaded), "rejected", len(report.Rejected))
	return report, nil
}

func (r *Registry) build(name string, doc *Document, docs map[string]*Document) (*types.Definition, error) {
	merged, err := resolve(name, docs)
	if err != nil {
		return nil, err
	}
	def, err := decode(merged, doc.Path)
	if err != nil {
		return nil, err
	}
	if res := r.validator.Validate(def); res.HasErrors() {
		return nil, gerrors.Wrap(gerrors.CodeDefinitionInvalid, "invalid definition "+name, res).
			WithDetail("definition", name)
	}
	return def, nil
}

// ValidateFile checks a single file as it would load alongside the current
// definitions, without installing it.
func (r *Registry) ValidateFile(path string) (*types.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gerrors.DefinitionParse(path, err)
	}
	doc, err := ParseDocument(data, path, SourceProject)
	if err != nil {
		return nil, err
	}

	docs, _ := r.loader.LoadDocuments()
	docs[doc.Name] = doc
	def, err := r.build(doc.Name, doc, docs)
	if err != nil {
		return nil, err
	}

	all := make(map[string]*types.Definition)
	for n, d := range r.Snapshot().defs {
		all[n] = d
	}
	all[def.Name] = def
	if res, ok := ValidateRefs(all)[def.Name]; ok && res.HasErrors() {
		return nil, gerrors.Wrap(gerrors.CodeDefinitionInvalid, "invalid definition "+def.Name, res)
	}
	return def, nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*types.Definition, error) {
	def, ok := r.Snapshot().Get(name)
	if !ok {
		return nil, gerrors.DefinitionNotFound(name)
	}
	return def, nil
}

// GetTyped returns a definition and checks its type.
func (r *Registry) GetTyped(name string, want types.DefinitionType) (*types.Definition, error) {
	def, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if def.Type != want {
		return nil, gerrors.DefinitionWrongType(name, string(want), string(def.Type))
	}
	return def, nil
}

// List returns all definitions sorted by name, optionally filtered by type.
func (r *Registry) List(filter types.DefinitionType) []*types.Definition {
	snap := r.Snapshot()
	out := make([]*types.Definition, 0, len(snap.defs))
	for _, d := range snap.defs {
		if filter == "" || d.Type == filter {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lifecycles returns enabled lifecycle definitions in dispatch order.
func (r *Registry) Lifecycles() []*types.Definition {
	var out []*types.Definition
	for _, d := range r.List(types.DefinitionLifecycle) {
		if d.IsEnabled() {
			out = append(out, d)
		}
	}
	SortByPriority(out)
	return out
}

// SortByPriority orders definitions by ascending priority, then name.
func SortByPriority(defs []*types.Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		pi, pj := defs[i].EffectivePriority(), defs[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return defs[i].Name < defs[j].Name
	})
}

// String describes the report for CLI output.
func (rep *ReloadReport) String() string {
	return fmt.Sprintf("%d loaded, %d rejected (%d kept previous version)",
		len(rep.Loaded), len(rep.Rejected), len(rep.Kept))
}
