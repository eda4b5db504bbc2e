// Package actions implements the action executor: a typed registry of named
// side-effecting operations invoked from workflow action lists.
package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Result is the structured outcome of an action. The reserved key "value" is
// what output_as stores; "error" carries a failure message.
type Result map[string]any

// Func is an action implementation. It must honor ctx cancellation.
type Func func(ctx context.Context, actx *Context, args Args) (Result, error)

// PluginPrefix namespaces plugin actions as plugin:<plugin>:<action>.
const PluginPrefix = "plugin:"

// PluginActionName returns the registry name of a plugin action.
func PluginActionName(plugin, action string) string {
	return PluginPrefix + plugin + ":" + action
}

type entry struct {
	fn      Func
	timeout time.Duration // Zero means the executor default
}

// Registry maps action names to implementations.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]entry)}
}

// Register adds an action. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	return r.RegisterWithTimeout(name, fn, 0)
}

// RegisterWithTimeout adds an action with its own default timeout.
func (r *Registry) RegisterWithTimeout(name string, fn Func, timeout time.Duration) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("action name is required")
	}
	if fn == nil {
		return fmt.Errorf("action %s: nil func", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}
	r.actions[name] = entry{fn: fn, timeout: timeout}
	return nil
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return e, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
