package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gobby-stack/gobby/internal/executor"
)

// PluginManifestName is the manifest file inside each plugin directory.
const PluginManifestName = "plugin.toml"

var pluginNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Plugin is a compiled-in action bundle. It is only registered when a
// manifest in the plugins directory enables it.
type Plugin interface {
	Name() string
	Register(r *PluginRegistrar) error
}

// PluginRegistrar registers a plugin's actions under its namespace.
type PluginRegistrar struct {
	plugin   string
	registry *Registry
	deps     *Deps
	settings map[string]any
}

// Action registers plugin:<plugin>:<name>.
func (p *PluginRegistrar) Action(name string, fn Func) error {
	return p.registry.Register(PluginActionName(p.plugin, name), fn)
}

// Deps returns the shared action collaborators.
func (p *PluginRegistrar) Deps() *Deps { return p.deps }

// Settings returns the manifest's [settings] table.
func (p *PluginRegistrar) Settings() map[string]any { return p.settings }

// PluginManifest is a parsed plugin.toml:
//
//	[plugin]
//	name = "workspace"
//	enabled = true
//
//	[[actions]]
//	name = "lint"
//	command = "golangci-lint run ./..."
//	timeout = "2m"
type PluginManifest struct {
	Plugin   PluginMeta      `toml:"plugin"`
	Settings map[string]any  `toml:"settings"`
	Actions  []CommandAction `toml:"actions"`
	Dir      string          `toml:"-"`
}

// PluginMeta is the [plugin] table.
type PluginMeta struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Version     string `toml:"version"`
	Enabled     *bool  `toml:"enabled"`
}

// IsEnabled defaults to true.
func (m *PluginManifest) IsEnabled() bool {
	return m.Plugin.Enabled == nil || *m.Plugin.Enabled
}

// CommandAction is a manifest-declared action backed by a shell command.
// The rendered arguments reach the command as JSON in GOBBY_ARGS.
type CommandAction struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Command     string `toml:"command"`
	Timeout     string `toml:"timeout"`
}

// ParsePluginManifest reads dir/plugin.toml.
func ParsePluginManifest(dir string) (*PluginManifest, error) {
	path := filepath.Join(dir, PluginManifestName)
	var m PluginManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("decode plugin manifest %s: %w", path, err)
	}
	m.Dir = dir
	if !pluginNamePattern.MatchString(m.Plugin.Name) {
		return nil, fmt.Errorf("plugin manifest %s: invalid name %q", path, m.Plugin.Name)
	}
	seen := make(map[string]bool)
	for i, a := range m.Actions {
		if !pluginNamePattern.MatchString(a.Name) {
			return nil, fmt.Errorf("plugin %s: action %d has invalid name %q", m.Plugin.Name, i, a.Name)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("plugin %s: duplicate action %s", m.Plugin.Name, a.Name)
		}
		seen[a.Name] = true
		if strings.TrimSpace(a.Command) == "" {
			return nil, fmt.Errorf("plugin %s: action %s has no command", m.Plugin.Name, a.Name)
		}
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				return nil, fmt.Errorf("plugin %s: action %s: invalid timeout %q", m.Plugin.Name, a.Name, a.Timeout)
			}
		}
	}
	return &m, nil
}

// LoadPlugins reads every <dir>/<plugin>/plugin.toml and registers the
// enabled ones: the matching compiled plugin (if any) and the manifest's
// command actions. A broken manifest is logged and skipped. Returns the
// names of the plugins registered.
func LoadPlugins(dir string, compiled []Plugin, r *Registry, d *Deps, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	byName := make(map[string]Plugin, len(compiled))
	for _, p := range compiled {
		byName[p.Name()] = p
	}

	var loaded []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pdir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(pdir, PluginManifestName)); err != nil {
			continue
		}
		m, err := ParsePluginManifest(pdir)
		if err != nil {
			logger.Warn("skipping plugin", "dir", pdir, "error", err)
			continue
		}
		if !m.IsEnabled() {
			logger.Debug("plugin disabled", "plugin", m.Plugin.Name)
			continue
		}
		if err := registerPlugin(m, byName[m.Plugin.Name], r, d); err != nil {
			logger.Warn("plugin registration failed", "plugin", m.Plugin.Name, "error", err)
			continue
		}
		loaded = append(loaded, m.Plugin.Name)
		logger.Info("plugin loaded", "plugin", m.Plugin.Name, "command_actions", len(m.Actions))
	}
	sort.Strings(loaded)
	return loaded, nil
}

func registerPlugin(m *PluginManifest, p Plugin, r *Registry, d *Deps) error {
	if p == nil && len(m.Actions) == 0 {
		return fmt.Errorf("no compiled plugin named %s and no command actions", m.Plugin.Name)
	}
	if p != nil {
		reg := &PluginRegistrar{plugin: m.Plugin.Name, registry: r, deps: d, settings: m.Settings}
		if err := p.Register(reg); err != nil {
			return err
		}
	}
	for _, a := range m.Actions {
		var timeout time.Duration
		if a.Timeout != "" {
			timeout, _ = time.ParseDuration(a.Timeout)
		}
		fn := commandAction(m.Plugin.Name, m.Dir, a, d)
		if err := r.RegisterWithTimeout(PluginActionName(m.Plugin.Name, a.Name), fn, timeout); err != nil {
			return err
		}
	}
	return nil
}

func commandAction(plugin, dir string, a CommandAction, d *Deps) Func {
	return func(ctx context.Context, actx *Context, args Args) (Result, error) {
		if d.Shell == nil {
			return nil, fmt.Errorf("shell executor not configured")
		}
		encoded, err := json.Marshal(map[string]any(args))
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		workdir := actx.workdir()
		if workdir == "" {
			workdir = dir
		}
		out, err := d.Shell.Run(ctx, executor.Command{
			Script:  a.Command,
			Workdir: workdir,
			Env: map[string]string{
				"GOBBY_ARGS":       string(encoded),
				"GOBBY_SESSION_ID": actx.SessionID,
				"GOBBY_PLUGIN_DIR": dir,
			},
		})
		if err != nil {
			return nil, err
		}
		if out.ExitCode != 0 {
			return nil, fmt.Errorf("plugin %s action %s exited %d: %s", plugin, a.Name, out.ExitCode, strings.TrimSpace(out.Stderr))
		}
		text := strings.TrimSpace(out.Stdout)
		var decoded any
		if text != "" && json.Unmarshal([]byte(text), &decoded) == nil {
			return Result{"value": decoded}, nil
		}
		return Result{"value": text}, nil
	}
}
