package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration. Relative paths resolve against the
// project directory.
type PathsConfig struct {
	WorkflowDir     string `toml:"workflow_dir"`      // Project definitions
	UserWorkflowDir string `toml:"user_workflow_dir"` // Shared definitions (lower precedence)
	StateDir        string `toml:"state_dir"`         // Session workflow state
	ExecutionsDir   string `toml:"executions_dir"`    // Pipeline executions
	PluginsDir      string `toml:"plugins_dir"`       // Plugin manifests
	TasksDir        string `toml:"tasks_dir"`         // File task store
	ContextDir      string `toml:"context_dir"`       // Summaries, memories, skills
	LogsDir         string `toml:"logs_dir"`
}

// DaemonConfig holds daemon listener settings.
type DaemonConfig struct {
	Socket     string `toml:"socket"`      // Unix socket for the CLI and hooks
	HTTPAddr   string `toml:"http_addr"`   // Empty disables the HTTP API
	EnableHTTP bool   `toml:"enable_http"` // Serve the HTTP API and event stream
}

// ActionsConfig holds action executor limits.
type ActionsConfig struct {
	DefaultTimeout time.Duration `toml:"default_timeout"` // Per-action bound
	ShellTimeout   time.Duration `toml:"shell_timeout"`   // run_command and pipeline exec
	Shell          string        `toml:"shell"`
	MaxChainDepth  int           `toml:"max_chain_depth"` // Auto-transition chain limit
}

// LLMConfig selects and configures the LLM bridge.
type LLMConfig struct {
	Provider  string        `toml:"provider"` // "anthropic" or "command"
	Model     string        `toml:"model"`
	APIKeyEnv string        `toml:"api_key_env"`
	BaseURL   string        `toml:"base_url"`
	MaxTokens int64         `toml:"max_tokens"`
	Command   string        `toml:"command"` // For provider "command"; prompt is passed on stdin
	Timeout   time.Duration `toml:"timeout"`
}

// MCPServerConfig describes one stdio MCP server reachable by call_mcp_tool.
type MCPServerConfig struct {
	Command  string            `toml:"command"`
	Args     []string          `toml:"args"`
	Env      map[string]string `toml:"env"`
	Disabled bool              `toml:"disabled"`
}

// MCPConfig holds MCP bridge settings.
type MCPConfig struct {
	Timeout time.Duration              `toml:"timeout"`
	Servers map[string]MCPServerConfig `toml:"servers"`
}

// WebhookConfig holds webhook retry defaults.
type WebhookConfig struct {
	Timeout         time.Duration `toml:"timeout"`
	MaxAttempts     int           `toml:"max_attempts"`
	BaseDelay       time.Duration `toml:"base_delay"`
	RetryOnStatuses []int         `toml:"retry_on_statuses"`
}

// StateConfig holds session state retention settings.
type StateConfig struct {
	ArchiveOnEnd bool `toml:"archive_on_end"` // Archive instead of deleting at session end
}

// ApprovalsConfig holds approval gate settings.
type ApprovalsConfig struct {
	DefaultTimeout time.Duration `toml:"default_timeout"` // Used when a gate sets no timeout_seconds; 0 = never expires
	SweepSchedule  string        `toml:"sweep_schedule"`  // cron spec for expiring stale approvals
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for Gobby.
type Config struct {
	Version   string          `toml:"version"`
	Paths     PathsConfig     `toml:"paths"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Actions   ActionsConfig   `toml:"actions"`
	LLM       LLMConfig       `toml:"llm"`
	MCP       MCPConfig       `toml:"mcp"`
	Webhooks  WebhookConfig   `toml:"webhooks"`
	State     StateConfig     `toml:"state"`
	Approvals ApprovalsConfig `toml:"approvals"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			WorkflowDir:     ".gobby/workflows",
			UserWorkflowDir: "",
			StateDir:        ".gobby/state",
			ExecutionsDir:   ".gobby/executions",
			PluginsDir:      ".gobby/plugins",
			TasksDir:        ".gobby/tasks",
			ContextDir:      ".gobby/context",
			LogsDir:         ".gobby/logs",
		},
		Daemon: DaemonConfig{
			Socket:     "",
			HTTPAddr:   "127.0.0.1:60887",
			EnableHTTP: true,
		},
		Actions: ActionsConfig{
			DefaultTimeout: 30 * time.Second,
			ShellTimeout:   10 * time.Minute,
			Shell:          "/bin/sh",
			MaxChainDepth:  10,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-3-5-haiku-latest",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
			Timeout:   2 * time.Minute,
		},
		MCP: MCPConfig{
			Timeout: 60 * time.Second,
			Servers: map[string]MCPServerConfig{},
		},
		Webhooks: WebhookConfig{
			Timeout:         10 * time.Second,
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			RetryOnStatuses: []int{429, 500, 502, 503, 504},
		},
		State: StateConfig{
			ArchiveOnEnd: true,
		},
		Approvals: ApprovalsConfig{
			DefaultTimeout: 0,
			SweepSchedule:  "@every 30s",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   "",
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.gobby/config.toml -> .gobby/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		cfg.Paths.UserWorkflowDir = filepath.Join(home, ".gobby", "workflows")
		globalConfig := filepath.Join(home, ".gobby", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".gobby", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.WorkflowDir == "" {
		return fmt.Errorf("workflow_dir is required")
	}
	if c.Paths.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Paths.ExecutionsDir == "" {
		return fmt.Errorf("executions_dir is required")
	}
	if c.Actions.DefaultTimeout <= 0 {
		return fmt.Errorf("actions.default_timeout must be positive")
	}
	if c.Actions.MaxChainDepth <= 0 {
		return fmt.Errorf("actions.max_chain_depth must be positive")
	}
	switch c.LLM.Provider {
	case "anthropic", "command", "":
	default:
		return fmt.Errorf("llm.provider must be anthropic or command, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "command" && c.LLM.Command == "" {
		return fmt.Errorf("llm.command is required for the command provider")
	}
	if c.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhooks.max_attempts must be positive")
	}
	if c.Webhooks.BaseDelay < 0 {
		return fmt.Errorf("webhooks.base_delay must not be negative")
	}
	for name, srv := range c.MCP.Servers {
		if srv.Command == "" && !srv.Disabled {
			return fmt.Errorf("mcp server %s: command is required", name)
		}
	}
	return nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// WorkflowDirs returns definition directories in precedence order (project first).
func (c *Config) WorkflowDirs(baseDir string) []string {
	dirs := []string{resolve(baseDir, c.Paths.WorkflowDir)}
	if c.Paths.UserWorkflowDir != "" {
		dirs = append(dirs, resolve(baseDir, c.Paths.UserWorkflowDir))
	}
	return dirs
}

// StateDir returns the absolute session state directory path.
func (c *Config) StateDir(baseDir string) string {
	return resolve(baseDir, c.Paths.StateDir)
}

// ExecutionsDir returns the absolute pipeline execution directory path.
func (c *Config) ExecutionsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.ExecutionsDir)
}

// PluginsDir returns the absolute plugin manifest directory path.
func (c *Config) PluginsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.PluginsDir)
}

// TasksDir returns the absolute task store directory path.
func (c *Config) TasksDir(baseDir string) string {
	return resolve(baseDir, c.Paths.TasksDir)
}

// ContextDir returns the absolute context source directory path.
func (c *Config) ContextDir(baseDir string) string {
	return resolve(baseDir, c.Paths.ContextDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return resolve(baseDir, c.Paths.LogsDir)
}

// LogFile returns the absolute log file path, or "" when file logging is off.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.LogsDir(baseDir), c.Logging.File)
}

// SocketPath returns the daemon socket path. Defaults to .gobby/gobby.sock
// under the project directory.
func (c *Config) SocketPath(baseDir string) string {
	if c.Daemon.Socket != "" {
		return resolve(baseDir, c.Daemon.Socket)
	}
	return filepath.Join(baseDir, ".gobby", "gobby.sock")
}
