package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Version != "1" {
		t.Errorf("Version = %s, want 1", cfg.Version)
	}
	if cfg.Paths.WorkflowDir != ".gobby/workflows" {
		t.Errorf("WorkflowDir = %s, want .gobby/workflows", cfg.Paths.WorkflowDir)
	}
	if cfg.Actions.DefaultTimeout != 30*time.Second {
		t.Errorf("DefaultTimeout = %v, want 30s", cfg.Actions.DefaultTimeout)
	}
	if cfg.Actions.MaxChainDepth != 10 {
		t.Errorf("MaxChainDepth = %d, want 10", cfg.Actions.MaxChainDepth)
	}
	if cfg.Webhooks.MaxAttempts != 3 {
		t.Errorf("Webhooks.MaxAttempts = %d, want 3", cfg.Webhooks.MaxAttempts)
	}
	if cfg.Approvals.SweepSchedule != "@every 30s" {
		t.Errorf("SweepSchedule = %s, want @every 30s", cfg.Approvals.SweepSchedule)
	}
	if cfg.Logging.Level != LogLevelInfo {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	content := `
version = "2"

[paths]
workflow_dir = "custom/workflows"
state_dir = "custom/state"

[actions]
default_timeout = "5s"

[llm]
provider = "command"
command = "claude -p"

[mcp.servers.files]
command = "mcp-files"
args = ["--root", "."]

[webhooks]
retry_on_statuses = [503]

[logging]
level = "debug"
format = "text"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Version != "2" {
		t.Errorf("Version = %s, want 2", cfg.Version)
	}
	if cfg.Paths.WorkflowDir != "custom/workflows" {
		t.Errorf("WorkflowDir = %s, want custom/workflows", cfg.Paths.WorkflowDir)
	}
	if cfg.Paths.ExecutionsDir != ".gobby/executions" {
		t.Errorf("ExecutionsDir = %s, want default to survive", cfg.Paths.ExecutionsDir)
	}
	if cfg.Actions.DefaultTimeout != 5*time.Second {
		t.Errorf("DefaultTimeout = %v, want 5s", cfg.Actions.DefaultTimeout)
	}
	if cfg.LLM.Provider != "command" || cfg.LLM.Command != "claude -p" {
		t.Errorf("LLM = %+v, want command provider", cfg.LLM)
	}
	srv, ok := cfg.MCP.Servers["files"]
	if !ok {
		t.Fatal("expected mcp server files")
	}
	if srv.Command != "mcp-files" || len(srv.Args) != 2 {
		t.Errorf("server = %+v", srv)
	}
	if len(cfg.Webhooks.RetryOnStatuses) != 1 || cfg.Webhooks.RetryOnStatuses[0] != 503 {
		t.Errorf("RetryOnStatuses = %v, want [503]", cfg.Webhooks.RetryOnStatuses)
	}
	if cfg.Logging.Level != LogLevelDebug {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load should not fail for non-existent file: %v", err)
	}
	if cfg.Version != "1" {
		t.Errorf("Should return defaults, got version = %s", cfg.Version)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(configPath, []byte(`invalid = [toml content`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load should fail for invalid TOML")
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("project-local config", func(t *testing.T) {
		dir := t.TempDir()
		gobbyDir := filepath.Join(dir, ".gobby")
		if err := os.MkdirAll(gobbyDir, 0755); err != nil {
			t.Fatalf("Failed to create .gobby dir: %v", err)
		}

		content := `version = "project-local"`
		if err := os.WriteFile(filepath.Join(gobbyDir, "config.toml"), []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		cfg, err := LoadFromDir(dir)
		if err != nil {
			t.Fatalf("LoadFromDir failed: %v", err)
		}
		if cfg.Version != "project-local" {
			t.Errorf("Version = %s, want project-local", cfg.Version)
		}
	})

	t.Run("invalid project config", func(t *testing.T) {
		dir := t.TempDir()
		gobbyDir := filepath.Join(dir, ".gobby")
		if err := os.MkdirAll(gobbyDir, 0755); err != nil {
			t.Fatalf("Failed to create .gobby dir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(gobbyDir, "config.toml"), []byte(`invalid = [toml`), 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		if _, err := LoadFromDir(dir); err == nil {
			t.Error("LoadFromDir should fail with invalid TOML")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(*Config) {}, false},
		{"missing version", func(c *Config) { c.Version = "" }, true},
		{"missing workflow_dir", func(c *Config) { c.Paths.WorkflowDir = "" }, true},
		{"zero timeout", func(c *Config) { c.Actions.DefaultTimeout = 0 }, true},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "openai" }, true},
		{"command provider without command", func(c *Config) { c.LLM.Provider = "command" }, true},
		{"zero webhook attempts", func(c *Config) { c.Webhooks.MaxAttempts = 0 }, true},
		{"mcp server without command", func(c *Config) {
			c.MCP.Servers["x"] = MCPServerConfig{}
		}, true},
		{"disabled mcp server without command", func(c *Config) {
			c.MCP.Servers["x"] = MCPServerConfig{Disabled: true}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_PathHelpers(t *testing.T) {
	cfg := Default()
	baseDir := "/project"

	if got := cfg.StateDir(baseDir); got != "/project/.gobby/state" {
		t.Errorf("StateDir = %s, want /project/.gobby/state", got)
	}
	if got := cfg.ExecutionsDir(baseDir); got != "/project/.gobby/executions" {
		t.Errorf("ExecutionsDir = %s", got)
	}
	if got := cfg.SocketPath(baseDir); got != "/project/.gobby/gobby.sock" {
		t.Errorf("SocketPath = %s", got)
	}

	cfg.Paths.UserWorkflowDir = "/home/u/.gobby/workflows"
	dirs := cfg.WorkflowDirs(baseDir)
	if len(dirs) != 2 || dirs[0] != "/project/.gobby/workflows" || dirs[1] != "/home/u/.gobby/workflows" {
		t.Errorf("WorkflowDirs = %v", dirs)
	}

	cfg.Paths.StateDir = "/absolute/state"
	if got := cfg.StateDir(baseDir); got != "/absolute/state" {
		t.Errorf("StateDir (abs) = %s, want /absolute/state", got)
	}

	if got := cfg.LogFile(baseDir); got != "" {
		t.Errorf("LogFile = %q, want empty when unset", got)
	}
	cfg.Logging.File = "daemon.log"
	if got := cfg.LogFile(baseDir); got != "/project/.gobby/logs/daemon.log" {
		t.Errorf("LogFile = %s", got)
	}
}
