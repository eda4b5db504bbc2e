package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a Gobby project",
	Long: `Initialize Gobby in the current directory.

Creates the following structure:

  .gobby/
  ├── config.toml      # Project configuration
  ├── workflows/       # Lifecycle, step and pipeline definitions
  ├── plugins/         # Plugin manifests
  ├── context/         # Summaries, memories and skills
  ├── state/           # Session workflow state (gitignored)
  ├── executions/      # Pipeline executions (gitignored)
  └── logs/            # Daemon logs (gitignored)

Use --hooks to also create .claude/settings.json routing Claude Code hook
events to 'gobby hook'.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var initWithHooks bool

func init() {
	initCmd.Flags().BoolVar(&initWithHooks, "hooks", false, "setup Claude Code hooks")
	rootCmd.AddCommand(initCmd)
}

const defaultConfig = `# Gobby configuration
version = "1"

[paths]
workflow_dir = ".gobby/workflows"
state_dir = ".gobby/state"
executions_dir = ".gobby/executions"
plugins_dir = ".gobby/plugins"
tasks_dir = ".gobby/tasks"
context_dir = ".gobby/context"
logs_dir = ".gobby/logs"

[daemon]
http_addr = "127.0.0.1:60887"
enable_http = true

[actions]
default_timeout = "30s"
shell_timeout = "10m"
max_chain_depth = 10

[llm]
# "anthropic" reads the key from api_key_env; "command" pipes the prompt to command.
provider = "anthropic"
api_key_env = "ANTHROPIC_API_KEY"

[state]
# Keep a copy of session state when a session ends.
archive_on_end = true

[approvals]
sweep_schedule = "@every 30s"

[logging]
level = "info"
format = "json"
`

const gitignore = `state/
executions/
logs/
tasks/
gobby.sock
`

// claudeHookEvents are the Claude Code events routed to the daemon.
var claudeHookEvents = []string{
	"SessionStart", "SessionEnd", "UserPromptSubmit", "PreToolUse",
	"PostToolUse", "Stop", "PreCompact", "SubagentStop",
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	gobbyDir := filepath.Join(dir, ".gobby")
	if _, err := os.Stat(filepath.Join(gobbyDir, "config.toml")); err == nil {
		return fmt.Errorf("gobby project already initialized (found .gobby/config.toml)")
	}

	for _, sub := range []string{"workflows", "plugins", "context", "state", "executions", "logs"} {
		d := filepath.Join(gobbyDir, sub)
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(gobbyDir, "config.toml"), []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(gobbyDir, ".gitignore"), []byte(gitignore), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	hooksCreated := false
	if initWithHooks {
		hooksCreated, err = setupClaudeHooks(dir)
		if err != nil {
			fmt.Fprintf(out, "Warning: could not setup Claude Code hooks: %v\n", err)
		}
	}

	fmt.Fprintln(out, "Initialized Gobby project in", dir)
	fmt.Fprintln(out, "\nCreated:")
	fmt.Fprintln(out, "  .gobby/config.toml   - configuration")
	fmt.Fprintln(out, "  .gobby/workflows/    - definitions")
	if hooksCreated {
		fmt.Fprintln(out, "  .claude/settings.json - Claude Code hooks")
	}
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Start the daemon:      gobby daemon")
	fmt.Fprintln(out, "  2. Add a definition:      .gobby/workflows/<name>.yaml")
	fmt.Fprintln(out, "  3. Check it:              gobby workflow validate")
	return nil
}

// setupClaudeHooks writes .claude/settings.json routing every supported
// event to 'gobby hook'. An existing file is left alone.
func setupClaudeHooks(dir string) (bool, error) {
	claudeDir := filepath.Join(dir, ".claude")
	settingsPath := filepath.Join(claudeDir, "settings.json")
	if _, err := os.Stat(settingsPath); err == nil {
		return false, fmt.Errorf("%s already exists; add the gobby hooks manually", settingsPath)
	}
	if err := os.MkdirAll(claudeDir, 0755); err != nil {
		return false, err
	}

	type hookCommand struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}
	type hookMatcher struct {
		Matcher string        `json:"matcher,omitempty"`
		Hooks   []hookCommand `json:"hooks"`
	}
	hooks := make(map[string][]hookMatcher, len(claudeHookEvents))
	for _, ev := range claudeHookEvents {
		m := hookMatcher{Hooks: []hookCommand{{Type: "command", Command: "gobby hook --source claude"}}}
		if ev == "PreToolUse" || ev == "PostToolUse" {
			m.Matcher = "*"
		}
		hooks[ev] = []hookMatcher{m}
	}
	data, err := json.MarshalIndent(map[string]any{"hooks": hooks}, "", "  ")
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(settingsPath, append(data, '\n'), 0644); err != nil {
		return false, err
	}
	return true, nil
}
