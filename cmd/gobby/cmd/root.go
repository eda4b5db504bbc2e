package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gobby-stack/gobby/internal/config"
	"github.com/gobby-stack/gobby/internal/ipc"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Global flags
	verbose    bool
	workDir    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gobby",
	Short: "Workflow engine for AI coding sessions",
	Long: `Gobby enforces workflows on AI coding CLIs (Claude Code, Gemini CLI, Codex).

The daemon receives the CLI's hook events and answers with verdicts:
lifecycle workflows react to session events, step workflows gate tool use
per step, and pipelines run sequential steps with approval gates.

Definitions live in .gobby/workflows/ (project) and ~/.gobby/workflows/ (user).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "project directory (default: current)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("gobby {{.Version}}\n")
}

// getWorkDir returns the effective project directory as an absolute path.
func getWorkDir() (string, error) {
	dir := workDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
	}
	return filepath.Abs(dir)
}

// loadConfig loads defaults, the user config and the project config.
func loadConfig() (*config.Config, string, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, dir, nil
}

// newClient returns a client for the project's daemon.
func newClient(timeout time.Duration) (*ipc.Client, error) {
	cfg, dir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	client := ipc.NewClient(cfg.SocketPath(dir))
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return client, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseAssignments parses name=value pairs. Values are decoded as YAML
// scalars or flow collections, so 3, true and [a, b] keep their types;
// anything else stays a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected name=value)", p)
		}
		out[name] = parseValue(raw)
	}
	return out, nil
}

func parseValue(raw string) any {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
