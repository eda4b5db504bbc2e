package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobby-stack/gobby/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook [event]",
	Short: "Forward a CLI hook event to the daemon",
	Long: `Read a hook payload from stdin, send it to the daemon and print the
response in the calling CLI's format.

The event name is taken from the payload unless given as an argument.
If the daemon cannot be reached the hook allows the action and prints
nothing, so a stopped daemon never wedges the CLI.

Example (Claude Code settings.json):
  "command": "gobby hook --source claude"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHook,
}

var (
	hookSource  string
	hookTimeout time.Duration
)

func init() {
	hookCmd.Flags().StringVar(&hookSource, "source", hooks.SourceClaude, "calling CLI: claude, gemini or codex")
	hookCmd.Flags().DurationVar(&hookTimeout, "timeout", 30*time.Second, "how long to wait for the daemon")
	rootCmd.AddCommand(hookCmd)
}

func runHook(cmd *cobra.Command, args []string) error {
	event := ""
	if len(args) > 0 {
		event = args[0]
	}
	payload, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading hook payload: %w", err)
	}
	ev, err := hooks.Normalize(hookSource, event, payload)
	if err != nil {
		return err
	}
	if ev.Cwd == "" {
		ev.Cwd, _ = getWorkDir()
	}

	client, err := newClient(hookTimeout)
	if err != nil {
		return err
	}
	resp, err := client.Hook(commandContext(cmd), ev)
	if err != nil {
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "gobby: daemon unavailable, allowing: %v\n", err)
		}
		return nil
	}

	out, err := hooks.Render(hookSource, ev, resp)
	if err != nil {
		return err
	}
	if len(out) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}
