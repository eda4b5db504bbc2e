package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the daemon's controls as MCP tools over stdio",
	Long: `Run an MCP server on stdin/stdout exposing pipeline, approval and
session workflow tools. Calls are forwarded to the project's daemon, which
must be running.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	// Pipelines may run for a long time before pausing or finishing.
	client.SetTimeout(0)
	logger := logging.NewDefault()
	return mcpserver.New(client, Version, logger).ServeStdio()
}
