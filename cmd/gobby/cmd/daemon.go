package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gobby-stack/gobby/internal/config"
	"github.com/gobby-stack/gobby/internal/daemon"
	"github.com/gobby-stack/gobby/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the workflow daemon",
	Long: `Run the daemon in the foreground.

The daemon loads definitions, listens on the project socket
(.gobby/gobby.sock by default) for hooks and CLI requests, and serves the
HTTP API when daemon.enable_http is set. It stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonHTTPAddr string

func init() {
	daemonCmd.Flags().StringVar(&daemonHTTPAddr, "http", "", "serve the HTTP API on this address (overrides config)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = config.LogLevelDebug
	}
	if daemonHTTPAddr != "" {
		cfg.Daemon.HTTPAddr = daemonHTTPAddr
		cfg.Daemon.EnableHTTP = true
	}

	logger, closer, err := logging.NewFromConfig(cfg, dir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, dir, logger)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
