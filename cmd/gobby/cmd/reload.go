package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload definitions in the running daemon",
	Long: `Ask the daemon to reload definitions from disk. A definition that fails
to load keeps its previous version; the rest take effect immediately.`,
	Args: cobra.NoArgs,
	RunE: runReload,
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

func runReload(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	res, err := client.Reload(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	printRejected(out, res.Rejected)
	fmt.Fprintf(out, "%d loaded, %d rejected (%d kept previous version)\n", len(res.Loaded), len(res.Rejected), len(res.Kept))
	return nil
}
