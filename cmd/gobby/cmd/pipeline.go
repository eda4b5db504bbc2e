package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/types"
)

var pipelineCmd = &cobra.Command{
	Use:     "pipeline",
	Aliases: []string{"pipe"},
	Short:   "Run pipelines and answer approval gates",
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a pipeline",
	Long: `Run a pipeline and wait until it finishes or pauses at an approval gate.

A paused run prints its resume token; continue it with 'gobby pipeline
approve <token>' or stop it with 'gobby pipeline reject <token>'.

Examples:
  gobby pipeline run ci
  gobby pipeline run release --input version=1.4.0 --input dry_run=true`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineRun,
}

var pipelineApproveCmd = &cobra.Command{
	Use:   "approve <token>",
	Short: "Approve a paused pipeline and resume it",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineApprove,
}

var pipelineRejectCmd = &cobra.Command{
	Use:   "reject <token>",
	Short: "Reject a paused pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineReject,
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show a pipeline execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineStatus,
}

var pipelineCancelCmd = &cobra.Command{
	Use:   "cancel <execution-id>",
	Short: "Cancel a running or paused execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipelineCancel,
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pipeline executions",
	Args:  cobra.NoArgs,
	RunE:  runPipelineList,
}

var (
	pipelineInputs  []string
	pipelineSession string
	pipelineWorkdir string
	pipelineTimeout time.Duration
	pipelineReason  string

	listStatus   string
	listSession  string
	listPipeline string
)

func init() {
	pipelineRunCmd.Flags().StringArrayVar(&pipelineInputs, "input", nil, "pipeline input (format: name=value)")
	pipelineRunCmd.Flags().StringVar(&pipelineSession, "session", os.Getenv("GOBBY_SESSION_ID"), "bind the run to a session's workflow slot")
	pipelineRunCmd.Flags().StringVar(&pipelineWorkdir, "dir", "", "working directory for exec steps")
	pipelineRunCmd.Flags().DurationVar(&pipelineTimeout, "timeout", 0, "give up waiting after this long (0 waits indefinitely)")

	pipelineRejectCmd.Flags().StringVar(&pipelineReason, "reason", "", "why the step was rejected")

	pipelineListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	pipelineListCmd.Flags().StringVar(&listSession, "session", "", "filter by session")
	pipelineListCmd.Flags().StringVar(&listPipeline, "pipeline", "", "filter by pipeline name")

	pipelineCmd.AddCommand(pipelineRunCmd, pipelineApproveCmd, pipelineRejectCmd,
		pipelineStatusCmd, pipelineCancelCmd, pipelineListCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func runPipelineRun(cmd *cobra.Command, args []string) error {
	inputs, err := parseAssignments(pipelineInputs)
	if err != nil {
		return err
	}
	client, err := newClient(pipelineTimeout)
	if err != nil {
		return err
	}
	if pipelineTimeout == 0 {
		client.SetTimeout(0)
	}
	exec, err := client.RunPipeline(commandContext(cmd), &ipc.PipelineRunMessage{
		Type:      ipc.MsgPipelineRun,
		Pipeline:  args[0],
		Inputs:    inputs,
		SessionID: pipelineSession,
		Workdir:   pipelineWorkdir,
	})
	if err != nil {
		return err
	}
	if err := printExecution(cmd.OutOrStdout(), exec); err != nil {
		return err
	}
	return executionError(exec)
}

// executionError turns a failed or cancelled run into a non-zero exit.
func executionError(exec *types.Execution) error {
	switch exec.Status {
	case types.ExecutionFailed:
		return fmt.Errorf("pipeline %s failed", exec.Pipeline)
	case types.ExecutionCancelled:
		return fmt.Errorf("pipeline %s was cancelled", exec.Pipeline)
	}
	return nil
}

func runPipelineApprove(cmd *cobra.Command, args []string) error {
	// Approval resumes the run, which may take as long as the run itself.
	client, err := newClient(0)
	if err != nil {
		return err
	}
	client.SetTimeout(0)
	exec, err := client.ApprovePipeline(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if err := printExecution(cmd.OutOrStdout(), exec); err != nil {
		return err
	}
	return executionError(exec)
}

func runPipelineReject(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	exec, err := client.RejectPipeline(commandContext(cmd), args[0], pipelineReason)
	if err != nil {
		return err
	}
	return printExecution(cmd.OutOrStdout(), exec)
}

func runPipelineStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	exec, err := client.PipelineStatus(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return printExecution(cmd.OutOrStdout(), exec)
}

func runPipelineCancel(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	exec, err := client.CancelPipeline(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	return printExecution(cmd.OutOrStdout(), exec)
}

func runPipelineList(cmd *cobra.Command, args []string) error {
	client, err := newClient(0)
	if err != nil {
		return err
	}
	execs, err := client.ListPipelines(commandContext(cmd), types.ExecutionFilter{
		Status:    types.ExecutionStatus(listStatus),
		SessionID: listSession,
		Pipeline:  listPipeline,
	})
	if err != nil {
		return err
	}
	return printExecutions(cmd.OutOrStdout(), execs)
}
