package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gobby-stack/gobby/internal/daemon"
	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/logging"
	"github.com/gobby-stack/gobby/internal/types"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Inspect definitions and control session workflows",
	Long: `Inspect loaded definitions and control the step workflow of a session.

Session commands take --session, which defaults to $GOBBY_SESSION_ID.`,
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded definitions",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate definition files without a daemon",
	Long: `Validate definitions offline.

With no arguments every definition in the workflow directories is loaded
and problems are reported. With files, each file is checked as it would
load alongside the existing definitions.`,
	RunE: runWorkflowValidate,
}

var workflowActivateCmd = &cobra.Command{
	Use:   "activate <workflow>",
	Short: "Activate a step workflow for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowActivate,
}

var workflowEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the session's active workflow",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.WorkflowEndMessage{Type: ipc.MsgWorkflowEnd, SessionID: id}
		})
	},
}

var workflowTransitionCmd = &cobra.Command{
	Use:   "transition <step>",
	Short: "Move the active step workflow to another step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.WorkflowTransitionMessage{Type: ipc.MsgWorkflowTransition, SessionID: id, To: args[0], Force: transitionForce}
		})
	},
}

var workflowApproveCmd = &cobra.Command{
	Use:   "approve-step",
	Short: "Record user approval for the current step",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.WorkflowApproveMessage{Type: ipc.MsgWorkflowApprove, SessionID: id}
		})
	},
}

var workflowStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show a session's workflow state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.GetStateMessage{Type: ipc.MsgGetState, SessionID: id}
		})
	},
}

var workflowClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Force-clear the session's workflow slot",
	Long: `Abandon whatever occupies the session's workflow slot. In-flight work
for the session is cancelled, a pipeline in the slot is cancelled, and
on_exit actions are not run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.WorkflowClearMessage{Type: ipc.MsgWorkflowClear, SessionID: id}
		})
	},
}

var workflowSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a session variable",
	Long: `Set a session variable. The value is parsed as YAML, so true, 3 and
[a, b] keep their types.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRequest(cmd, func(id string) ipc.Message {
			return &ipc.SetVariableMessage{Type: ipc.MsgSetVariable, SessionID: id, Name: args[0], Value: parseValue(args[1])}
		})
	},
}

var (
	workflowSession string
	workflowType    string
	activateStep    string
	activateVars    []string
	transitionForce bool
)

func init() {
	workflowCmd.PersistentFlags().StringVar(&workflowSession, "session", os.Getenv("GOBBY_SESSION_ID"), "session ID")

	workflowListCmd.Flags().StringVar(&workflowType, "type", "", "filter by type: lifecycle, step or pipeline")
	workflowActivateCmd.Flags().StringVar(&activateStep, "step", "", "initial step (default: first)")
	workflowActivateCmd.Flags().StringArrayVar(&activateVars, "var", nil, "initial variable (format: name=value)")
	workflowTransitionCmd.Flags().BoolVar(&transitionForce, "force", false, "skip exit conditions")

	workflowCmd.AddCommand(workflowListCmd, workflowValidateCmd, workflowActivateCmd, workflowEndCmd,
		workflowTransitionCmd, workflowApproveCmd, workflowStateCmd, workflowClearCmd, workflowSetCmd)
	rootCmd.AddCommand(workflowCmd)
}

// sessionRequest sends a session-scoped request and prints the new state.
func sessionRequest(cmd *cobra.Command, build func(sessionID string) ipc.Message) error {
	if workflowSession == "" {
		return fmt.Errorf("no session: pass --session or set GOBBY_SESSION_ID")
	}
	client, err := newClient(0)
	if err != nil {
		return err
	}
	st, err := client.SessionRequest(commandContext(cmd), build(workflowSession))
	if err != nil {
		return err
	}
	return printState(cmd.OutOrStdout(), st)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	switch t := types.DefinitionType(workflowType); t {
	case "", types.DefinitionLifecycle, types.DefinitionStep, types.DefinitionPipeline:
	default:
		return fmt.Errorf("unknown definition type %q", workflowType)
	}
	client, err := newClient(0)
	if err != nil {
		return err
	}
	defs, err := client.ListDefinitions(commandContext(cmd), workflowType)
	if err != nil {
		return err
	}
	return printDefinitions(cmd.OutOrStdout(), defs)
}

func runWorkflowActivate(cmd *cobra.Command, args []string) error {
	vars, err := parseAssignments(activateVars)
	if err != nil {
		return err
	}
	return sessionRequest(cmd, func(id string) ipc.Message {
		return &ipc.WorkflowActivateMessage{
			Type:      ipc.MsgWorkflowActivate,
			SessionID: id,
			Workflow:  args[0],
			Step:      activateStep,
			Variables: vars,
		}
	})
}

func runWorkflowValidate(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewForTest()
	if verbose {
		logger = logging.NewDefault()
	}
	registry, err := daemon.Validator(cfg, dir, logger)
	if err != nil {
		return err
	}
	report, err := registry.Reload()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		if jsonOutput {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			printRejected(out, report.Rejected)
			fmt.Fprintln(out, report.String())
		}
		if len(report.Rejected) > 0 {
			return fmt.Errorf("%d definition(s) invalid", len(report.Rejected))
		}
		return nil
	}

	failed := 0
	for _, path := range args {
		def, err := registry.ValidateFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s %s)\n", path, def.Type, def.Name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) invalid", failed, len(args))
	}
	return nil
}
