package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gobby-stack/gobby/internal/ipc"
	"github.com/gobby-stack/gobby/internal/types"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printExecution(w io.Writer, exec *types.Execution) error {
	if jsonOutput {
		return printJSON(w, exec)
	}
	fmt.Fprintf(w, "Execution: %s\n", exec.ID)
	fmt.Fprintf(w, "Pipeline:  %s\n", exec.Pipeline)
	fmt.Fprintf(w, "Status:    %s\n", exec.Status)
	if exec.SessionID != "" {
		fmt.Fprintf(w, "Session:   %s\n", exec.SessionID)
	}
	if exec.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", exec.Error)
	}
	if len(exec.Steps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Steps:")
		for _, st := range exec.Steps {
			line := fmt.Sprintf("  %-20s %-10s %s", st.ID, st.Kind, st.Status)
			if st.Error != "" {
				line += "  " + st.Error
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
	if pa := exec.PendingApproval; pa != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Waiting for approval of step %s", pa.StepID)
		if pa.Message != "" {
			fmt.Fprintf(w, ": %s", pa.Message)
		}
		fmt.Fprintln(w)
		if pa.ExpiresAt != nil {
			fmt.Fprintf(w, "Expires:   %s\n", pa.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(w, "Approve:   gobby pipeline approve %s\n", pa.ResumeToken)
		fmt.Fprintf(w, "Reject:    gobby pipeline reject %s --reason \"...\"\n", pa.ResumeToken)
	}
	if len(exec.Outputs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Outputs:")
		for _, k := range sortedKeys(exec.Outputs) {
			fmt.Fprintf(w, "  %s: %v\n", k, exec.Outputs[k])
		}
	}
	return nil
}

func printExecutions(w io.Writer, execs []*types.Execution) error {
	if jsonOutput {
		if execs == nil {
			execs = []*types.Execution{}
		}
		return printJSON(w, execs)
	}
	if len(execs) == 0 {
		fmt.Fprintln(w, "No executions.")
		return nil
	}
	for _, e := range execs {
		fmt.Fprintf(w, "%-36s  %-20s  %-16s  %s\n", e.ID, e.Pipeline, e.Status, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printState(w io.Writer, st *types.SessionWorkflowState) error {
	if jsonOutput {
		return printJSON(w, st)
	}
	fmt.Fprintf(w, "Session:  %s\n", st.SessionID)
	if aw := st.ActiveWorkflow; aw != nil {
		fmt.Fprintf(w, "Workflow: %s (%s)\n", aw.Name, aw.Type)
		if aw.CurrentStep != "" {
			fmt.Fprintf(w, "Step:     %s\n", aw.CurrentStep)
		}
		if aw.ExecutionID != "" {
			fmt.Fprintf(w, "Execution: %s\n", aw.ExecutionID)
		}
	} else {
		fmt.Fprintln(w, "Workflow: (none)")
	}
	fmt.Fprintf(w, "Actions:  %d in step, %d total\n", st.StepActionCount, st.TotalActionCount)
	if len(st.Variables) > 0 {
		fmt.Fprintln(w, "Variables:")
		for _, k := range sortedKeys(st.Variables) {
			fmt.Fprintf(w, "  %s = %v\n", k, st.Variables[k])
		}
	}
	return nil
}

func printDefinitions(w io.Writer, defs []ipc.DefinitionSummary) error {
	if jsonOutput {
		if defs == nil {
			defs = []ipc.DefinitionSummary{}
		}
		return printJSON(w, defs)
	}
	if len(defs) == 0 {
		fmt.Fprintln(w, "No definitions loaded.")
		return nil
	}
	for _, d := range defs {
		name := d.Name
		if !d.Enabled {
			name += " (disabled)"
		}
		fmt.Fprintf(w, "  %-28s %-10s %s\n", name, d.Type, d.Description)
	}
	return nil
}

func printRejected(w io.Writer, rejected map[string]string) {
	names := make([]string, 0, len(rejected))
	for name := range rejected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "✗ %s: %s\n", name, rejected[name])
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
