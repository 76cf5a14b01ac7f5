package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/session"
)

// runStatus is the JSON shape of "run status": a worker-progress summary
// for one run id, the same bookkeeping the run-completion detector uses
// to decide whether to notify, surfaced for a human to poll directly.
type runStatus struct {
	RunID          string `json:"runId"`
	WorkerCount    int    `json:"workerCount"`
	CompletedCount int    `json:"completedCount"`
	AllComplete    bool   `json:"allComplete"`
}

func newRunCommand(deps *Deps) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect a run's worker completion progress",
		RunE:  requireSubcommand,
	}
	runCmd.AddCommand(newRunStatusCommand(deps))
	return runCmd
}

func newRunStatusCommand(deps *Deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <runID>",
		Short: "Show how many of a run's workers have completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			all, err := deps.Sessions.GetByRun(runID)
			if err != nil {
				return fmt.Errorf("run status: %w", err)
			}
			status := runStatus{RunID: runID}
			for _, s := range all {
				if persistentCapability(s.Capability) {
					continue
				}
				status.WorkerCount++
				if s.State == session.StateCompleted {
					status.CompletedCount++
				}
			}
			status.AllComplete = status.WorkerCount > 0 && status.CompletedCount == status.WorkerCount

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d/%d workers complete (all complete: %v)\n",
				status.RunID, status.CompletedCount, status.WorkerCount, status.AllComplete)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func persistentCapability(c session.Capability) bool {
	return c == session.CapabilityCoordinator || c == session.CapabilityMonitor
}
