package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/wait"
)

func newWaitCommand(deps *Deps) *cobra.Command {
	var (
		agent              string
		timeoutMs          int
		initialPollMs      int
		maxPollMs          int
		backoff            float64
		cancelFile         string
		wakeOnPendingNudge bool
		asJSON             bool
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Long-poll for mail, a nudge, or a cancel file",
		RunE: func(cmd *cobra.Command, args []string) error {
			who := deps.identityOrFlag(agent)
			if who == "" {
				return fmt.Errorf("wait: no agent identity (set --agent or run with an identity configured)")
			}
			waiter := wait.NewWaiter(deps.Mail, deps.Nudges, deps.Sessions)
			result, err := waiter.Wait(wait.Config{
				Agent:              who,
				TimeoutMs:          timeoutMs,
				InitialPollMs:      initialPollMs,
				MaxPollMs:          maxPollMs,
				Backoff:            backoff,
				CancelFile:         cancelFile,
				WakeOnPendingNudge: wakeOnPendingNudge,
			})
			if err != nil {
				return fmt.Errorf("wait: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s messages=%d\n", result.Status, len(result.Messages))
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "agent identity to wait for (defaults to the CLI's configured identity)")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", wait.DefaultTimeoutMs, "maximum time to wait")
	cmd.Flags().IntVar(&initialPollMs, "initial-poll-ms", wait.DefaultInitialPollMs, "first poll interval")
	cmd.Flags().IntVar(&maxPollMs, "max-poll-ms", wait.DefaultMaxPollMs, "poll interval ceiling")
	cmd.Flags().Float64Var(&backoff, "backoff", wait.DefaultBackoff, "poll interval growth factor")
	cmd.Flags().StringVar(&cancelFile, "cancel-file", "", "path checked between polls; its existence cancels the wait")
	cmd.Flags().BoolVar(&wakeOnPendingNudge, "wake-on-nudge", true, "return early when a nudge marker is pending")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
