package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/session"
)

func newSessionCommand(deps *Deps) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect agent sessions",
		RunE:  requireSubcommand,
	}
	sessionCmd.AddCommand(newSessionShowCommand(deps))
	sessionCmd.AddCommand(newSessionListCommand(deps))
	return sessionCmd
}

func newSessionShowCommand(deps *Deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one session's recorded state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := deps.Sessions.GetByName(args[0])
			if err != nil {
				return fmt.Errorf("session show: %w", err)
			}
			if sess == nil {
				return fmt.Errorf("session show: no session named %s", args[0])
			}
			return printSessions(cmd, []*session.Session{sess}, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newSessionListCommand(deps *Deps) *cobra.Command {
	var (
		activeOnly bool
		runID      string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, optionally restricted to a run or to active ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sessions []*session.Session
				err      error
			)
			switch {
			case runID != "":
				sessions, err = deps.Sessions.GetByRun(runID)
			case activeOnly:
				sessions, err = deps.Sessions.GetActive()
			default:
				sessions, err = deps.Sessions.GetAll()
			}
			if err != nil {
				return fmt.Errorf("session list: %w", err)
			}
			return printSessions(cmd, sessions, asJSON)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "restrict to non-terminal sessions")
	cmd.Flags().StringVar(&runID, "run", "", "restrict to sessions tagged with this run id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printSessions(cmd *cobra.Command, sessions []*session.Session, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	for _, s := range sessions {
		run := ""
		if s.RunID != nil {
			run = *s.RunID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-10s %-12s run=%s last_activity=%s\n",
			s.AgentName, s.Capability, s.State, run, s.LastActivity.Format("15:04:05"))
	}
	return nil
}
