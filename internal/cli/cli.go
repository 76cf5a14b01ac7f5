// Package cli wires the coordination stores to a cobra command tree: the
// same surface a worker's shell invokes to send mail, inspect a session,
// or block in the long-poll wait loop between turns.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
)

// SessionAPI is the narrow session-store surface every subcommand needs.
// It is satisfied both by *session.Store directly (used by tests and by
// the daemon, which holds the database open) and by *ipc.Client (used by
// the CLI binary, which never opens the database itself).
type SessionAPI interface {
	GetByName(name string) (*session.Session, error)
	GetByRun(runID string) ([]*session.Session, error)
	GetActive() ([]*session.Session, error)
	GetAll() ([]*session.Session, error)
	UpdateLastActivity(name string, now time.Time) error
}

// MailAPI is the narrow mail-store surface every subcommand needs,
// satisfied by *mail.Store or *ipc.Client for the same reason as
// SessionAPI.
type MailAPI interface {
	Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error)
	List(f mail.Filter) ([]*mail.Message, error)
	Get(id string) (*mail.Message, error)
	Reply(id, body, from string) (*mail.Message, error)
	Check(agent string) ([]*mail.Message, error)
	Purge(f mail.PurgeFilter) (int, error)
}

// NudgeAPI is the narrow nudge-channel surface the wait command needs.
// Nudge markers live in their own per-recipient files rather than the
// bbolt database, so both the CLI and the daemon read them directly;
// nothing here crosses the ipc boundary.
type NudgeAPI interface {
	ReadAndClearNudge(recipient string) (*nudge.Marker, error)
}

// EventsAPI is the narrow events surface available to subcommands that
// want to record their own structured events directly. No shipped
// subcommand uses it yet; it is threaded through for symmetry with the
// watchdog's collaborator set.
type EventsAPI interface {
	Record(ev events.Event) error
}

// Deps holds the collaborators every subcommand needs. Unlike the
// package-level command tables a single-binary CLI usually builds against
// global state, the coordination core's stores are opened once by the
// entrypoint and threaded through explicitly, the same dependency
// injection style the watchdog and waiter use. Sessions, Mail, and Events
// are narrow interfaces rather than concrete store types so the CLI
// binary can satisfy them with an ipc.Client instead of opening the
// bbolt-backed coordination database itself — only the daemon ever calls
// store.Open.
type Deps struct {
	Sessions SessionAPI
	Mail     MailAPI
	Nudges   NudgeAPI
	Events   EventsAPI

	// Debounce gates "mail check" against the configured debounce
	// window; nil disables debouncing entirely (every check runs).
	Debounce       *nudge.Debounce
	DebounceWindow time.Duration

	// Identity is this process's own agent name, the default "from" for
	// mail send and mail reply, and the default agent for mail list, mail
	// check and wait when --agent is omitted.
	Identity string
}

// NewRootCommand builds the full command tree rooted at "overstory".
func NewRootCommand(deps *Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "overstory",
		Short:         "Coordination core CLI for multi-agent runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMailCommand(deps))
	root.AddCommand(newSessionCommand(deps))
	root.AddCommand(newWaitCommand(deps))
	root.AddCommand(newRunCommand(deps))
	return root
}

// requireSubcommand is the RunE used by group commands that exist only to
// namespace their children.
func requireSubcommand(cmd *cobra.Command, _ []string) error {
	return fmt.Errorf("%s requires a subcommand, see --help", cmd.Name())
}

func (d *Deps) identityOrFlag(flag string) string {
	if flag != "" {
		return flag
	}
	return d.Identity
}
