package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/mail"
)

func newMailCommand(deps *Deps) *cobra.Command {
	mailCmd := &cobra.Command{
		Use:   "mail",
		Short: "Send and read agent-to-agent mail",
		RunE:  requireSubcommand,
	}

	mailCmd.AddCommand(newMailSendCommand(deps))
	mailCmd.AddCommand(newMailListCommand(deps))
	mailCmd.AddCommand(newMailGetCommand(deps))
	mailCmd.AddCommand(newMailReplyCommand(deps))
	mailCmd.AddCommand(newMailCheckCommand(deps))
	mailCmd.AddCommand(newMailPurgeCommand(deps))
	return mailCmd
}

func newMailSendCommand(deps *Deps) *cobra.Command {
	var (
		from     string
		subject  string
		body     string
		msgType  string
		priority string
	)

	cmd := &cobra.Command{
		Use:   "send <to>",
		Short: "Send a message to an agent or broadcast group",
		Long: `Send a message to an agent address or a broadcast group ("@workers",
"@all"). High-priority and urgent messages, and messages of type
worker_done, merge_ready, error, escalation, or merge_failed, trigger an
automatic nudge to the recipient; everything else is delivered silently.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender := deps.identityOrFlag(from)
			if sender == "" {
				return fmt.Errorf("mail send: no sender identity (set --from or run with an identity configured)")
			}
			ids, err := deps.Mail.Send(sender, args[0], subject, body, mail.Type(msgType), mail.Priority(priority), nil, nil)
			if err != nil {
				return fmt.Errorf("mail send: %w", err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "sender identity (defaults to the CLI's configured identity)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "message subject")
	cmd.Flags().StringVarP(&body, "message", "m", "", "message body")
	cmd.Flags().StringVar(&msgType, "type", string(mail.TypeStatus), "message type")
	cmd.Flags().StringVar(&priority, "priority", string(mail.PriorityNormal), "message priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newMailListCommand(deps *Deps) *cobra.Command {
	var (
		agent      string
		from       string
		to         string
		unreadOnly bool
		limit      int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := mail.Filter{From: from, To: to, Agent: deps.identityOrFlag(agent), Limit: limit}
			if unreadOnly {
				t := true
				f.Unread = &t
			}
			msgs, err := deps.Mail.List(f)
			if err != nil {
				return fmt.Errorf("mail list: %w", err)
			}
			return printMessages(cmd, msgs, asJSON)
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "restrict to messages involving this agent (defaults to the CLI's identity)")
	cmd.Flags().StringVar(&from, "from", "", "restrict to messages from this sender")
	cmd.Flags().StringVar(&to, "to", "", "restrict to messages addressed to this recipient")
	cmd.Flags().BoolVarP(&unreadOnly, "unread", "u", false, "show only unread messages")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of messages to return (0 = no limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newMailGetCommand(deps *Deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a single message by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := deps.Mail.Get(args[0])
			if err != nil {
				return fmt.Errorf("mail get: %w", err)
			}
			if msg == nil {
				return fmt.Errorf("mail get: no message with id %s", args[0])
			}
			return printMessages(cmd, []*mail.Message{msg}, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newMailReplyCommand(deps *Deps) *cobra.Command {
	var (
		from string
		body string
	)
	cmd := &cobra.Command{
		Use:   "reply <id>",
		Short: "Reply to a message, threading on its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender := deps.identityOrFlag(from)
			if sender == "" {
				return fmt.Errorf("mail reply: no sender identity (set --from or run with an identity configured)")
			}
			reply, err := deps.Mail.Reply(args[0], body, sender)
			if err != nil {
				return fmt.Errorf("mail reply: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender identity (defaults to the CLI's configured identity)")
	cmd.Flags().StringVarP(&body, "message", "m", "", "reply body")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newMailCheckCommand(deps *Deps) *cobra.Command {
	var (
		agent  string
		asJSON bool
	)
	var force bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch and mark-read this agent's unread mail, touching its heartbeat",
		Long: `Fetch unread mail for an agent. Repeated invocations within the
configured debounce window are skipped (returning no messages) unless
--force is given. A forced check still records its time, so the next
unforced check is debounced from it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			who := deps.identityOrFlag(agent)
			if who == "" {
				return fmt.Errorf("mail check: no agent identity (set --agent or run with an identity configured)")
			}

			now := time.Now()
			if deps.Debounce != nil {
				eligible, err := deps.Debounce.Eligible(who, now, deps.DebounceWindow, force)
				if err != nil {
					return fmt.Errorf("mail check: %w", err)
				}
				if !eligible {
					return printMessages(cmd, nil, asJSON)
				}
			}

			msgs, err := deps.Mail.Check(who)
			if err != nil {
				return fmt.Errorf("mail check: %w", err)
			}
			if deps.Debounce != nil {
				if err := deps.Debounce.Touch(who, now); err != nil {
					return fmt.Errorf("mail check: %w", err)
				}
			}
			return printMessages(cmd, msgs, asJSON)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent identity to check (defaults to the CLI's configured identity)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the debounce window")
	return cmd
}

func newMailPurgeCommand(deps *Deps) *cobra.Command {
	var (
		all         bool
		agent       string
		olderThanMs int64
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete messages matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := mail.PurgeFilter{All: all, Agent: agent}
			if olderThanMs > 0 {
				f.OlderThanMs = &olderThanMs
			}
			n, err := deps.Mail.Purge(f)
			if err != nil {
				return fmt.Errorf("mail purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d message(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "purge every message")
	cmd.Flags().StringVar(&agent, "agent", "", "restrict to messages involving this agent")
	cmd.Flags().Int64Var(&olderThanMs, "older-than-ms", 0, "restrict to messages older than this many milliseconds")
	return cmd
}

func printMessages(cmd *cobra.Command, msgs []*mail.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}
	for _, m := range msgs {
		status := "unread"
		if m.Read {
			status = "read"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s/%s, %s]  %s -> %s  %s\n",
			m.ID, m.Type, m.Priority, status, m.From, m.To, m.Subject)
		if m.Body != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", m.Body)
		}
	}
	return nil
}
