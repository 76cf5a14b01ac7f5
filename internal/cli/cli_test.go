package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
)

func newTestDeps(t *testing.T) (*Deps, *session.Store) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "coordination.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sessions := session.NewStore(db)
	nudges, err := nudge.NewChannel(t.TempDir())
	if err != nil {
		t.Fatalf("opening nudge channel: %v", err)
	}
	mailStore := mail.NewStore(db, sessions, nudges)

	return &Deps{
		Sessions: sessions,
		Mail:     mailStore,
		Nudges:   nudges,
		Events:   events.NewRecorder(db),
		Identity: "coordinator",
	}, sessions
}

func run(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMailSendAndList(t *testing.T) {
	deps, _ := newTestDeps(t)
	root := NewRootCommand(deps)

	if _, err := run(t, root, "mail", "send", "builder-1", "-s", "status check", "-m", "how's it going"); err != nil {
		t.Fatalf("mail send: %v", err)
	}

	root = NewRootCommand(deps)
	out, err := run(t, root, "mail", "list", "--to", "builder-1")
	if err != nil {
		t.Fatalf("mail list: %v", err)
	}
	if !strings.Contains(out, "status check") {
		t.Errorf("mail list output = %q, want it to mention the subject", out)
	}
}

func TestMailSendRequiresIdentity(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Identity = ""
	root := NewRootCommand(deps)

	_, err := run(t, root, "mail", "send", "builder-1", "-s", "hi", "--from", "")
	if err == nil {
		t.Fatal("expected an error without a sender identity")
	}
}

func TestMailReplyThreadsOnOriginal(t *testing.T) {
	deps, _ := newTestDeps(t)
	root := NewRootCommand(deps)
	ids, err := deps.Mail.Send("builder-1", "coordinator", "question", "are we done?", mail.TypeQuestion, mail.PriorityNormal, nil, nil)
	if err != nil {
		t.Fatalf("seeding message: %v", err)
	}

	out, err := run(t, root, "mail", "reply", ids[0], "-m", "yes")
	if err != nil {
		t.Fatalf("mail reply: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Error("expected a reply id to be printed")
	}
	reply, err := deps.Mail.Get(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("fetching reply: %v", err)
	}
	if reply == nil || reply.ThreadID == nil || *reply.ThreadID != ids[0] {
		t.Errorf("reply = %+v, want it threaded on %s", reply, ids[0])
	}
}

func TestSessionShowUnknownSessionErrors(t *testing.T) {
	deps, _ := newTestDeps(t)
	root := NewRootCommand(deps)

	_, err := run(t, root, "session", "show", "nope")
	if err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestSessionListFiltersByRun(t *testing.T) {
	deps, sessions := newTestDeps(t)
	runID := "run-1"
	if err := sessions.Upsert(&session.Session{
		AgentName: "builder-1", Capability: session.CapabilityBuilder, State: session.StateWorking, RunID: &runID,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := sessions.Upsert(&session.Session{
		AgentName: "builder-2", Capability: session.CapabilityBuilder, State: session.StateWorking,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	root := NewRootCommand(deps)
	out, err := run(t, root, "session", "list", "--run", runID)
	if err != nil {
		t.Fatalf("session list: %v", err)
	}
	if !strings.Contains(out, "builder-1") || strings.Contains(out, "builder-2") {
		t.Errorf("session list output = %q, want only builder-1", out)
	}
}

func TestRunStatusReportsCompletion(t *testing.T) {
	deps, sessions := newTestDeps(t)
	runID := "run-1"
	if err := sessions.Upsert(&session.Session{
		AgentName: "builder-1", Capability: session.CapabilityBuilder, State: session.StateCompleted, RunID: &runID,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	root := NewRootCommand(deps)
	out, err := run(t, root, "run", "status", runID)
	if err != nil {
		t.Fatalf("run status: %v", err)
	}
	if !strings.Contains(out, "1/1") || !strings.Contains(out, "all complete: true") {
		t.Errorf("run status output = %q, want 1/1 all complete", out)
	}
}

func TestMailCheckDebounceSkipsWithinWindowUnlessForced(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Debounce = nudge.NewDebounce(filepath.Join(t.TempDir(), "debounce.json"))
	deps.DebounceWindow = time.Hour
	deps.Identity = "builder-1"

	if _, err := deps.Mail.Send("coordinator", "builder-1", "status", "how's it going", mail.TypeStatus, mail.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("seeding message: %v", err)
	}

	root := NewRootCommand(deps)
	out, err := run(t, root, "mail", "check")
	if err != nil {
		t.Fatalf("mail check: %v", err)
	}
	if !strings.Contains(out, "how's it going") {
		t.Fatalf("first mail check output = %q, want the seeded message", out)
	}

	if _, err := deps.Mail.Send("coordinator", "builder-1", "status2", "second message", mail.TypeStatus, mail.PriorityNormal, nil, nil); err != nil {
		t.Fatalf("seeding second message: %v", err)
	}

	root = NewRootCommand(deps)
	out, err = run(t, root, "mail", "check")
	if err != nil {
		t.Fatalf("mail check (debounced): %v", err)
	}
	if strings.TrimSpace(out) != "" {
		t.Errorf("debounced mail check output = %q, want empty (skipped)", out)
	}

	root = NewRootCommand(deps)
	out, err = run(t, root, "mail", "check", "--force")
	if err != nil {
		t.Fatalf("mail check --force: %v", err)
	}
	if !strings.Contains(out, "second message") {
		t.Errorf("forced mail check output = %q, want the second message", out)
	}
}

func TestWaitTimesOutWithoutMailOrNudge(t *testing.T) {
	deps, sessions := newTestDeps(t)
	if err := sessions.Upsert(&session.Session{
		AgentName: "builder-1", Capability: session.CapabilityBuilder, State: session.StateWorking,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	root := NewRootCommand(deps)
	out, err := run(t, root, "wait", "--agent", "builder-1", "--timeout-ms", "1", "--initial-poll-ms", "1", "--wake-on-nudge=false")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !strings.Contains(out, "status=timeout") {
		t.Errorf("wait output = %q, want status=timeout", out)
	}
}
