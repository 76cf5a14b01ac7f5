package rundetect

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
)

type fakeSessionsByRun struct{ sessions []*session.Session }

func (f *fakeSessionsByRun) GetByRun(runID string) ([]*session.Session, error) {
	var out []*session.Session
	for _, s := range f.sessions {
		if s.RunID != nil && *s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeMailSender struct {
	sent []struct{ to, subject, body string }
}

func (f *fakeMailSender) Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error) {
	f.sent = append(f.sent, struct{ to, subject, body string }{to, subject, body})
	return []string{"m1"}, nil
}

type fixedRun struct{ id string }

func (r fixedRun) Read() (string, error) { return r.id, nil }

func newSession(name string, cap session.Capability, state session.State, runID string) *session.Session {
	return &session.Session{AgentName: name, Capability: cap, State: state, RunID: &runID}
}

func newTestDetector(t *testing.T, runID string, sessions []*session.Session) (*Detector, *fakeMailSender) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "coordination.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m := &fakeMailSender{}
	d := New()
	d.CurrentRun = fixedRun{id: runID}
	d.Marker = NewMarkerFile(filepath.Join(t.TempDir(), "run-complete-notified"))
	d.Sessions = &fakeSessionsByRun{sessions: sessions}
	d.Mail = m
	d.Events = events.NewRecorder(db)
	return d, m
}

func TestCheckSkipsWhenNoCurrentRun(t *testing.T) {
	d, m := newTestDetector(t, "", nil)
	notified, err := d.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if notified {
		t.Error("expected no notification without a current run")
	}
	if len(m.sent) != 0 {
		t.Error("expected no mail sent")
	}
}

func TestCheckSkipsWhenWorkersIncomplete(t *testing.T) {
	sessions := []*session.Session{
		newSession("builder-1", session.CapabilityBuilder, session.StateCompleted, "run-1"),
		newSession("builder-2", session.CapabilityBuilder, session.StateWorking, "run-1"),
	}
	d, m := newTestDetector(t, "run-1", sessions)

	notified, err := d.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if notified {
		t.Error("expected no notification while a worker is still active")
	}
	if len(m.sent) != 0 {
		t.Error("expected no mail sent")
	}
}

func TestCheckSkipsWhenOnlyPersistentCapabilitiesPresent(t *testing.T) {
	sessions := []*session.Session{
		newSession("coordinator", session.CapabilityCoordinator, session.StateWorking, "run-1"),
		newSession("monitor", session.CapabilityMonitor, session.StateWorking, "run-1"),
	}
	d, m := newTestDetector(t, "run-1", sessions)

	notified, err := d.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if notified {
		t.Error("expected no notification when there are no accountable workers")
	}
	if len(m.sent) != 0 {
		t.Error("expected no mail sent")
	}
}

func TestCheckNotifiesOnceWhenAllWorkersComplete(t *testing.T) {
	sessions := []*session.Session{
		newSession("builder-1", session.CapabilityBuilder, session.StateCompleted, "run-1"),
		newSession("builder-2", session.CapabilityBuilder, session.StateCompleted, "run-1"),
		newSession("coordinator", session.CapabilityCoordinator, session.StateWorking, "run-1"),
	}
	d, m := newTestDetector(t, "run-1", sessions)

	notified, err := d.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !notified {
		t.Fatal("expected a completion notification")
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected exactly one message sent, got %d", len(m.sent))
	}
	if m.sent[0].to != "coordinator" {
		t.Errorf("recipient = %s, want coordinator", m.sent[0].to)
	}

	// Second call: dedup marker prevents a repeat notification.
	notified, err = d.Check()
	if err != nil {
		t.Fatalf("Check (second): %v", err)
	}
	if notified {
		t.Error("expected dedup to suppress a second notification")
	}
	if len(m.sent) != 1 {
		t.Errorf("expected no additional mail sent, total = %d", len(m.sent))
	}
}

func TestBuildMessageUsesCapabilitySpecificTemplateWhenUniform(t *testing.T) {
	workers := []*session.Session{
		newSession("builder-1", session.CapabilityBuilder, session.StateCompleted, "run-1"),
		newSession("builder-2", session.CapabilityBuilder, session.StateCompleted, "run-1"),
	}
	subject, body := buildMessage("run-1", workers)
	if subject == "" || body == "" {
		t.Fatal("expected non-empty subject and body")
	}
	if !contains(subject, "build") {
		t.Errorf("subject = %q, expected a builder-specific template", subject)
	}
}

func TestBuildMessageUsesGenericBreakdownWhenMixed(t *testing.T) {
	workers := []*session.Session{
		newSession("builder-1", session.CapabilityBuilder, session.StateCompleted, "run-1"),
		newSession("reviewer-1", session.CapabilityReviewer, session.StateCompleted, "run-1"),
	}
	subject, body := buildMessage("run-1", workers)
	if !contains(body, "builder") || !contains(body, "reviewer") {
		t.Errorf("body = %q, expected a breakdown naming both capabilities", body)
	}
}

func TestCheckPropagatesErrorFromCurrentRunRead(t *testing.T) {
	d, _ := newTestDetector(t, "", nil)
	d.CurrentRun = erroringRun{}
	if _, err := d.Check(); err == nil {
		t.Fatal("expected an error when the current-run pointer cannot be read")
	}
}

type erroringRun struct{}

func (erroringRun) Read() (string, error) { return "", fmt.Errorf("boom") }

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
