package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/session"
)

type fakeSessions struct {
	byName  map[string]*session.Session
	touched map[string]time.Time
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byName: map[string]*session.Session{}, touched: map[string]time.Time{}}
}

func (f *fakeSessions) GetByName(name string) (*session.Session, error) { return f.byName[name], nil }
func (f *fakeSessions) GetByRun(runID string) ([]*session.Session, error) {
	var out []*session.Session
	for _, s := range f.byName {
		if s.RunID != nil && *s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}
func (f *fakeSessions) GetActive() ([]*session.Session, error) { return f.GetByRun("") }
func (f *fakeSessions) GetAll() ([]*session.Session, error) {
	var out []*session.Session
	for _, s := range f.byName {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeSessions) UpdateLastActivity(name string, now time.Time) error {
	f.touched[name] = now
	return nil
}

type fakeMail struct {
	sent []string
}

func (f *fakeMail) Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error) {
	f.sent = append(f.sent, subject)
	return []string{"msg-1"}, nil
}
func (f *fakeMail) List(mail.Filter) ([]*mail.Message, error) { return nil, nil }
func (f *fakeMail) Get(id string) (*mail.Message, error) {
	return &mail.Message{ID: id, Subject: "fetched"}, nil
}
func (f *fakeMail) Reply(id, body, from string) (*mail.Message, error) {
	return &mail.Message{ID: "reply-1", ThreadID: &id, From: from, Body: body}, nil
}
func (f *fakeMail) Check(agent string) ([]*mail.Message, error) {
	return []*mail.Message{{ID: "m1", To: agent}}, nil
}
func (f *fakeMail) Purge(mail.PurgeFilter) (int, error) { return 3, nil }

type fakeEvents struct {
	recorded []events.Event
}

func (f *fakeEvents) Record(ev events.Event) error {
	f.recorded = append(f.recorded, ev)
	return nil
}

func newTestPair(t *testing.T) (*Server, *Client, *fakeSessions, *fakeMail, *fakeEvents) {
	t.Helper()
	sessions := newFakeSessions()
	mailStore := &fakeMail{}
	recorder := &fakeEvents{}
	srv := NewServer(sessions, mailStore, recorder)

	socketPath := filepath.Join(t.TempDir(), "overstoryd.sock")
	l, err := srv.Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	return srv, NewClient(socketPath), sessions, mailStore, recorder
}

func TestClientSessionRoundTrip(t *testing.T) {
	_, client, sessions, _, _ := newTestPair(t)
	runID := "run-1"
	sessions.byName["scout-1"] = &session.Session{AgentName: "scout-1", RunID: &runID}

	sess, err := client.GetByName("scout-1")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if sess == nil || sess.AgentName != "scout-1" {
		t.Fatalf("got %+v, want scout-1", sess)
	}

	all, err := client.GetByRun(runID)
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d sessions, want 1", len(all))
	}

	now := time.Now().Truncate(time.Second)
	if err := client.UpdateLastActivity("scout-1", now); err != nil {
		t.Fatalf("UpdateLastActivity: %v", err)
	}
	if !sessions.touched["scout-1"].Equal(now) {
		t.Errorf("touched = %v, want %v", sessions.touched["scout-1"], now)
	}
}

func TestClientSessionNotFoundReturnsNil(t *testing.T) {
	_, client, _, _, _ := newTestPair(t)
	sess, err := client.GetByName("nope")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if sess != nil {
		t.Errorf("got %+v, want nil", sess)
	}
}

func TestClientMailRoundTrip(t *testing.T) {
	_, client, _, mailStore, _ := newTestPair(t)

	ids, err := client.Send("coordinator", "scout-1", "subject", "body", mail.TypeStatus, mail.PriorityNormal, nil, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(ids) != 1 || ids[0] != "msg-1" {
		t.Errorf("ids = %v, want [msg-1]", ids)
	}
	if len(mailStore.sent) != 1 || mailStore.sent[0] != "subject" {
		t.Errorf("server did not observe Send, got %v", mailStore.sent)
	}

	msgs, err := client.Check("scout-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(msgs) != 1 || msgs[0].To != "scout-1" {
		t.Errorf("got %+v", msgs)
	}

	n, err := client.Purge(mail.PurgeFilter{All: true})
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 3 {
		t.Errorf("purge count = %d, want 3", n)
	}

	reply, err := client.Reply("m1", "thanks", "scout-1")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.ThreadID == nil || *reply.ThreadID != "m1" || reply.From != "scout-1" {
		t.Errorf("got %+v", reply)
	}
}

func TestClientEventsRecord(t *testing.T) {
	_, client, _, _, recorder := newTestPair(t)
	if err := client.Record(events.Event{AgentName: "scout-1", EventType: "test"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(recorder.recorded) != 1 || recorder.recorded[0].AgentName != "scout-1" {
		t.Errorf("got %+v", recorder.recorded)
	}
}
