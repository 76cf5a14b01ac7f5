package mail

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
)

func decodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ErrUnknownType is returned by Send for an unrecognized message type.
var ErrUnknownType = fmt.Errorf("unknown mail type")

// ErrUnknownPriority is returned by Send for an unrecognized priority.
var ErrUnknownPriority = fmt.Errorf("unknown mail priority")

// ErrNotFound is returned by Get/MarkRead/Reply for an unknown message id.
var ErrNotFound = fmt.Errorf("message not found")

// Store is the mail store and broadcast broker.
type Store struct {
	db       *store.DB
	sessions *session.Store
	nudges   nudge.Writer
	groups   GroupResolver
	now      func() time.Time

	mu  sync.Mutex // serializes seq allocation
	seq uint64

	checkMu sync.Mutex // serializes Check's fetch-and-mark-read
}

// NewStore creates a mail store backed by db, using sessions to resolve
// broadcast group membership and drive the session-heartbeat side effect,
// and nudges to deliver the auto-nudge side effect.
func NewStore(db *store.DB, sessions *session.Store, nudges nudge.Writer) *Store {
	return &Store{
		db:       db,
		sessions: sessions,
		nudges:   nudges,
		groups:   NewDefaultGroupResolver(),
		now:      time.Now,
	}
}

// SetGroupResolver overrides the default "@<group>" resolution strategy.
func (s *Store) SetGroupResolver(r GroupResolver) { s.groups = r }

// SetClock overrides the store's notion of "now", for deterministic tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Send persists a message (or, for a "@<group>" address, one message per
// resolved recipient) and returns the produced message id(s). Rejects
// unknown type or priority.
func (s *Store) Send(from, to, subject, body string, typ Type, priority Priority, payload, threadID *string) ([]string, error) {
	if !typ.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if !priority.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPriority, priority)
	}

	recipients, err := s.resolveRecipients(to, from)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		id, err := s.sendOne(from, recipient, subject, body, typ, priority, payload, threadID)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	s.heartbeat(from)

	return ids, nil
}

func (s *Store) resolveRecipients(to, from string) ([]string, error) {
	if !IsGroupAddress(to) {
		return []string{to}, nil
	}

	active, err := s.sessions.GetActive()
	if err != nil {
		return nil, fmt.Errorf("resolving group %q: %w", to, err)
	}
	agents := make([]ActiveAgent, 0, len(active))
	for _, sess := range active {
		agents = append(agents, ActiveAgent{AgentName: sess.AgentName, Capability: string(sess.Capability)})
	}
	return s.groups.Resolve(GroupName(to), agents, from), nil
}

func (s *Store) sendOne(from, to, subject, body string, typ Type, priority Priority, payload, threadID *string) (string, error) {
	msg := &Message{
		ID:        newMessageID(),
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Priority:  priority,
		Type:      typ,
		ThreadID:  threadID,
		Payload:   payload,
		Read:      false,
		CreatedAt: s.now(),
		Seq:       s.nextSeq(),
	}

	if err := s.db.Put(store.BucketMail, msg.ID, msg); err != nil {
		return "", err
	}

	if priority.triggersAutoNudge() || typ.triggersAutoNudge() {
		s.writeNudge(msg)
	}

	return msg.ID, nil
}

func (s *Store) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) writeNudge(msg *Message) {
	if s.nudges == nil {
		return
	}
	// Fire-and-forget: a nudge write failure must never fail the Send
	// that triggered it.
	_ = s.nudges.WriteNudge(msg.To, nudge.Marker{
		From:      msg.From,
		Reason:    "mail:" + string(msg.Type),
		Subject:   msg.Subject,
		MessageID: msg.ID,
		CreatedAt: s.now(),
	})
}

// heartbeat applies the session-heartbeat side effect: any send, check, or
// reply by agent is treated as observable activity.
func (s *Store) heartbeat(agent string) {
	if s.sessions == nil || agent == "" {
		return
	}
	sess, err := s.sessions.GetByName(agent)
	if err != nil || sess == nil {
		return
	}
	_ = s.sessions.UpdateLastActivity(agent, s.now())
	if sess.State == session.StateBooting || sess.State == session.StateStalled {
		_ = s.sessions.UpdateState(agent, session.StateWorking)
	}
}

// Check returns agent's unread messages, marking each one read before it
// is returned. Concurrent Checks are serialized, so two callers never both
// receive the same message.
func (s *Store) Check(agent string) ([]*Message, error) {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	var toReturn []*Message

	all, err := s.allMessages()
	if err != nil {
		return nil, err
	}

	var unread []*Message
	for _, m := range all {
		if m.To == agent && !m.Read {
			unread = append(unread, m)
		}
	}
	sortByCreatedAt(unread)

	for _, m := range unread {
		m.Read = true
		if err := s.db.Put(store.BucketMail, m.ID, m); err != nil {
			return nil, err
		}
		toReturn = append(toReturn, m)
	}

	s.heartbeat(agent)

	return toReturn, nil
}

// GetUnread returns agent's unread messages without marking them read.
func (s *Store) GetUnread(agent string) ([]*Message, error) {
	all, err := s.allMessages()
	if err != nil {
		return nil, err
	}
	var out []*Message
	for _, m := range all {
		if m.To == agent && !m.Read {
			out = append(out, m)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// Get returns a single message by id.
func (s *Store) Get(id string) (*Message, error) {
	var msg Message
	found, err := s.db.Get(store.BucketMail, id, &msg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}

// MarkRead marks a message read, idempotently. Returns whether it was
// already read before this call.
func (s *Store) MarkRead(id string) (alreadyRead bool, err error) {
	msg, err := s.Get(id)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if msg.Read {
		return true, nil
	}
	msg.Read = true
	return false, s.db.Put(store.BucketMail, msg.ID, msg)
}

// Reply creates a new message addressed back to the original sender,
// deriving To, a "Re: "-prefixed subject, and ThreadID from the original
// message. Replying to a reply keeps the original thread's id rather than
// starting a new one.
func (s *Store) Reply(id, body, from string) (*Message, error) {
	orig, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	threadID := orig.ThreadID
	if threadID == nil {
		threadID = &orig.ID
	}
	subject := orig.Subject
	const rePrefix = "Re: "
	if len(subject) < len(rePrefix) || subject[:len(rePrefix)] != rePrefix {
		subject = rePrefix + subject
	}

	ids, err := s.Send(from, orig.From, subject, body, orig.Type, orig.Priority, nil, threadID)
	if err != nil {
		return nil, err
	}
	return s.Get(ids[0])
}

// List returns a filtered, read-only view of the mail store. The Agent
// filter matches either endpoint of the conversation.
func (s *Store) List(f Filter) ([]*Message, error) {
	all, err := s.allMessages()
	if err != nil {
		return nil, err
	}

	var out []*Message
	for _, m := range all {
		if f.From != "" && m.From != f.From {
			continue
		}
		if f.To != "" && m.To != f.To {
			continue
		}
		if f.Agent != "" && m.From != f.Agent && m.To != f.Agent {
			continue
		}
		if f.Unread != nil && m.Read == *f.Unread {
			continue
		}
		out = append(out, m)
	}
	sortByCreatedAt(out)

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PurgeFilter selects which messages Purge deletes.
type PurgeFilter struct {
	All          bool
	OlderThanMs  *int64
	Agent        string
}

// Purge deletes messages matching f, returning the number deleted.
func (s *Store) Purge(f PurgeFilter) (int, error) {
	all, err := s.allMessages()
	if err != nil {
		return 0, err
	}

	var cutoff time.Time
	if f.OlderThanMs != nil {
		cutoff = s.now().Add(-time.Duration(*f.OlderThanMs) * time.Millisecond)
	}

	count := 0
	for _, m := range all {
		match := f.All
		if f.OlderThanMs != nil && m.CreatedAt.Before(cutoff) {
			match = true
		}
		if f.Agent != "" && (m.From == f.Agent || m.To == f.Agent) {
			match = true
		}
		if !match {
			continue
		}
		if err := s.db.Delete(store.BucketMail, m.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *Store) allMessages() ([]*Message, error) {
	var out []*Message
	err := s.db.ForEach(store.BucketMail, func(_ string, data []byte) error {
		m, err := decodeMessage(data)
		if err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func sortByCreatedAt(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func newMessageID() string {
	// Short opaque token: first 8 hex characters of a uuid4.
	id := uuid.New().String()
	return id[:8]
}
