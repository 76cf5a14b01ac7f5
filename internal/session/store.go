package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jayminwest/overstory/internal/store"
)

// ErrInvalidSession is returned when Upsert is given a session that
// violates one of the store's data-model invariants.
var ErrInvalidSession = fmt.Errorf("invalid session")

// ErrNotFound is returned by operations that require an existing session.
var ErrNotFound = fmt.Errorf("session not found")

// Store is the durable, keyed record of all agent sessions. Every read is
// a single bbolt transaction, giving a consistent snapshot within any one
// watchdog tick; the Update* methods run their read-modify-write under a
// mutex, so concurrent updates inside the one process that holds the
// database never lose each other's writes.
type Store struct {
	db *store.DB
	mu sync.Mutex // serializes mutate's read-modify-write
}

// NewStore wraps an already-open coordination database.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or replaces a session by AgentName.
func (s *Store) Upsert(sess *Session) error {
	if sess == nil || sess.AgentName == "" {
		return fmt.Errorf("%w: empty agentName", ErrInvalidSession)
	}
	if sess.Depth < 0 {
		return fmt.Errorf("%w: depth must be >= 0", ErrInvalidSession)
	}
	if sess.ParentAgent == nil && sess.Depth != 0 {
		return fmt.Errorf("%w: depth must be 0 when parentAgent is nil", ErrInvalidSession)
	}
	cp := sess.Clone()
	if cp.State.IsTerminal() {
		cp.resetEscalation()
	}
	return s.db.Put(store.BucketSessions, cp.AgentName, cp)
}

// GetByName returns the session with the given agent name, or (nil, nil) if
// none exists.
func (s *Store) GetByName(name string) (*Session, error) {
	var sess Session
	found, err := s.db.Get(store.BucketSessions, name, &sess)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &sess, nil
}

// GetAll returns every session in the store.
func (s *Store) GetAll() ([]*Session, error) {
	var out []*Session
	err := s.db.ForEach(store.BucketSessions, func(_ string, data []byte) error {
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		out = append(out, sess)
		return nil
	})
	return out, err
}

// GetByRun returns every session tagged with the given run id.
func (s *Store) GetByRun(runID string) ([]*Session, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, sess := range all {
		if sess.RunID != nil && *sess.RunID == runID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// GetActive returns every session whose state is one of the non-terminal
// states (booting, working, stalled).
func (s *Store) GetActive() ([]*Session, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	active := make(map[State]bool, len(NonTerminalStates()))
	for _, st := range NonTerminalStates() {
		active[st] = true
	}
	var out []*Session
	for _, sess := range all {
		if active[sess.State] {
			out = append(out, sess)
		}
	}
	return out, nil
}

// UpdateState sets a session's state in a single atomic write. Entering a
// terminal state resets escalationLevel and stalledSince.
func (s *Store) UpdateState(name string, state State) error {
	return s.mutate(name, func(sess *Session) {
		sess.State = state
		if state.IsTerminal() {
			sess.resetEscalation()
		}
	})
}

// UpdateLastActivity touches a session's lastActivity timestamp.
func (s *Store) UpdateLastActivity(name string, now time.Time) error {
	return s.mutate(name, func(sess *Session) {
		sess.LastActivity = now
	})
}

// UpdateEscalation sets escalationLevel and stalledSince atomically.
func (s *Store) UpdateEscalation(name string, level int, stalledSince *time.Time) error {
	return s.mutate(name, func(sess *Session) {
		sess.EscalationLevel = level
		sess.StalledSince = stalledSince
	})
}

// mutate loads, mutates, and re-persists a session in one logical step.
// Load and store are separate bbolt transactions; s.mu keeps two mutate
// calls (a watchdog tick and an ipc-served CLI heartbeat, say) from
// interleaving between them.
func (s *Store) mutate(name string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.GetByName(name)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	fn(sess)
	return s.Upsert(sess)
}

func decodeSession(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
