// Package mulch wraps the external learning store the watchdog appends
// failure and observation entries to. Like beads, it is a narrow,
// fail-open boundary: Record's only contract is "try, and swallow
// whatever goes wrong" — a learning-store outage must never abort a
// watchdog tick or a run-completion notification.
package mulch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a learning-store entry.
type EntryType string

const (
	TypeFailure     EntryType = "failure"
	TypeObservation EntryType = "observation"
)

// Entry is one structured record appended to a domain's log.
type Entry struct {
	ID           string    `json:"id"`
	Type         EntryType `json:"type"`
	Description  string    `json:"description"`
	Tags         []string  `json:"tags,omitempty"`
	EvidenceBead string    `json:"evidenceBead,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recorder is the narrow collaborator the watchdog and run-completion
// detector depend on.
type Recorder interface {
	Record(domain string, e Entry) error
}

// Store appends entries to one append-only JSON-lines file per domain
// under a root directory, in the same directory-per-store idiom the
// coordination core's external collaborators otherwise use.
type Store struct {
	root string
	now  func() time.Time
}

// New creates a learning store rooted at root, creating it if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating mulch root %s: %w", root, err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// SetClock overrides the store's notion of "now", for deterministic tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Record appends e to domain's log, stamping an id and createdAt if not
// already set. Callers wanting fire-and-forget semantics (the watchdog's
// failure recording) swallow the returned error themselves.
func (s *Store) Record(domain string, e Entry) error {
	if domain == "" {
		return fmt.Errorf("mulch: empty domain")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding mulch entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(filepath.Join(s.root, sanitizeDomain(domain)+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening mulch log for %s: %w", domain, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("appending mulch entry: %w", err)
	}
	return nil
}

// sanitizeDomain restricts a domain name to filesystem-safe characters,
// matching the path-sanitization rule used elsewhere for any untrusted
// path component.
func sanitizeDomain(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
