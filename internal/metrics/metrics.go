// Package metrics implements the per-terminated-session timing ledger: one
// row is written when the watchdog terminates a session, read back by the
// dashboard and by operators auditing run cost.
package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jayminwest/overstory/internal/store"
)

// Row is one terminated session's timing and cost summary. TokensUsed and
// CostUSD are left zero when the caller has no accounting data to report;
// nothing upstream of the watchdog currently tracks per-session token or
// dollar cost, so those fields exist for a future writer to populate.
type Row struct {
	ID           string    `json:"id"`
	AgentName    string    `json:"agentName"`
	RunID        *string   `json:"runId,omitempty"`
	Capability   string    `json:"capability"`
	Reason       string    `json:"reason"`
	StartedAt    time.Time `json:"startedAt"`
	TerminatedAt time.Time `json:"terminatedAt"`
	DurationMs   int64     `json:"durationMs"`
	TokensUsed   int64     `json:"tokensUsed,omitempty"`
	CostUSD      float64   `json:"costUsd,omitempty"`
}

// Store appends rows to the metrics bucket.
type Store struct {
	db  *store.DB
	now func() time.Time
}

// NewStore creates a Store backed by db.
func NewStore(db *store.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the store's notion of "now", for deterministic tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Record appends row, stamping an id and DurationMs if not already set.
func (s *Store) Record(row Row) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if row.TerminatedAt.IsZero() {
		row.TerminatedAt = s.now()
	}
	if row.DurationMs == 0 && !row.StartedAt.IsZero() {
		row.DurationMs = row.TerminatedAt.Sub(row.StartedAt).Milliseconds()
	}
	return s.db.Put(store.BucketMetrics, row.ID, row)
}

// List returns every recorded row, ordered by TerminatedAt.
func (s *Store) List() ([]*Row, error) {
	var out []*Row
	err := s.db.ForEach(store.BucketMetrics, func(_ string, data []byte) error {
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			return fmt.Errorf("decoding metrics row: %w", err)
		}
		out = append(out, &row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TerminatedAt.Before(out[j].TerminatedAt) })
	return out, nil
}
