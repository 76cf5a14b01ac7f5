// Package events implements an append-only structured event log recording
// what the watchdog and run-completion detector observed and decided.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jayminwest/overstory/internal/store"
)

// Level is the severity of an event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one append-only record.
type Event struct {
	ID             string          `json:"id"`
	RunID          *string         `json:"runId,omitempty"`
	AgentName      string          `json:"agentName"`
	SessionID      *string         `json:"sessionId,omitempty"`
	EventType      string          `json:"eventType"`
	ToolName       *string         `json:"toolName,omitempty"`
	ToolArgs       *string         `json:"toolArgs,omitempty"`
	ToolDurationMs *int64          `json:"toolDurationMs,omitempty"`
	Level          Level           `json:"level"`
	Data           json.RawMessage `json:"data,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Well-known event types emitted by the watchdog and run-completion
// detector.
const (
	EventBeadClosedAutocomplete = "bead_closed_autocomplete"
	EventRunComplete            = "run_complete"
	EventEscalationWarn         = "escalation_warn"
	EventEscalationNudge        = "escalation_nudge"
	EventEscalationTriage       = "escalation_triage"
	EventEscalationTerminate    = "escalation_terminate"
	EventReconciliation         = "reconciliation_note"
)

// Recorder appends events to the events bucket.
type Recorder struct {
	db  *store.DB
	now func() time.Time
}

// NewRecorder creates a Recorder backed by db.
func NewRecorder(db *store.DB) *Recorder {
	return &Recorder{db: db, now: time.Now}
}

// SetClock overrides the recorder's notion of "now", for deterministic tests.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record appends ev to the log, stamping an id and createdAt if not already
// set. Callers that want fire-and-forget semantics (the watchdog's
// escalation and reconciliation events, the run-completion detector's
// run_complete event) swallow the returned error themselves; Record itself
// always reports it.
func (r *Recorder) Record(ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	return r.db.Put(store.BucketEvents, ev.ID, ev)
}

// List returns every recorded event, in no particular order; callers that
// need ordering should sort on CreatedAt themselves.
func (r *Recorder) List() ([]*Event, error) {
	var out []*Event
	err := r.db.ForEach(store.BucketEvents, func(_ string, data []byte) error {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, &ev)
		return nil
	})
	return out, err
}
