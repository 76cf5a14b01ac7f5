// Package watchdog implements periodic health evaluation and progressive
// escalation for the agent fleet. It is the hardest component in the
// coordination core: every tick must reconcile recorded session state
// against observable reality, drive stalled agents through a four-step
// escalation ladder, and never let a single session's failure — a bad
// probe, a malformed record, a panicking callback — abort the rest of the
// tick.
package watchdog

import (
	"fmt"
	"time"

	"github.com/jayminwest/overstory/internal/beads"
	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/metrics"
	"github.com/jayminwest/overstory/internal/mulch"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/triage"
)

// Action is the health-evaluation outcome for one session in one tick.
type Action string

const (
	ActionNone        Action = "none"
	ActionEscalate    Action = "escalate"
	ActionTerminate   Action = "terminate"
	ActionInvestigate Action = "investigate"
)

// Thresholds parameterizes health evaluation and the escalation ladder.
// ZombieMs must be greater than StaleMs.
type Thresholds struct {
	StaleMs         int64
	ZombieMs        int64
	NudgeIntervalMs int64
}

// DefaultThresholds matches the values a freshly-configured deployment
// would use absent any override.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleMs:         5 * 60 * 1000,
		ZombieMs:        20 * 60 * 1000,
		NudgeIntervalMs: 5 * 60 * 1000,
	}
}

// SessionStore is the narrow view of the session store the watchdog needs.
type SessionStore interface {
	GetAll() ([]*session.Session, error)
	UpdateState(name string, state session.State) error
	UpdateEscalation(name string, level int, stalledSince *time.Time) error
}

// MailSender is the narrow view of the mail store the watchdog needs to
// deliver escalation nudges and read unread-mail counts for the
// first-stall inbox check.
type MailSender interface {
	Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error)
	GetUnread(agent string) ([]*mail.Message, error)
}

// Multiplexer is the narrow view of the terminal multiplexer the watchdog
// needs: a liveness probe and a best-effort kill.
type Multiplexer interface {
	IsSessionAlive(name string) (bool, error)
	KillSession(name string) error
}

// MetricsRecorder is the narrow view of the metrics store the watchdog
// needs: one row appended whenever the watchdog terminates a session. A
// session autocompleted because its bead closed gets no row.
type MetricsRecorder interface {
	Record(row metrics.Row) error
}

// HealthCheckObserver is fired once per health-evaluated session per tick,
// after the state transition has been applied, so an operator-facing
// surface (the dashboard) can observe every reconciliation regardless of
// whether it changed anything. Sessions autocompleted because their bead
// closed are not health-evaluated and are not reported to it.
type HealthCheckObserver func(sess *session.Session, action Action, note string)

// Watchdog evaluates and escalates every session not in StateCompleted
// (zombies included) on each Tick.
type Watchdog struct {
	Sessions SessionStore
	Mail     MailSender
	Nudges   nudge.Writer
	Term     Multiplexer
	Tracker  beads.Tracker
	Triage   triage.Collaborator
	Mulch    mulch.Recorder
	Events   *events.Recorder
	Metrics  MetricsRecorder

	Thresholds Thresholds

	// From is the sender identity the watchdog uses for its own mail
	// (force-nudges, first-stall inbox checks).
	From string

	// ProjectRoot is passed to the triage collaborator.
	ProjectRoot string

	OnHealthCheck HealthCheckObserver

	Now func() time.Time
}

// New builds a Watchdog with real-clock defaults. Callers must still set
// the collaborator fields before calling Tick.
func New() *Watchdog {
	return &Watchdog{
		Thresholds: DefaultThresholds(),
		From:       "watchdog",
		Now:        time.Now,
	}
}

func (w *Watchdog) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Tick runs one full reconciliation pass over every non-completed session.
// It never returns an error for a single session's failure — those are
// recorded as events and swallowed — only when the session table itself
// cannot be loaded. A failed batched ticket-status lookup yields an empty
// closed set and the tick goes on.
func (w *Watchdog) Tick() error {
	sessions, err := w.Sessions.GetAll()
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	closed := w.closedBeadSet(sessions)

	for _, sess := range sessions {
		if sess.State == session.StateCompleted {
			continue
		}
		w.processOne(sess, closed)
	}

	return nil
}

// closedBeadSet batches a single external-ticket lookup for every session
// carrying a non-empty BeadID. Any tracker failure yields the empty set,
// since beads.Tracker implementations are themselves fail-open.
func (w *Watchdog) closedBeadSet(sessions []*session.Session) map[string]bool {
	var ids []string
	for _, sess := range sessions {
		if sess.BeadID != "" {
			ids = append(ids, sess.BeadID)
		}
	}
	if len(ids) == 0 || w.Tracker == nil {
		return nil
	}
	statuses, err := w.Tracker.ListStatus(ids)
	if err != nil {
		return nil
	}
	closed := make(map[string]bool, len(statuses))
	for id, st := range statuses {
		if st == beads.StatusClosed {
			closed[id] = true
		}
	}
	return closed
}

// processOne reconciles a single session. Panics inside this call are
// recovered so one session's malformed data can never cancel the rest of
// the tick.
func (w *Watchdog) processOne(sess *session.Session, closed map[string]bool) {
	defer func() {
		if r := recover(); r != nil {
			w.recordEvent(sess, events.LevelError, "watchdog_panic", fmt.Sprintf("recovered: %v", r))
		}
	}()

	if sess.BeadID != "" && closed[sess.BeadID] {
		_ = w.Sessions.UpdateState(sess.AgentName, session.StateCompleted)
		_ = w.Sessions.UpdateEscalation(sess.AgentName, 0, nil)
		w.recordEvent(sess, events.LevelInfo, events.EventBeadClosedAutocomplete,
			fmt.Sprintf("bead %s closed externally", sess.BeadID))
		return
	}

	alive, probeErr := true, error(nil)
	if w.Term != nil {
		alive, probeErr = w.Term.IsSessionAlive(sess.TmuxSession)
		if probeErr != nil {
			alive = false
		}
	}

	now := w.now()
	action, newState, note := evaluateHealth(sess, alive, now, w.Thresholds)
	if note != "" {
		w.recordEvent(sess, events.LevelWarn, events.EventReconciliation, note)
	}

	terminated := false
	switch action {
	case ActionEscalate:
		terminated = w.escalate(sess, now)
		if terminated {
			newState = session.StateZombie
		}
	case ActionTerminate:
		w.killTerminal(sess)
		w.recordFailure(sess, "process died; terminated", 0, "")
		w.recordTermination(sess, now, "process died; terminated")
	case ActionNone:
		if sess.StalledSince != nil {
			_ = w.Sessions.UpdateEscalation(sess.AgentName, 0, nil)
		}
	}

	_ = w.Sessions.UpdateState(sess.AgentName, newState)

	if w.OnHealthCheck != nil {
		w.OnHealthCheck(sess, action, note)
	}
}

// killTerminal best-effort kills a session's terminal handle. Safe to call
// on an already-dead session.
func (w *Watchdog) killTerminal(sess *session.Session) {
	if w.Term == nil {
		return
	}
	_ = w.Term.KillSession(sess.TmuxSession)
}

// recordFailure appends a fire-and-forget structured failure entry to the
// learning store. Its own failure must never abort the tick.
func (w *Watchdog) recordFailure(sess *session.Session, reason string, tier int, triageSuggestion string) {
	if w.Mulch == nil {
		return
	}
	tags := []string{"watchdog", string(sess.Capability)}
	if triageSuggestion != "" {
		tags = append(tags, "triage:"+triageSuggestion)
	}
	_ = w.Mulch.Record("watchdog", mulch.Entry{
		Type:         mulch.TypeFailure,
		Description:  fmt.Sprintf("agent=%s capability=%s reason=%s tier=%d", sess.AgentName, sess.Capability, reason, tier),
		Tags:         tags,
		EvidenceBead: sess.BeadID,
	})
}

// recordTermination appends a metrics row for a session that just reached
// a terminal state. Its own failure must never abort the tick, matching
// the fail-open contract every other external-collaborator write obeys.
func (w *Watchdog) recordTermination(sess *session.Session, now time.Time, reason string) {
	if w.Metrics == nil {
		return
	}
	_ = w.Metrics.Record(metrics.Row{
		AgentName:    sess.AgentName,
		RunID:        sess.RunID,
		Capability:   string(sess.Capability),
		Reason:       reason,
		StartedAt:    sess.StartedAt,
		TerminatedAt: now,
	})
}

func (w *Watchdog) recordEvent(sess *session.Session, level events.Level, eventType, note string) {
	if w.Events == nil {
		return
	}
	var runID *string
	if sess.RunID != nil {
		runID = sess.RunID
	}
	_ = w.Events.Record(events.Event{
		RunID:     runID,
		AgentName: sess.AgentName,
		EventType: eventType,
		Level:     level,
		Data:      []byte(fmt.Sprintf("%q", note)),
	})
}
