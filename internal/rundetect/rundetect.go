// Package rundetect implements the run-completion detector: once every
// non-persistent worker in the active run reaches a terminal completed
// state, it delivers exactly one notification to the coordinator and
// records a dedup marker so a supervisor restart can never double-fire
// it.
package rundetect

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/session"
)

// persistentCapabilities are excluded from completion accounting: they
// outlive any single run and never themselves reach a terminal state as
// part of "the run finishing".
var persistentCapabilities = map[session.Capability]bool{
	session.CapabilityCoordinator: true,
	session.CapabilityMonitor:     true,
}

// CurrentRunReader exposes the external current-run pointer.
type CurrentRunReader interface {
	// Read returns the trimmed active run id, or "" if none is set.
	Read() (string, error)
}

// Marker is the dedup boundary: the last run id for which completion was
// already announced.
type Marker interface {
	Read() (string, error)
	Write(runID string) error
}

// SessionsByRun is the narrow view of the session store the detector needs.
type SessionsByRun interface {
	GetByRun(runID string) ([]*session.Session, error)
}

// MailSender is the narrow view of the mail store the detector needs to
// force-notify the coordinator.
type MailSender interface {
	Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error)
}

// Detector implements the one-shot run-completion check.
type Detector struct {
	CurrentRun CurrentRunReader
	Marker     Marker
	Sessions   SessionsByRun
	Mail       MailSender
	Events     *events.Recorder

	// Coordinator is the recipient the completion notice is force-sent
	// to. Defaults to "coordinator".
	Coordinator string
	// From is the sender identity used for the notice.
	From string

	Now func() time.Time
}

// New builds a Detector with real-clock defaults.
func New() *Detector {
	return &Detector{Coordinator: "coordinator", From: "watchdog", Now: time.Now}
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Check runs the one-shot algorithm. It returns (true, nil) when a
// completion notice was just delivered, (false, nil) when the run is not
// yet complete (or already notified), and a non-nil error only when the
// current-run id or session lookup itself fails — every downstream step
// (notification, event recording, marker write) is individually
// non-fatal, since the only hard dedup boundary is the marker read.
func (d *Detector) Check() (notified bool, err error) {
	runID, err := d.CurrentRun.Read()
	if err != nil {
		return false, fmt.Errorf("reading current run: %w", err)
	}
	if runID == "" {
		return false, nil
	}

	all, err := d.Sessions.GetByRun(runID)
	if err != nil {
		return false, fmt.Errorf("loading sessions for run %s: %w", runID, err)
	}

	var workers []*session.Session
	for _, sess := range all {
		if persistentCapabilities[sess.Capability] {
			continue
		}
		workers = append(workers, sess)
	}
	if len(workers) == 0 {
		return false, nil
	}

	for _, w := range workers {
		if w.State != session.StateCompleted {
			return false, nil
		}
	}

	lastNotified, merr := d.Marker.Read()
	if merr == nil && lastNotified == runID {
		return false, nil
	}

	subject, body := buildMessage(runID, workers)

	coordinator := d.Coordinator
	if coordinator == "" {
		coordinator = "coordinator"
	}
	if d.Mail != nil {
		_, _ = d.Mail.Send(d.From, coordinator, subject, body, mail.TypeWorkerDone, mail.PriorityHigh, nil, nil)
	}

	if d.Events != nil {
		_ = d.Events.Record(events.Event{
			RunID:     &runID,
			AgentName: coordinator,
			EventType: events.EventRunComplete,
			Level:     events.LevelInfo,
			Data:      []byte(fmt.Sprintf("%q", subject)),
		})
	}

	_ = d.Marker.Write(runID)

	return true, nil
}

// buildMessage renders a phase-aware completion notice: a capability-
// specific template if every worker shares one capability, otherwise a
// generic summary with a sorted capability breakdown.
func buildMessage(runID string, workers []*session.Session) (subject, body string) {
	caps := map[session.Capability]int{}
	for _, w := range workers {
		caps[w.Capability]++
	}

	if len(caps) == 1 {
		var only session.Capability
		for c := range caps {
			only = c
		}
		return capabilitySubject(only, len(workers), runID), capabilityBody(only, workers, runID)
	}

	kinds := make([]string, 0, len(caps))
	for c := range caps {
		kinds = append(kinds, string(c))
	}
	sort.Strings(kinds)

	var breakdown strings.Builder
	for i, k := range kinds {
		if i > 0 {
			breakdown.WriteString(", ")
		}
		fmt.Fprintf(&breakdown, "%d %s", caps[session.Capability(k)], k)
	}

	subject = fmt.Sprintf("Run %s complete: %d workers finished", runID, len(workers))
	body = fmt.Sprintf("All workers for run %s have completed.\nBreakdown: %s.", runID, breakdown.String())
	return subject, body
}

func capabilitySubject(c session.Capability, count int, runID string) string {
	switch c {
	case session.CapabilityScout:
		return fmt.Sprintf("Run %s complete: %d scouting task(s) finished", runID, count)
	case session.CapabilityBuilder:
		return fmt.Sprintf("Run %s complete: %d build task(s) finished", runID, count)
	case session.CapabilityReviewer:
		return fmt.Sprintf("Run %s complete: %d review(s) finished", runID, count)
	case session.CapabilityMerger:
		return fmt.Sprintf("Run %s complete: %d merge task(s) finished", runID, count)
	default:
		return fmt.Sprintf("Run %s complete: %d %s task(s) finished", runID, count, c)
	}
}

func capabilityBody(c session.Capability, workers []*session.Session, runID string) string {
	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.AgentName)
	}
	sort.Strings(names)
	return fmt.Sprintf("All %d %s agents for run %s have completed: %s.",
		len(workers), c, runID, strings.Join(names, ", "))
}
