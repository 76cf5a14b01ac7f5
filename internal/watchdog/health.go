package watchdog

import (
	"fmt"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/triage"
)

// evaluateHealth implements the health-evaluation table: given a session's
// recorded state, a fresh terminal-liveness observation, and the current
// time, it produces the action to dispatch and the state the session
// should transition to. note is non-empty whenever the observable state
// disagrees with the stored state.
func evaluateHealth(sess *session.Session, alive bool, now time.Time, th Thresholds) (action Action, newState session.State, note string) {
	if !alive {
		if sess.State.IsTerminal() {
			return ActionNone, sess.State, ""
		}
		return ActionTerminate, session.StateZombie, fmt.Sprintf("terminal not alive but recorded state was %s", sess.State)
	}

	if sess.State == session.StateZombie {
		return ActionInvestigate, session.StateZombie, "recorded zombie but terminal is alive"
	}

	age := now.Sub(sess.LastActivity)

	if age < time.Duration(th.StaleMs)*time.Millisecond {
		return ActionNone, session.StateWorking, ""
	}

	if age >= time.Duration(th.ZombieMs)*time.Millisecond {
		return ActionEscalate, sess.State, ""
	}

	// staleMs <= age < zombieMs: quiet, escalate.
	newState = sess.State
	if sess.State == session.StateWorking || sess.State == session.StateBooting {
		newState = session.StateStalled
	}
	return ActionEscalate, newState, ""
}

// escalate drives a stalled session through the four-step ladder, dated
// from stalledSince rather than tick count. It returns true if the
// session was terminated (either by reaching the terminal level or by a
// triage terminate verdict), in which case the caller forces the session
// to StateZombie.
func (w *Watchdog) escalate(sess *session.Session, now time.Time) (terminated bool) {
	if sess.StalledSince == nil {
		w.firstStall(sess, now)
		return false
	}

	interval := time.Duration(w.Thresholds.NudgeIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(DefaultThresholds().NudgeIntervalMs) * time.Millisecond
	}
	elapsed := now.Sub(*sess.StalledSince)
	expected := int(elapsed / interval)
	if expected > 3 {
		expected = 3
	}
	level := sess.EscalationLevel
	if expected > level {
		level = expected
	}
	if level != sess.EscalationLevel {
		_ = w.Sessions.UpdateEscalation(sess.AgentName, level, sess.StalledSince)
	}

	switch {
	case level == 0:
		w.warn(sess)
	case level == 1:
		w.nudgeLevel1(sess)
	case level == 2:
		terminated = w.triageLevel2(sess, now)
	default:
		terminated = w.terminateLevel3(sess, now)
	}
	return terminated
}

// firstStall marks the moment a session first enters escalate and, if the
// agent has unread mail, sends an immediate pre-level-1 courtesy nudge.
// This does not advance the ladder.
func (w *Watchdog) firstStall(sess *session.Session, now time.Time) {
	_ = w.Sessions.UpdateEscalation(sess.AgentName, 0, &now)
	w.warn(sess)

	if w.Mail == nil {
		return
	}
	unread, err := w.Mail.GetUnread(sess.AgentName)
	if err != nil || len(unread) == 0 {
		return
	}
	body := fmt.Sprintf("You have %d unread message(s). Check your inbox.", len(unread))
	w.forceSend(sess.AgentName, "Unread mail waiting", body)
}

func (w *Watchdog) warn(sess *session.Session) {
	w.recordEvent(sess, events.LevelInfo, events.EventEscalationWarn, "level 0: watching")
}

func (w *Watchdog) nudgeLevel1(sess *session.Session) {
	w.forceSend(sess.AgentName, "Status check", "No activity observed recently. Please report your current status.")
	w.recordEvent(sess, events.LevelWarn, events.EventEscalationNudge, "level 1: nudged")
}

func (w *Watchdog) triageLevel2(sess *session.Session, now time.Time) (terminated bool) {
	if w.Triage == nil {
		return false
	}
	if e, ok := w.Triage.(interface{ Enabled() bool }); ok && !e.Enabled() {
		return false
	}

	verdict, err := w.Triage.Evaluate(triage.Request{
		AgentName:    sess.AgentName,
		ProjectRoot:  w.ProjectRoot,
		LastActivity: sess.LastActivity,
	})
	if err != nil {
		w.recordEvent(sess, events.LevelWarn, events.EventEscalationTriage, fmt.Sprintf("triage failed: %v", err))
		return false
	}

	w.recordEvent(sess, events.LevelWarn, events.EventEscalationTriage, fmt.Sprintf("level 2: triage verdict=%s", verdict))

	switch verdict {
	case triage.VerdictTerminate:
		w.killTerminal(sess)
		w.recordFailure(sess, "triage recommended termination", 1, string(verdict))
		w.recordTermination(sess, now, "triage recommended termination")
		return true
	case triage.VerdictRetry:
		w.forceSend(sess.AgentName, "Recovery check", "Triage recommends a retry. Please resume and report status.")
		return false
	default: // extend
		return false
	}
}

func (w *Watchdog) terminateLevel3(sess *session.Session, now time.Time) (terminated bool) {
	w.killTerminal(sess)
	w.recordFailure(sess, "progressive escalation reached terminal level", 0, "")
	w.recordEvent(sess, events.LevelError, events.EventEscalationTerminate, "level 3: terminated")
	w.recordTermination(sess, now, "progressive escalation reached terminal level")
	return true
}

// forceSend delivers a watchdog-originated message and, independent of
// whether the message's own type/priority would trigger an auto-nudge,
// writes the nudge marker directly so the delivery bypasses the normal
// mail-check debounce window, matching the contract of a force-sent
// nudge.
func (w *Watchdog) forceSend(to, subject, body string) {
	if w.Mail == nil {
		return
	}
	ids, err := w.Mail.Send(w.From, to, subject, body, mail.TypeStatus, mail.PriorityLow, nil, nil)
	if err != nil || len(ids) == 0 {
		return
	}
	if w.Nudges == nil {
		return
	}
	_ = w.Nudges.WriteNudge(to, nudge.Marker{
		From:      w.From,
		Reason:    subject,
		Subject:   subject,
		MessageID: ids[0],
		CreatedAt: w.now(),
	})
}
