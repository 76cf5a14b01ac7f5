// Package wait implements the cooperative long-poll mail wait loop used by
// coordination agents that would otherwise busy-poll for new messages.
package wait

import (
	"os"
	"time"

	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/nudge"
)

// Status is the terminal outcome of a Wait call.
type Status string

const (
	StatusMessage   Status = "message"
	StatusNudged    Status = "nudged"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Defaults for a long-poll wait.
const (
	DefaultTimeoutMs     = 300_000
	DefaultInitialPollMs = 1_000
	DefaultMaxPollMs     = 10_000
	DefaultBackoff       = 1.5
)

// MailChecker is the narrow view of the mail store the waiter needs.
type MailChecker interface {
	Check(agent string) ([]*mail.Message, error)
}

// NudgeReader is the narrow view of the nudge channel the waiter needs.
type NudgeReader interface {
	ReadAndClearNudge(recipient string) (*nudge.Marker, error)
}

// ActivityToucher lets the waiter apply its own lastActivity touch,
// independent of any heartbeat side effect Check may also apply.
type ActivityToucher interface {
	UpdateLastActivity(agent string, now time.Time) error
}

// Config parameterizes one Wait call.
type Config struct {
	Agent              string
	TimeoutMs          int
	InitialPollMs      int
	MaxPollMs          int
	Backoff            float64
	CancelFile         string
	WakeOnPendingNudge bool
}

func (c Config) withDefaults() Config {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.InitialPollMs == 0 {
		c.InitialPollMs = DefaultInitialPollMs
	}
	if c.MaxPollMs == 0 {
		c.MaxPollMs = DefaultMaxPollMs
	}
	if c.Backoff == 0 {
		c.Backoff = DefaultBackoff
	}
	return c
}

// Result is what Wait returns.
type Result struct {
	Status   Status
	Messages []*mail.Message
	Nudge    *nudge.Marker
}

// Waiter runs the long-poll loop. Now and Sleep are overridable for
// deterministic tests, the same dependency-injection style used
// throughout the watchdog and its neighbors.
type Waiter struct {
	Mail     MailChecker
	Nudges   NudgeReader
	Activity ActivityToucher

	Now   func() time.Time
	Sleep func(time.Duration)
}

// NewWaiter builds a Waiter with real clock/sleep and the given
// collaborators.
func NewWaiter(mailChecker MailChecker, nudges NudgeReader, activity ActivityToucher) *Waiter {
	return &Waiter{
		Mail:     mailChecker,
		Nudges:   nudges,
		Activity: activity,
		Now:      time.Now,
		Sleep:    time.Sleep,
	}
}

// Wait polls for mail, an optional nudge marker, and a cancel file on an
// exponentially-backed-off schedule until one fires or the deadline
// passes. Cancellation is polite: the cancel file is checked only between
// sleeps, so worst-case latency to cancellation is min(pollMs,
// remainingMs).
func (w *Waiter) Wait(cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()

	now := w.now()
	deadline := now.Add(time.Duration(cfg.TimeoutMs) * time.Millisecond)
	pollMs := cfg.InitialPollMs

	for {
		if cfg.CancelFile != "" {
			if _, err := os.Stat(cfg.CancelFile); err == nil {
				return &Result{Status: StatusCancelled}, nil
			}
		}

		var pendingNudge *nudge.Marker
		if cfg.WakeOnPendingNudge && w.Nudges != nil {
			m, err := w.Nudges.ReadAndClearNudge(cfg.Agent)
			if err != nil {
				return nil, err
			}
			pendingNudge = m
		}

		var messages []*mail.Message
		if w.Mail != nil {
			msgs, err := w.Mail.Check(cfg.Agent)
			if err != nil {
				return nil, err
			}
			messages = msgs
		}

		if w.Activity != nil {
			if err := w.Activity.UpdateLastActivity(cfg.Agent, w.now()); err != nil {
				return nil, err
			}
		}

		if len(messages) > 0 {
			return &Result{Status: StatusMessage, Messages: messages, Nudge: pendingNudge}, nil
		}
		if pendingNudge != nil {
			return &Result{Status: StatusNudged, Nudge: pendingNudge}, nil
		}

		now = w.now()
		if !now.Before(deadline) {
			return &Result{Status: StatusTimeout}, nil
		}

		remainingMs := int(deadline.Sub(now) / time.Millisecond)
		sleepMs := pollMs
		if remainingMs < sleepMs {
			sleepMs = remainingMs
		}
		if sleepMs > 0 {
			w.sleep(time.Duration(sleepMs) * time.Millisecond)
		}

		next := int(float64(pollMs) * cfg.Backoff)
		if next > cfg.MaxPollMs {
			next = cfg.MaxPollMs
		}
		if next < cfg.InitialPollMs {
			next = cfg.InitialPollMs
		}
		pollMs = next
	}
}

func (w *Waiter) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Waiter) sleep(d time.Duration) {
	if w.Sleep != nil {
		w.Sleep(d)
		return
	}
	time.Sleep(d)
}
