// Package triage wraps the external AI-triage collaborator the watchdog
// consults at escalation level 2, before committing to termination. Like
// the other external-collaborator boundaries, it is narrow by design: the
// watchdog only needs one verdict per stalled agent per tick.
package triage

import "time"

// Verdict is the triage collaborator's recommendation for a stalled agent.
type Verdict string

const (
	VerdictRetry     Verdict = "retry"
	VerdictTerminate Verdict = "terminate"
	VerdictExtend    Verdict = "extend"
)

// Request is the context the watchdog hands to the triage collaborator.
type Request struct {
	AgentName    string
	ProjectRoot  string
	LastActivity time.Time
}

// Collaborator is the narrow interface the watchdog depends on. A real
// implementation shells out to (or otherwise invokes) an LLM; tests and
// deployments without triage configured use a Disabled or Static stand-in.
type Collaborator interface {
	Evaluate(req Request) (Verdict, error)
}

// Disabled is a Collaborator that is never consulted: callers should check
// Enabled() and skip the escalation-level-2 triage step entirely rather
// than invoke it, matching the "if AI-triage is disabled, skip" rule.
type Disabled struct{}

// Enabled reports false; present so callers can type-switch without an
// explicit nil check.
func (Disabled) Enabled() bool { return false }

// Evaluate always returns VerdictExtend; Disabled should not normally be
// invoked; this is the maximally-conservative fallback if it ever is.
func (Disabled) Evaluate(Request) (Verdict, error) { return VerdictExtend, nil }

// Static is a Collaborator backed by a fixed per-agent verdict map, used by
// tests and by deployments that want deterministic triage behavior.
type Static struct {
	Verdicts map[string]Verdict
	Default  Verdict
}

// Enabled reports true.
func (Static) Enabled() bool { return true }

// Evaluate returns the configured verdict for req.AgentName, or Default
// (VerdictExtend if unset) when the agent has no configured verdict.
func (s Static) Evaluate(req Request) (Verdict, error) {
	if v, ok := s.Verdicts[req.AgentName]; ok {
		return v, nil
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return VerdictExtend, nil
}

// Enableable is implemented by collaborators that can report whether
// triage is actually configured, letting the watchdog skip the
// escalation-level-2 call entirely rather than pay for a no-op Evaluate.
type Enableable interface {
	Enabled() bool
}
