package mail

import "strings"

// GroupResolver expands a "@<group>" address into concrete agent names.
// Group addresses are never persisted — they are expanded at Send time.
// The mapping from group name to membership predicate is made explicit
// via this interface instead of living implicitly inside the sender.
type GroupResolver interface {
	// Resolve returns the agent names belonging to group (without the "@"),
	// excluding excludeAgent (typically the sender). active is the current
	// set of active sessions' agent names and capabilities, supplied by the
	// caller so the resolver never needs its own session-store handle.
	Resolve(group string, active []ActiveAgent, excludeAgent string) []string
}

// ActiveAgent is the minimal view of a session the group resolver needs.
type ActiveAgent struct {
	AgentName  string
	Capability string
}

// IsGroupAddress reports whether address uses "@<group>" syntax.
func IsGroupAddress(address string) bool {
	return strings.HasPrefix(address, "@")
}

// GroupName strips the leading "@" from a group address.
func GroupName(address string) string {
	return strings.TrimPrefix(address, "@")
}

// DefaultGroupResolver implements the two built-in aliases ("all", "workers")
// plus the implicit "capability name is a group" rule, using a set of
// capabilities excluded from "workers" (by default coordinator, monitor and
// supervisor; lead agents count as workers).
type DefaultGroupResolver struct {
	// NonWorkerCapabilities lists capability names excluded from "@workers".
	// Defaults to {"coordinator", "monitor", "supervisor"} when nil.
	NonWorkerCapabilities map[string]bool
}

// NewDefaultGroupResolver returns a resolver with the standard alias set.
func NewDefaultGroupResolver() *DefaultGroupResolver {
	return &DefaultGroupResolver{
		NonWorkerCapabilities: map[string]bool{
			"coordinator": true,
			"monitor":     true,
			"supervisor":  true,
		},
	}
}

// Resolve implements GroupResolver.
func (r *DefaultGroupResolver) Resolve(group string, active []ActiveAgent, excludeAgent string) []string {
	nonWorker := r.NonWorkerCapabilities
	if nonWorker == nil {
		nonWorker = NewDefaultGroupResolver().NonWorkerCapabilities
	}

	var out []string
	for _, agent := range active {
		if agent.AgentName == excludeAgent {
			continue
		}
		switch group {
		case "all":
			out = append(out, agent.AgentName)
		case "workers":
			if !nonWorker[agent.Capability] {
				out = append(out, agent.AgentName)
			}
		default:
			// Capability-name groups (e.g. "@builder") resolve to every
			// active agent with that capability.
			if agent.Capability == group {
				out = append(out, agent.AgentName)
			}
		}
	}
	return out
}
