// Package mail implements a durable inter-agent message queue and
// broadcast broker.
package mail

import "time"

// Priority is the urgency of a message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Type is the semantic or protocol kind of a message.
type Type string

const (
	// Semantic types.
	TypeStatus   Type = "status"
	TypeQuestion Type = "question"
	TypeResult   Type = "result"
	TypeError    Type = "error"

	// Protocol types.
	TypeWorkerDone   Type = "worker_done"
	TypeMergeReady   Type = "merge_ready"
	TypeMerged       Type = "merged"
	TypeMergeFailed  Type = "merge_failed"
	TypeEscalation   Type = "escalation"
	TypeHealthCheck  Type = "health_check"
	TypeDispatch     Type = "dispatch"
	TypeAssign       Type = "assign"
)

func (t Type) valid() bool {
	switch t {
	case TypeStatus, TypeQuestion, TypeResult, TypeError,
		TypeWorkerDone, TypeMergeReady, TypeMerged, TypeMergeFailed,
		TypeEscalation, TypeHealthCheck, TypeDispatch, TypeAssign:
		return true
	}
	return false
}

// autoNudgeTypes is the set of message types that, regardless of priority,
// trigger the auto-nudge side effect.
var autoNudgeTypes = map[Type]bool{
	TypeWorkerDone:  true,
	TypeMergeReady:  true,
	TypeError:       true,
	TypeEscalation:  true,
	TypeMergeFailed: true,
}

func (t Type) triggersAutoNudge() bool {
	return autoNudgeTypes[t]
}

func (p Priority) triggersAutoNudge() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// Message is one row in the mail store.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Type      Type      `json:"type"`
	ThreadID  *string   `json:"threadId,omitempty"`
	Payload   *string   `json:"payload,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`

	// Seq is a monotonic insertion counter used to break ties when two
	// messages share a CreatedAt timestamp, preserving per-recipient
	// delivery order.
	Seq uint64 `json:"seq"`
}

// Filter narrows a List query.
type Filter struct {
	From   string
	To     string
	Agent  string // matches either endpoint of the conversation
	Unread *bool
	Limit  int
}
