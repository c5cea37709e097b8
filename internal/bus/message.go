package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message moving through the bus.
type MessageType string

const (
	TaskStarted   MessageType = "task_started"
	TaskCompleted MessageType = "task_completed"
	TaskFailed    MessageType = "task_failed"

	PhaseStarted    MessageType = "phase_started"
	PhaseCompleted  MessageType = "phase_completed"
	PhaseTransition MessageType = "phase_transition"
	PhaseError      MessageType = "phase_error"

	IssueFound  MessageType = "issue_found"
	CodeChanged MessageType = "code_changed"

	ObjectiveActivated MessageType = "objective_activated"
	ObjectiveCompleted MessageType = "objective_completed"
	ObjectiveBlocked   MessageType = "objective_blocked"

	SystemAlert MessageType = "system_alert"
	SystemInfo  MessageType = "system_info"
)

// AllTypes lists every message type, for consumers that bridge the whole
// stream (the websocket hub).
var AllTypes = []MessageType{
	TaskStarted, TaskCompleted, TaskFailed,
	PhaseStarted, PhaseCompleted, PhaseTransition, PhaseError,
	IssueFound, CodeChanged,
	ObjectiveActivated, ObjectiveCompleted, ObjectiveBlocked,
	SystemAlert, SystemInfo,
}

// Priority orders messages when a consumer drains a backlog.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Broadcast is the recipient that routes a message to every subscriber
// of its type.
const Broadcast = "broadcast"

// Message is a single unit of phase-to-phase communication. Messages are
// transient: they exist only for the process lifetime and are never
// persisted.
type Message struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Type      MessageType    `json:"message_type"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload"`
}

// NewMessage builds a message with a fresh ID and timestamp. A nil payload
// is replaced with an empty map so consumers never index into nil.
func NewMessage(sender, recipient string, t MessageType, priority Priority, payload map[string]any) Message {
	if payload == nil {
		payload = make(map[string]any)
	}
	return Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Sender:    sender,
		Recipient: recipient,
		Type:      t,
		Priority:  priority,
		Payload:   payload,
	}
}

// IsBroadcast reports whether the message targets all subscribers of its type.
func (m Message) IsBroadcast() bool {
	return m.Recipient == Broadcast || m.Recipient == "*"
}

func (m Message) String() string {
	return fmt.Sprintf("Message(%s, from=%s, to=%s, priority=%s)",
		m.Type, m.Sender, m.Recipient, m.Priority)
}
