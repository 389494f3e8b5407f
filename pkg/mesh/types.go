// Package mesh defines the shared data model of the agent mesh: durable
// messages exchanged between agents and the meeting coordination objects
// carried inside them.
package mesh

import "time"

// BroadcastAll is the reserved toSession value addressing every subscriber.
const BroadcastAll = "ALL"

// MessageType classifies a mesh message.
type MessageType string

const (
	TypeThoughtShare       MessageType = "thought_share"
	TypeQuery              MessageType = "query"
	TypeResponse           MessageType = "response"
	TypeAcknowledgment     MessageType = "acknowledgment"
	TypeSystemNotification MessageType = "system_notification"
)

// ValidMessageType reports whether t is one of the fixed message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case TypeThoughtShare, TypeQuery, TypeResponse, TypeAcknowledgment, TypeSystemNotification:
		return true
	}
	return false
}

// Priority orders mesh messages by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ValidPriority reports whether p is one of the fixed priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Message is a durable mesh message. It is immutable once stored except for
// the append-only ReadBy set.
type Message struct {
	ID                string         `json:"id"`
	MessageType       MessageType    `json:"messageType"`
	Content           string         `json:"content"`
	FromSession       string         `json:"fromSession"`
	ToSession         string         `json:"toSession"`
	ParticipantName   string         `json:"participantName,omitempty"`
	Priority          Priority       `json:"priority"`
	Timestamp         time.Time      `json:"timestamp"`
	RequiresResponse  bool           `json:"requiresResponse,omitempty"`
	OriginalMessageID string         `json:"originalMessageId,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	ReadBy            []string       `json:"readBy"`
}

// IsBroadcast reports whether the message is addressed to every subscriber.
func (m *Message) IsBroadcast() bool {
	return m.ToSession == "" || m.ToSession == BroadcastAll
}
