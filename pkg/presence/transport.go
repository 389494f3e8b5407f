package presence

import (
	"time"

	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

// Event is a live notification pushed to a connected agent.
type Event struct {
	Type            EventType     `json:"type"`
	SessionID       string        `json:"sessionId,omitempty"`
	ParticipantName string        `json:"participantName,omitempty"`
	Status          Status        `json:"status,omitempty"`
	Delivery        string        `json:"delivery,omitempty"` // "broadcast" or "targeted"
	Message         *mesh.Message `json:"message,omitempty"`
	PresenceCount   int           `json:"presenceCount,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// EventType identifies a live notification kind.
type EventType string

const (
	EventJoin        EventType = "presence_join"
	EventLeave       EventType = "presence_leave"
	EventStatus      EventType = "presence_status"
	EventMeshMessage EventType = "mesh_message"
)

// Transport delivers events to one connected agent. Send must not block:
// implementations queue internally and report a full queue or closed peer as
// an error. The registry treats delivery as best-effort and swallows errors;
// durable history is the only delivery guarantee.
type Transport interface {
	Send(ev Event) error
}

// NoopTransport is the stand-in for out-of-band registrations: callers that
// want to appear present without holding a live connection. It accepts and
// discards every event, keeping presence and discovery logic uniform.
type NoopTransport struct{}

func (NoopTransport) Send(Event) error { return nil }
