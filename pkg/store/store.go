// Package store defines the durable session and message stores the mesh
// gateway depends on, with a Redis implementation for production and an
// in-memory TTL implementation for single-node setups and tests.
//
// Durable history is authoritative: routers persist a message here before
// any live push is attempted, and reconnecting agents catch up by querying
// this store. Records expire by TTL (7 days by default); the stores never
// delete on disconnect.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

// ErrNotFound is returned when a requested record does not exist or has
// expired.
var ErrNotFound = errors.New("store: not found")

// DefaultTTL bounds the lifetime of sessions and messages.
const DefaultTTL = 7 * 24 * time.Hour

// SessionRecord is a durable agent session. It survives disconnects so that
// a message can be attributed to its sender immediately after a reconnect.
type SessionRecord struct {
	SessionID       string    `json:"sessionId"`
	ParticipantName string    `json:"participantName"`
	CreatedAt       time.Time `json:"createdAt"`
	LastHeartbeat   time.Time `json:"lastHeartbeat"`
}

// SessionStore maps participant names to durable sessions.
type SessionStore interface {
	// PutSession creates or replaces the session for its participant name.
	PutSession(ctx context.Context, rec SessionRecord) error
	// GetSessionByParticipant resolves a participant name to its session.
	// Returns ErrNotFound when no live session exists.
	GetSessionByParticipant(ctx context.Context, name string) (SessionRecord, error)
	// UpdateHeartbeat refreshes the session's last-heartbeat timestamp.
	UpdateHeartbeat(ctx context.Context, sessionID string) error
	// GetAllSessions lists every unexpired session.
	GetAllSessions(ctx context.Context) ([]SessionRecord, error)
}

// MessageFilter selects messages from a MessageStore.
type MessageFilter struct {
	// ToSession limits results to messages addressed to this session.
	// Broadcast messages are included when IncludeBroadcast is set.
	ToSession        string
	IncludeBroadcast bool
	// Since excludes messages at or before this instant when non-zero.
	Since time.Time
	// Limit caps the number of returned messages; 0 means no cap.
	Limit int
}

// MessageStore persists mesh messages.
type MessageStore interface {
	// StoreMessage persists a message with the store's TTL.
	StoreMessage(ctx context.Context, msg *mesh.Message) error
	// QueryMessages returns matching messages in timestamp order.
	QueryMessages(ctx context.Context, filter MessageFilter) ([]mesh.Message, error)
	// MarkRead appends sessionID to the message's readBy set.
	MarkRead(ctx context.Context, messageID, sessionID string) error
}
