// Package router implements the mesh tool handlers: broadcast and direct
// sends, who-is-online discovery, meeting creation, and sender status.
//
// Handlers return result objects rather than errors for everything a caller
// can act on (validation failures, missing preconditions, anti-spam
// rejections); only transport-level encoding problems surface as Go errors
// at the dispatch boundary. Every send persists to the durable message store
// before any live push: history is authoritative, push is a convenience.
package router

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tinymesh-ai/tinymesh/pkg/guard"
	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
	"github.com/tinymesh-ai/tinymesh/pkg/store"
)

// Router wires the tool handlers to their collaborators.
type Router struct {
	registry *presence.Registry
	guard    *guard.Guard
	rules    guard.Rules
	sessions store.SessionStore
	messages store.MessageStore
	now      func() time.Time
}

// New creates a Router.
func New(registry *presence.Registry, g *guard.Guard, rules guard.Rules,
	sessions store.SessionStore, messages store.MessageStore) *Router {
	return &Router{
		registry: registry,
		guard:    g,
		rules:    rules,
		sessions: sessions,
		messages: messages,
		now:      time.Now,
	}
}

// SetClock replaces the router's clock, for tests.
func (r *Router) SetClock(now func() time.Time) { r.now = now }

// BroadcastArgs are the inputs of the mesh_broadcast tool.
type BroadcastArgs struct {
	Content           string `json:"content"`
	ToSessionID       string `json:"to_session_id,omitempty"`
	MessageType       string `json:"messageType,omitempty"`
	Priority          string `json:"priority,omitempty"`
	ParticipantName   string `json:"participantName,omitempty"`
	RequiresResponse  bool   `json:"requiresResponse,omitempty"`
	OriginalMessageID string `json:"originalMessageId,omitempty"`
}

// SendResult reports what happened to a send.
type SendResult struct {
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	Instruction       string    `json:"instruction,omitempty"`
	MessageID         string    `json:"messageId,omitempty"`
	DeliveryMethod    string    `json:"deliveryMethod,omitempty"`
	RecipientCount    int       `json:"recipientCount"`
	AvailableSessions []string  `json:"availableSessions,omitempty"`
	Timestamp         time.Time `json:"timestamp,omitzero"`
}

// Broadcast validates, persists, and pushes a mesh message. ToSessionID
// defaults to ALL; a specific target must name a currently online session.
func (r *Router) Broadcast(ctx context.Context, args BroadcastArgs) SendResult {
	if args.Content == "" {
		return SendResult{Success: false, Error: "content must not be empty"}
	}

	toSession := args.ToSessionID
	if toSession == "" {
		toSession = mesh.BroadcastAll
	}
	msgType := mesh.MessageType(args.MessageType)
	if args.MessageType == "" {
		msgType = mesh.TypeThoughtShare
	} else if !mesh.ValidMessageType(msgType) {
		return SendResult{Success: false, Error: fmt.Sprintf("invalid messageType %q", args.MessageType)}
	}
	prio := mesh.Priority(args.Priority)
	if args.Priority == "" {
		prio = mesh.PriorityMedium
	} else if !mesh.ValidPriority(prio) {
		return SendResult{Success: false, Error: fmt.Sprintf("invalid priority %q", args.Priority)}
	}

	if args.ParticipantName == "" {
		return SendResult{Success: false, Error: "participantName is required to attribute the message"}
	}
	sender, err := r.sessions.GetSessionByParticipant(ctx, args.ParticipantName)
	if err != nil {
		return SendResult{
			Success: false,
			Error:   fmt.Sprintf("no session for participant %q", args.ParticipantName),
			Instruction: "register and subscribe to the mesh before sending: " +
				"call connection/register with your participant name first",
		}
	}

	if decision := r.guard.CanRespond(sender.SessionID, args.Content, r.rules); !decision.Allowed {
		return SendResult{Success: false, Error: "anti-spam guard: " + decision.Reason}
	}

	direct := toSession != mesh.BroadcastAll
	if direct && !r.registry.IsOnline(toSession) {
		online := r.registry.OnlineSessions()
		sort.Strings(online)
		return SendResult{
			Success:           false,
			Error:             fmt.Sprintf("target session %q is not online", toSession),
			AvailableSessions: online,
			Instruction:       "pick one of the currently online sessions or broadcast to ALL",
		}
	}

	now := r.now()
	msg := &mesh.Message{
		ID:                uuid.New().String(),
		MessageType:       msgType,
		Content:           args.Content,
		FromSession:       sender.SessionID,
		ToSession:         toSession,
		ParticipantName:   args.ParticipantName,
		Priority:          prio,
		Timestamp:         now,
		RequiresResponse:  args.RequiresResponse,
		OriginalMessageID: args.OriginalMessageID,
		ReadBy:            []string{},
	}

	// Durable write strictly before live push.
	if err := r.messages.StoreMessage(ctx, msg); err != nil {
		logger.ErrorCF("router", "Message persist failed", map[string]any{
			"message_id": msg.ID,
			"error":      err.Error(),
		})
		return SendResult{Success: false, Error: "failed to persist message: " + err.Error()}
	}
	r.registry.PushMessage(msg)
	r.guard.RecordResponse(sender.SessionID, args.Content, msg.ID)

	method := "broadcast"
	recipients := r.registry.PresenceCount()
	if r.registry.IsOnline(sender.SessionID) {
		recipients--
	}
	if direct {
		method = "direct"
		recipients = 1
	}

	instruction := fmt.Sprintf("delivered live to %d recipient(s); durable history retains the message", recipients)
	if recipients == 0 {
		instruction = "no recipients are currently connected; the message is stored and will be discovered on reconnect"
	}

	return SendResult{
		Success:        true,
		MessageID:      msg.ID,
		DeliveryMethod: method,
		RecipientCount: recipients,
		Instruction:    instruction,
		Timestamp:      now,
	}
}
