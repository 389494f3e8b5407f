package router

import (
	"context"

	"github.com/tinymesh-ai/tinymesh/pkg/guard"
	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
	"github.com/tinymesh-ai/tinymesh/pkg/store"
)

// StatusArgs are the inputs of the mesh_status tool.
type StatusArgs struct {
	ParticipantName string `json:"participantName"`
}

// StatusResult surfaces a sender's anti-spam statistics and the live mesh
// size. Note the average interval covers the guard's full retained history,
// while the rate limit counts only the trailing hour.
type StatusResult struct {
	Success       bool        `json:"success"`
	Error         string      `json:"error,omitempty"`
	SessionID     string      `json:"sessionId,omitempty"`
	Online        bool        `json:"online"`
	PresenceCount int         `json:"presenceCount"`
	GuardStats    guard.Stats `json:"guardStats"`
	GuardRules    guard.Rules `json:"guardRules"`
}

// Status reports guard statistics and presence for one participant.
func (r *Router) Status(ctx context.Context, args StatusArgs) StatusResult {
	if args.ParticipantName == "" {
		return StatusResult{Success: false, Error: "participantName is required"}
	}
	rec, err := r.sessions.GetSessionByParticipant(ctx, args.ParticipantName)
	if err != nil {
		return StatusResult{
			Success: false,
			Error:   "no session for participant " + args.ParticipantName,
		}
	}
	return StatusResult{
		Success:       true,
		SessionID:     rec.SessionID,
		Online:        r.registry.IsOnline(rec.SessionID),
		PresenceCount: r.registry.PresenceCount(),
		GuardStats:    r.guard.SenderStats(rec.SessionID),
		GuardRules:    r.rules,
	}
}

// CatchUpArgs are the inputs of the mesh://messages resource read.
type CatchUpArgs struct {
	ParticipantName string `json:"participantName"`
	Limit           int    `json:"limit,omitempty"`
	MarkRead        bool   `json:"markRead,omitempty"`
}

// CatchUpResult carries the durable messages a participant missed.
type CatchUpResult struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	Messages    []mesh.Message `json:"messages"`
}

// CatchUp returns recent durable messages addressed to the participant's
// session or broadcast to ALL, the read side of "history is authoritative".
// With MarkRead set, the caller's session is appended to each returned
// message's readBy set.
func (r *Router) CatchUp(ctx context.Context, args CatchUpArgs) CatchUpResult {
	if args.ParticipantName == "" {
		return CatchUpResult{Success: false, Error: "participantName is required"}
	}
	rec, err := r.sessions.GetSessionByParticipant(ctx, args.ParticipantName)
	if err != nil {
		return CatchUpResult{
			Success:     false,
			Error:       "no session for participant " + args.ParticipantName,
			Instruction: "register with the mesh before reading messages",
		}
	}

	msgs, err := r.messages.QueryMessages(ctx, store.MessageFilter{
		ToSession:        rec.SessionID,
		IncludeBroadcast: true,
		Limit:            args.Limit,
	})
	if err != nil {
		return CatchUpResult{Success: false, Error: "failed to query messages: " + err.Error()}
	}

	if args.MarkRead {
		for i := range msgs {
			if msgs[i].FromSession == rec.SessionID {
				continue
			}
			// Best effort per message; a failed mark does not fail the read.
			_ = r.messages.MarkRead(ctx, msgs[i].ID, rec.SessionID)
		}
	}
	if msgs == nil {
		msgs = []mesh.Message{}
	}
	return CatchUpResult{Success: true, Messages: msgs}
}
