package router

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

// MeetingArgs are the inputs of the mesh_create_meeting tool.
type MeetingArgs struct {
	Title                    string            `json:"title"`
	Purpose                  string            `json:"purpose"`
	Agenda                   []mesh.AgendaItem `json:"agenda"`
	Protocol                 *mesh.Protocol    `json:"protocol,omitempty"`
	InvitedParticipants      []string          `json:"invitedParticipants,omitempty"`
	RequiredForQuorum        int               `json:"requiredForQuorum,omitempty"`
	StartsAt                 *time.Time        `json:"startsAt,omitempty"`
	EstimatedDurationMinutes int               `json:"estimatedDurationMinutes,omitempty"`
	ParticipantName          string            `json:"participantName,omitempty"`
}

// MeetingResult reports the created meeting and its announcement.
type MeetingResult struct {
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	MeetingID      string        `json:"meetingId,omitempty"`
	MessageID      string        `json:"messageId,omitempty"`
	Meeting        *mesh.Meeting `json:"meeting,omitempty"`
	RecipientCount int           `json:"recipientCount"`
	Instruction    string        `json:"instruction,omitempty"`
}

// CreateMeeting builds a meeting object, wraps it in a system_notification
// message, persists it, and broadcasts it like any other mesh message. The
// gateway publishes the protocol as data only; phase progression is
// cooperative among participants.
//
// Creator identity: an explicit participantName wins; otherwise the most
// recently active durable session is assumed to be the caller.
func (r *Router) CreateMeeting(ctx context.Context, args MeetingArgs) MeetingResult {
	if args.Title == "" {
		return MeetingResult{Success: false, Error: "title must not be empty"}
	}
	if args.Purpose == "" {
		return MeetingResult{Success: false, Error: "purpose must not be empty"}
	}
	if len(args.Agenda) == 0 {
		return MeetingResult{Success: false, Error: "agenda requires at least one topic"}
	}
	for _, item := range args.Agenda {
		if item.Topic == "" {
			return MeetingResult{Success: false, Error: "every agenda item requires a topic"}
		}
	}

	creator, errResult := r.resolveCreator(ctx, args.ParticipantName)
	if errResult != nil {
		return *errResult
	}

	protocol := mesh.DefaultProtocol()
	if args.Protocol != nil && len(args.Protocol.Phases) > 0 {
		protocol = *args.Protocol
	}

	now := r.now()
	meeting := &mesh.Meeting{
		MeetingID:                uuid.New().String(),
		Title:                    args.Title,
		Purpose:                  args.Purpose,
		Agenda:                   args.Agenda,
		Protocol:                 protocol,
		InvitedParticipants:      args.InvitedParticipants,
		RequiredForQuorum:        args.RequiredForQuorum,
		CreatedBy:                creator.sessionID,
		CreatedAt:                now,
		StartsAt:                 args.StartsAt,
		EstimatedDurationMinutes: args.EstimatedDurationMinutes,
	}

	msg := &mesh.Message{
		ID:              uuid.New().String(),
		MessageType:     mesh.TypeSystemNotification,
		Content:         "Meeting invitation: " + meeting.Title,
		FromSession:     creator.sessionID,
		ToSession:       mesh.BroadcastAll,
		ParticipantName: creator.participantName,
		Priority:        mesh.PriorityHigh,
		Timestamp:       now,
		Context:         map[string]any{"meeting": meeting},
		ReadBy:          []string{},
	}

	if err := r.messages.StoreMessage(ctx, msg); err != nil {
		logger.ErrorCF("router", "Meeting persist failed", map[string]any{
			"meeting_id": meeting.MeetingID,
			"error":      err.Error(),
		})
		return MeetingResult{Success: false, Error: "failed to persist meeting announcement: " + err.Error()}
	}
	r.registry.PushMessage(msg)

	recipients := r.registry.PresenceCount()
	if r.registry.IsOnline(creator.sessionID) {
		recipients--
	}
	instruction := "meeting announced to all connected agents; follow the published protocol phases cooperatively"
	if recipients == 0 {
		instruction = "no agents are currently connected; the invitation is stored for later discovery"
	}

	logger.InfoCF("router", "Meeting created", map[string]any{
		"meeting_id": meeting.MeetingID,
		"title":      meeting.Title,
		"phases":     len(protocol.Phases),
	})

	return MeetingResult{
		Success:        true,
		MeetingID:      meeting.MeetingID,
		MessageID:      msg.ID,
		Meeting:        meeting,
		RecipientCount: recipients,
		Instruction:    instruction,
	}
}

type creatorIdentity struct {
	sessionID       string
	participantName string
}

func (r *Router) resolveCreator(ctx context.Context, participantName string) (creatorIdentity, *MeetingResult) {
	if participantName != "" {
		rec, err := r.sessions.GetSessionByParticipant(ctx, participantName)
		if err != nil {
			return creatorIdentity{}, &MeetingResult{
				Success:     false,
				Error:       "no session for participant " + participantName,
				Instruction: "register with the mesh before creating a meeting",
			}
		}
		return creatorIdentity{sessionID: rec.SessionID, participantName: rec.ParticipantName}, nil
	}

	sessions, err := r.sessions.GetAllSessions(ctx)
	if err != nil {
		return creatorIdentity{}, &MeetingResult{Success: false, Error: "failed to list sessions: " + err.Error()}
	}
	if len(sessions) == 0 {
		return creatorIdentity{}, &MeetingResult{
			Success:     false,
			Error:       "no active sessions to attribute the meeting to",
			Instruction: "register with the mesh before creating a meeting",
		}
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastHeartbeat.After(latest.LastHeartbeat) {
			latest = s
		}
	}
	return creatorIdentity{sessionID: latest.SessionID, participantName: latest.ParticipantName}, nil
}
