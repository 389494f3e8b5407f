package mesh

import "time"

// SpeakingOrder controls who may speak during a meeting phase.
type SpeakingOrder string

const (
	OrderRoundRobin SpeakingOrder = "round-robin"
	OrderOpen       SpeakingOrder = "open"
	OrderSequential SpeakingOrder = "sequential"
)

// CompletionCriteria determines when a meeting phase is considered done.
type CompletionCriteria string

const (
	CompleteAllSpoken CompletionCriteria = "all-spoken"
	CompleteAllReady  CompletionCriteria = "all-ready"
	CompleteTimeBased CompletionCriteria = "time-based"
)

// AgendaItem is a single topic on a meeting agenda.
type AgendaItem struct {
	Topic            string `json:"topic"`
	Description      string `json:"description,omitempty"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
	Speaker          string `json:"speaker,omitempty"`
}

// Phase is one step of a meeting protocol.
type Phase struct {
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	SpeakingOrder      SpeakingOrder      `json:"speakingOrder"`
	TurnDurationSec    int                `json:"turnDurationSeconds,omitempty"`
	PhaseDurationSec   int                `json:"phaseDurationSeconds,omitempty"`
	CompletionCriteria CompletionCriteria `json:"completionCriteria"`
}

// Protocol is the ordered list of phases a meeting follows. The gateway
// publishes it as data; phase progression is cooperative among participants,
// not enforced server-side.
type Protocol struct {
	Phases []Phase `json:"phases"`
}

// Meeting is a structured coordination object. It has no store of its own:
// it travels as the context of a system_notification message.
type Meeting struct {
	MeetingID                string       `json:"meetingId"`
	Title                    string       `json:"title"`
	Purpose                  string       `json:"purpose"`
	Agenda                   []AgendaItem `json:"agenda"`
	Protocol                 Protocol     `json:"protocol"`
	InvitedParticipants      []string     `json:"invitedParticipants,omitempty"`
	RequiredForQuorum        int          `json:"requiredForQuorum,omitempty"`
	CreatedBy                string       `json:"createdBy"`
	CreatedAt                time.Time    `json:"createdAt"`
	StartsAt                 *time.Time   `json:"startsAt,omitempty"`
	EstimatedDurationMinutes int          `json:"estimatedDurationMinutes,omitempty"`
}

// DefaultProtocol returns the canonical five-phase meeting protocol used
// when a meeting is created without an explicit protocol.
func DefaultProtocol() Protocol {
	return Protocol{Phases: []Phase{
		{
			Name:               "GATHERING",
			Description:        "Participants join and signal readiness",
			SpeakingOrder:      OrderOpen,
			CompletionCriteria: CompleteAllReady,
		},
		{
			Name:               "INTRODUCTION",
			Description:        "Each participant introduces their perspective",
			SpeakingOrder:      OrderRoundRobin,
			TurnDurationSec:    60,
			CompletionCriteria: CompleteAllSpoken,
		},
		{
			Name:               "PRESENTATION",
			Description:        "Agenda topics are presented in order",
			SpeakingOrder:      OrderRoundRobin,
			TurnDurationSec:    180,
			CompletionCriteria: CompleteAllSpoken,
		},
		{
			Name:               "DELIBERATION",
			Description:        "Open discussion of the presented material",
			SpeakingOrder:      OrderOpen,
			PhaseDurationSec:   600,
			CompletionCriteria: CompleteTimeBased,
		},
		{
			Name:               "CONSENSUS",
			Description:        "Each participant states their final position",
			SpeakingOrder:      OrderRoundRobin,
			CompletionCriteria: CompleteAllSpoken,
		},
	}}
}
