package router

import (
	"context"
	"sort"
)

// WhoArgs are the inputs of the mesh_who_is_online tool.
type WhoArgs struct {
	IncludeCapabilities bool   `json:"includeCapabilities,omitempty"`
	FilterByCapability  string `json:"filterByCapability,omitempty"`
	FilterByStatus      string `json:"filterByStatus,omitempty"`
	IncludeHeartbeat    bool   `json:"includeHeartbeat,omitempty"`
}

// OnlineAgent is one entry of the discovery result.
type OnlineAgent struct {
	SessionID           string   `json:"sessionId"`
	ParticipantName     string   `json:"participantName,omitempty"`
	Status              string   `json:"status"`
	Capabilities        []string `json:"capabilities,omitempty"`
	HeartbeatAgeSeconds *float64 `json:"heartbeatAgeSeconds,omitempty"`
}

// WhoResult lists online agents plus aggregate counts.
type WhoResult struct {
	Success         bool           `json:"success"`
	Agents          []OnlineAgent  `json:"agents"`
	TotalOnline     int            `json:"totalOnline"`
	StatusCounts    map[string]int `json:"statusCounts"`
	CapabilityCount map[string]int `json:"capabilityCounts"`
}

// WhoIsOnline reads the live presence registry, applies the optional
// filters, and aggregates status and capability counts over the filtered
// set.
func (r *Router) WhoIsOnline(_ context.Context, args WhoArgs) WhoResult {
	now := r.now()
	result := WhoResult{
		Success:         true,
		Agents:          []OnlineAgent{},
		StatusCounts:    map[string]int{},
		CapabilityCount: map[string]int{},
	}

	for _, rec := range r.registry.Snapshot() {
		if args.FilterByStatus != "" && string(rec.Status) != args.FilterByStatus {
			continue
		}
		if args.FilterByCapability != "" && !contains(rec.Capabilities, args.FilterByCapability) {
			continue
		}

		agent := OnlineAgent{
			SessionID:       rec.SessionID,
			ParticipantName: rec.ParticipantName,
			Status:          string(rec.Status),
		}
		if args.IncludeCapabilities {
			agent.Capabilities = rec.Capabilities
		}
		if args.IncludeHeartbeat {
			age := now.Sub(rec.LastHeartbeat).Seconds()
			agent.HeartbeatAgeSeconds = &age
		}
		result.Agents = append(result.Agents, agent)

		result.StatusCounts[string(rec.Status)]++
		for _, cap := range rec.Capabilities {
			result.CapabilityCount[cap]++
		}
	}

	sort.Slice(result.Agents, func(i, j int) bool {
		return result.Agents[i].SessionID < result.Agents[j].SessionID
	})
	result.TotalOnline = len(result.Agents)
	return result
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
