package rpc

// toolDefinitions describes the mesh tools for tools/list. Schemas are
// plain JSON-schema maps; the dispatcher itself only checks presence, the
// handlers validate values.
func toolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "mesh_broadcast",
			"description": "Send a message to the mesh: broadcast to ALL or direct to one online session.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content":           map[string]any{"type": "string", "description": "Message body"},
					"to_session_id":     map[string]any{"type": "string", "description": "Target session id, or ALL (default)"},
					"messageType":       map[string]any{"type": "string", "enum": []string{"thought_share", "query", "response", "acknowledgment", "system_notification"}},
					"priority":          map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "urgent"}},
					"participantName":   map[string]any{"type": "string", "description": "Sender's registered participant name"},
					"requiresResponse":  map[string]any{"type": "boolean"},
					"originalMessageId": map[string]any{"type": "string", "description": "Message being replied to"},
				},
				"required": []string{"content", "participantName"},
			},
		},
		{
			"name":        "mesh_who_is_online",
			"description": "List currently connected agents with optional capability and status filters.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"includeCapabilities": map[string]any{"type": "boolean"},
					"filterByCapability":  map[string]any{"type": "string"},
					"filterByStatus":      map[string]any{"type": "string", "enum": []string{"online", "away", "busy"}},
					"includeHeartbeat":    map[string]any{"type": "boolean"},
				},
			},
		},
		{
			"name":        "mesh_create_meeting",
			"description": "Create a structured meeting and broadcast the invitation to all connected agents.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":   map[string]any{"type": "string"},
					"purpose": map[string]any{"type": "string"},
					"agenda": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"topic":            map[string]any{"type": "string"},
								"description":      map[string]any{"type": "string"},
								"estimatedMinutes": map[string]any{"type": "integer"},
								"speaker":          map[string]any{"type": "string"},
							},
							"required": []string{"topic"},
						},
					},
					"protocol":                 map[string]any{"type": "object", "description": "Ordered phases; a 5-phase default is substituted when omitted"},
					"invitedParticipants":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"requiredForQuorum":        map[string]any{"type": "integer"},
					"startsAt":                 map[string]any{"type": "string", "format": "date-time"},
					"estimatedDurationMinutes": map[string]any{"type": "integer"},
					"participantName":          map[string]any{"type": "string", "description": "Creator; defaults to the most recently active session"},
				},
				"required": []string{"title", "purpose", "agenda"},
			},
		},
		{
			"name":        "mesh_status",
			"description": "Report a participant's anti-spam statistics and live mesh presence.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"participantName": map[string]any{"type": "string"},
				},
				"required": []string{"participantName"},
			},
		},
	}
}

func resourceDefinitions() []map[string]any {
	return []map[string]any{
		{
			"uri":         "mesh://messages",
			"name":        "Mesh message history",
			"description": "Durable messages addressed to the caller, including broadcasts; supports catch-up after reconnect.",
			"mimeType":    "application/json",
		},
		{
			"uri":         "mesh://presence",
			"name":        "Live presence roster",
			"description": "Currently connected agents with capabilities and heartbeat age.",
			"mimeType":    "application/json",
		},
	}
}
