// Package presence tracks which agents are currently reachable: live
// connections, per-session presence records, heartbeat liveness, and
// best-effort delivery of mesh messages and lifecycle events.
//
// All registry state is guarded by a single mutex; registration, heartbeat,
// disconnect, message push, and the stale sweep never interleave. The
// registry deliberately never touches the durable stores: removing ephemeral
// presence must not destroy history a disconnected agent will catch up on.
package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
)

// Status is an agent's declared availability.
type Status string

const (
	StatusOnline Status = "online"
	StatusAway   Status = "away"
	StatusBusy   Status = "busy"
)

// ValidStatus reports whether s is a known presence status.
func ValidStatus(s Status) bool {
	return s == StatusOnline || s == StatusAway || s == StatusBusy
}

// ErrUnknownSession is returned by Heartbeat for sessions with no live
// connection.
var ErrUnknownSession = errors.New("presence: unknown session")

// ErrUnknownConnection is returned by Subscribe for connection ids the
// registry does not know.
var ErrUnknownConnection = errors.New("presence: unknown connection")

// Record is the ephemeral presence entry for one connected session.
type Record struct {
	SessionID       string    `json:"sessionId"`
	ParticipantName string    `json:"participantName,omitempty"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastHeartbeat   time.Time `json:"lastHeartbeat"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	Status          Status    `json:"status"`
}

// Subscription records a connection's declared interest filters. Filters are
// advisory metadata: every mesh message is pushed to every subscribed
// connection regardless of them.
type Subscription struct {
	MessageTypes []mesh.MessageType `json:"messageTypes,omitempty"`
	Priorities   []mesh.Priority    `json:"priorities,omitempty"`
}

// Connection pairs a live transport with its session.
type Connection struct {
	ID              string
	SessionID       string
	ParticipantName string
	ConnectedAt     time.Time
	LastHeartbeat   time.Time
	Transport       Transport
	Subscribed      bool
	Subscription    *Subscription
}

// Options tunes the registry's stale-connection sweep.
type Options struct {
	SweepInterval  time.Duration // how often the sweep runs
	StaleThreshold time.Duration // heartbeat age that forces a disconnect
	Clock          func() time.Time
}

// Registry owns all live-connection state.
type Registry struct {
	mu          sync.Mutex
	connections map[string]*Connection // by connection id
	sessions    map[string]string      // session id -> connection id
	presence    map[string]*Record     // by session id

	sweepInterval  time.Duration
	staleThreshold time.Duration
	now            func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates a Registry. Zero option fields fall back to a 30s
// sweep interval and 60s staleness threshold.
func NewRegistry(opts Options) *Registry {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 60 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		connections:    make(map[string]*Connection),
		sessions:       make(map[string]string),
		presence:       make(map[string]*Record),
		sweepInterval:  opts.SweepInterval,
		staleThreshold: opts.StaleThreshold,
		now:            opts.Clock,
		stop:           make(chan struct{}),
	}
}

// Register associates a live transport with sessionID, replacing any prior
// mapping for the same session (last registration wins; the previous
// transport is not closed). All other live connections are notified of the
// new presence. Returns the connection id and the presence count the caller
// should be acknowledged with.
func (r *Registry) Register(sessionID, participantName string, capabilities []string, t Transport) (string, int) {
	r.mu.Lock()
	now := r.now()

	if prevID, ok := r.sessions[sessionID]; ok {
		delete(r.connections, prevID)
	}

	conn := &Connection{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		ParticipantName: participantName,
		ConnectedAt:     now,
		LastHeartbeat:   now,
		Transport:       t,
	}
	r.connections[conn.ID] = conn
	r.sessions[sessionID] = conn.ID
	r.presence[sessionID] = &Record{
		SessionID:       sessionID,
		ParticipantName: participantName,
		ConnectedAt:     now,
		LastHeartbeat:   now,
		Capabilities:    capabilities,
		Status:          StatusOnline,
	}
	count := len(r.presence)

	r.sendToOthersLocked(conn.ID, Event{
		Type:            EventJoin,
		SessionID:       sessionID,
		ParticipantName: participantName,
		Status:          StatusOnline,
		PresenceCount:   count,
		Timestamp:       now,
	})
	r.mu.Unlock()

	logger.InfoCF("presence", "Agent registered", map[string]any{
		"session_id":  sessionID,
		"participant": participantName,
		"presence":    count,
	})
	return conn.ID, count
}

// RegisterWithoutTransport registers a session that holds no live transport,
// e.g. a request/response caller that still wants to appear in discovery. It
// populates the same state as Register with a no-op transport.
func (r *Registry) RegisterWithoutTransport(sessionID, participantName string, capabilities []string) (string, int) {
	return r.Register(sessionID, participantName, capabilities, NoopTransport{})
}

// Subscribe marks a connection as a member of the mesh broadcast group and
// records its declared interest filters.
func (r *Registry) Subscribe(connectionID string, messageTypes []mesh.MessageType, priorities []mesh.Priority) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	conn.Subscribed = true
	conn.Subscription = &Subscription{MessageTypes: messageTypes, Priorities: priorities}
	return nil
}

// Heartbeat refreshes liveness for sessionID. A non-default status is
// broadcast to all other connections.
func (r *Registry) Heartbeat(sessionID string, status Status) error {
	r.mu.Lock()
	connID, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownSession
	}
	now := r.now()
	conn := r.connections[connID]
	conn.LastHeartbeat = now

	rec := r.presence[sessionID]
	rec.LastHeartbeat = now
	if status != "" {
		rec.Status = status
	}

	if status != "" && status != StatusOnline {
		r.sendToOthersLocked(connID, Event{
			Type:            EventStatus,
			SessionID:       sessionID,
			ParticipantName: rec.ParticipantName,
			Status:          status,
			Timestamp:       now,
		})
	}
	r.mu.Unlock()
	return nil
}

// Disconnect removes the connection and its presence entry and broadcasts an
// offline event. Durable session and message records are left untouched.
func (r *Registry) Disconnect(connectionID string) {
	r.mu.Lock()
	conn, ok := r.connections[connectionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, connectionID)
	if r.sessions[conn.SessionID] == connectionID {
		delete(r.sessions, conn.SessionID)
		delete(r.presence, conn.SessionID)
	}

	r.sendToOthersLocked(connectionID, Event{
		Type:            EventLeave,
		SessionID:       conn.SessionID,
		ParticipantName: conn.ParticipantName,
		PresenceCount:   len(r.presence),
		Timestamp:       r.now(),
	})
	r.mu.Unlock()

	logger.InfoCF("presence", "Agent disconnected", map[string]any{
		"session_id":  conn.SessionID,
		"participant": conn.ParticipantName,
	})
}

// PushMessage delivers msg to every subscribed connection, plus a targeted
// delivery when the message addresses a specific connected session. Push is
// fire and forget: transport errors are logged and swallowed.
func (r *Registry) PushMessage(msg *mesh.Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	now := r.now()
	delivered := 0

	for _, conn := range r.connections {
		if !conn.Subscribed {
			continue
		}
		ev := Event{
			Type:      EventMeshMessage,
			Delivery:  "broadcast",
			Message:   msg,
			Timestamp: now,
		}
		if err := conn.Transport.Send(ev); err != nil {
			logger.WarnCF("presence", "Broadcast push failed", map[string]any{
				"session_id": conn.SessionID,
				"error":      err.Error(),
			})
			continue
		}
		delivered++
	}

	if !msg.IsBroadcast() {
		if connID, ok := r.sessions[msg.ToSession]; ok {
			conn := r.connections[connID]
			ev := Event{
				Type:      EventMeshMessage,
				Delivery:  "targeted",
				Message:   msg,
				Timestamp: now,
			}
			if err := conn.Transport.Send(ev); err != nil {
				logger.WarnCF("presence", "Targeted push failed", map[string]any{
					"session_id": conn.SessionID,
					"error":      err.Error(),
				})
			} else {
				delivered++
			}
		}
	}
	return delivered
}

// IsOnline reports whether sessionID has a live presence entry.
func (r *Registry) IsOnline(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.presence[sessionID]
	return ok
}

// OnlineSessions returns the session ids of all present agents.
func (r *Registry) OnlineSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.presence))
	for id := range r.presence {
		out = append(out, id)
	}
	return out
}

// Snapshot returns a copy of every presence record.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.presence))
	for _, rec := range r.presence {
		cp := *rec
		cp.Capabilities = append([]string(nil), rec.Capabilities...)
		out = append(out, cp)
	}
	return out
}

// PresenceCount returns the number of present agents.
func (r *Registry) PresenceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.presence)
}

// Start launches the background stale-connection sweep. Stop ends it.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SweepStale()
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the background sweep. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// SweepStale force-disconnects every connection whose heartbeat is older
// than the staleness threshold, with the same cleanup and offline
// notification as an explicit disconnect. Collection and removal happen in
// one critical section so a heartbeat arriving mid-sweep keeps its
// connection alive. Returns the number removed.
func (r *Registry) SweepStale() int {
	cutoff := r.now().Add(-r.staleThreshold)

	r.mu.Lock()
	var removed []*Connection
	for id, conn := range r.connections {
		if conn.LastHeartbeat.Before(cutoff) {
			delete(r.connections, id)
			if r.sessions[conn.SessionID] == id {
				delete(r.sessions, conn.SessionID)
				delete(r.presence, conn.SessionID)
			}
			removed = append(removed, conn)
		}
	}
	now := r.now()
	for _, conn := range removed {
		r.sendToOthersLocked(conn.ID, Event{
			Type:            EventLeave,
			SessionID:       conn.SessionID,
			ParticipantName: conn.ParticipantName,
			PresenceCount:   len(r.presence),
			Timestamp:       now,
		})
	}
	r.mu.Unlock()

	for _, conn := range removed {
		logger.InfoCF("presence", "Swept stale connection", map[string]any{
			"connection_id": conn.ID,
			"session_id":    conn.SessionID,
		})
	}
	return len(removed)
}

// sendToOthersLocked delivers ev to every connection except excludeConnID.
// Caller holds r.mu. Failures are isolated per recipient.
func (r *Registry) sendToOthersLocked(excludeConnID string, ev Event) {
	for id, conn := range r.connections {
		if id == excludeConnID {
			continue
		}
		if err := conn.Transport.Send(ev); err != nil {
			logger.DebugCF("presence", "Lifecycle event push failed", map[string]any{
				"session_id": conn.SessionID,
				"error":      err.Error(),
			})
		}
	}
}
