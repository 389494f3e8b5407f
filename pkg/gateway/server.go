// Package gateway serves the mesh over HTTP: a /ws endpoint speaking
// JSON-RPC frames over websocket for live agents, plus /health and /ready
// probes. Request/response callers without a long-lived connection use the
// same RPC surface via POST /rpc, registering out-of-band when they want to
// appear in discovery.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinymesh-ai/tinymesh/pkg/config"
	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
	"github.com/tinymesh-ai/tinymesh/pkg/rpc"
	"github.com/tinymesh-ai/tinymesh/pkg/store"
)

// maxFrameSize bounds inbound RPC frames.
const maxFrameSize = 1 << 20

// Server is the mesh gateway.
type Server struct {
	cfg        config.GatewayConfig
	registry   *presence.Registry
	dispatcher *rpc.Dispatcher
	sessions   store.SessionStore
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer wires the gateway to its collaborators.
func NewServer(cfg config.GatewayConfig, registry *presence.Registry,
	dispatcher *rpc.Dispatcher, sessions store.SessionStore) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: dispatcher,
		sessions:   sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents connect programmatically, not from browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the gateway's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/rpc", s.handleRPC)
	return mux
}

// Start blocks serving HTTP until Stop or a listener error.
func (s *Server) Start() error {
	logger.InfoCF("gateway", "Gateway listening", map[string]any{
		"addr": s.httpServer.Addr,
	})
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"presence": s.registry.PresenceCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("gateway", "Upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	ws.SetReadLimit(maxFrameSize)
	newAgentConn(s, ws).run(r.Context())
}

// handleRPC serves one-shot JSON-RPC calls over plain HTTP for callers that
// do not hold a websocket. connection/register is handled here with the
// registry's no-op transport so request/response callers appear in presence
// and discovery; everything else goes to the dispatcher.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	var resp rpc.Response
	var req rpc.Request
	if err := json.Unmarshal(body, &req); err == nil && req.Method == "connection/register" {
		resp = s.handleRegisterHTTP(r.Context(), req)
	} else {
		resp = s.dispatcher.HandleRaw(r.Context(), body)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleRegisterHTTP registers a participant without a live connection. The
// session is durable as usual; the presence entry carries a no-op transport
// and lives until the stale sweep retires it.
func (s *Server) handleRegisterHTTP(ctx context.Context, req rpc.Request) rpc.Response {
	var params registerParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ParticipantName == "" {
		return rpcError(req.ID, rpc.CodeInvalidParams, "participantName is required")
	}
	if !s.isAllowed(params.ParticipantName) {
		return rpcError(req.ID, rpc.CodeInvalidRequest, "participant not on the gateway allowlist")
	}

	rec, err := s.resumeSession(ctx, params.ParticipantName)
	if err != nil {
		return rpcError(req.ID, rpc.CodeInternalError, "failed to persist session: "+err.Error())
	}

	connID, count := s.registry.RegisterWithoutTransport(
		rec.SessionID, params.ParticipantName, params.Capabilities)
	return rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
		"sessionId":     rec.SessionID,
		"connectionId":  connID,
		"presenceCount": count,
	}}
}

// resumeSession loads or creates the durable session for a participant and
// refreshes its heartbeat. The session TTL outlives any single connection.
func (s *Server) resumeSession(ctx context.Context, participantName string) (store.SessionRecord, error) {
	now := time.Now()
	rec, err := s.sessions.GetSessionByParticipant(ctx, participantName)
	if err != nil {
		rec = store.SessionRecord{
			SessionID:       uuid.New().String(),
			ParticipantName: participantName,
			CreatedAt:       now,
		}
	}
	rec.LastHeartbeat = now
	if err := s.sessions.PutSession(ctx, rec); err != nil {
		return store.SessionRecord{}, err
	}
	return rec, nil
}

// authorized checks the shared bearer token when one is configured. The
// full auth layer lives in front of the gateway; this is the last line for
// direct exposure.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") &&
		strings.TrimPrefix(header, "Bearer ") == s.cfg.AuthToken {
		return true
	}
	// Websocket clients that cannot set headers may pass ?token=.
	return r.URL.Query().Get("token") == s.cfg.AuthToken
}

// isAllowed applies the participant allowlist; an empty list allows all.
func (s *Server) isAllowed(participantName string) bool {
	if len(s.cfg.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowFrom {
		if participantName == allowed || participantName == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}
