package gateway

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/mesh"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
	"github.com/tinymesh-ai/tinymesh/pkg/rpc"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingInterval = 30 * time.Second
)

// agentConn is one live websocket peer. The read loop handles connection
// lifecycle methods itself and hands everything else to the RPC dispatcher;
// the write loop drains the outbound queue so registry pushes never block.
type agentConn struct {
	server *Server
	ws     *websocket.Conn

	out    chan any
	done   chan struct{}
	closed atomic.Bool

	connID    string
	sessionID string
}

func newAgentConn(server *Server, ws *websocket.Conn) *agentConn {
	return &agentConn{
		server: server,
		ws:     ws,
		out:    make(chan any, outboundQueueSize),
		done:   make(chan struct{}),
	}
}

// enqueue adds a frame to the outbound queue without blocking.
func (c *agentConn) enqueue(frame any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *agentConn) run(ctx context.Context) {
	go c.writeLoop()
	c.readLoop(ctx)
	c.close()
}

func (c *agentConn) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.ws.Close()
	if c.connID != "" {
		c.server.registry.Disconnect(c.connID)
	}
}

func (c *agentConn) readLoop(ctx context.Context) {
	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.DebugCF("gateway", "Read failed", map[string]any{"error": err.Error()})
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))

		resp := c.handleFrame(ctx, data)
		if err := c.enqueue(resp); err != nil {
			logger.WarnCF("gateway", "Dropping response", map[string]any{
				"session_id": c.sessionID,
				"error":      err.Error(),
			})
		}
	}
}

func (c *agentConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteJSON(frame); err != nil {
				logger.DebugCF("gateway", "Write failed", map[string]any{"error": err.Error()})
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleFrame processes one inbound frame. Connection lifecycle methods are
// resolved against this connection's state; everything else goes to the
// stateless dispatcher.
func (c *agentConn) handleFrame(ctx context.Context, data []byte) rpc.Response {
	var req rpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return rpc.Response{
			JSONRPC: "2.0",
			Error:   &rpc.Error{Code: rpc.CodeParseError, Message: "parse error", Data: err.Error()},
		}
	}

	switch req.Method {
	case "connection/register":
		return c.handleRegister(ctx, req)
	case "connection/subscribe":
		return c.handleSubscribe(req)
	case "connection/heartbeat":
		return c.handleHeartbeat(ctx, req)
	default:
		return c.server.dispatcher.Handle(ctx, req)
	}
}

type registerParams struct {
	ParticipantName string   `json:"participantName"`
	Capabilities    []string `json:"capabilities,omitempty"`
}

func (c *agentConn) handleRegister(ctx context.Context, req rpc.Request) rpc.Response {
	var params registerParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ParticipantName == "" {
		return rpcError(req.ID, rpc.CodeInvalidParams, "participantName is required")
	}
	if !c.server.isAllowed(params.ParticipantName) {
		return rpcError(req.ID, rpc.CodeInvalidRequest, "participant not on the gateway allowlist")
	}

	rec, err := c.server.resumeSession(ctx, params.ParticipantName)
	if err != nil {
		return rpcError(req.ID, rpc.CodeInternalError, "failed to persist session: "+err.Error())
	}

	connID, count := c.server.registry.Register(
		rec.SessionID, params.ParticipantName, params.Capabilities, &wsTransport{conn: c})
	c.connID = connID
	c.sessionID = rec.SessionID

	return rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
		"sessionId":     rec.SessionID,
		"connectionId":  connID,
		"presenceCount": count,
	}}
}

type subscribeParams struct {
	MessageTypes []mesh.MessageType `json:"messageTypes,omitempty"`
	Priorities   []mesh.Priority    `json:"priorities,omitempty"`
}

func (c *agentConn) handleSubscribe(req rpc.Request) rpc.Response {
	if c.connID == "" {
		return rpcError(req.ID, rpc.CodeInvalidRequest, "register before subscribing")
	}
	var params subscribeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, rpc.CodeInvalidParams, "invalid subscribe params")
		}
	}
	if err := c.server.registry.Subscribe(c.connID, params.MessageTypes, params.Priorities); err != nil {
		return rpcError(req.ID, rpc.CodeInvalidRequest, err.Error())
	}
	return rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"subscribed": true}}
}

type heartbeatParams struct {
	Status string `json:"status,omitempty"`
}

func (c *agentConn) handleHeartbeat(ctx context.Context, req rpc.Request) rpc.Response {
	if c.sessionID == "" {
		return rpcError(req.ID, rpc.CodeInvalidRequest, "register before sending heartbeats")
	}
	var params heartbeatParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return rpcError(req.ID, rpc.CodeInvalidParams, "invalid heartbeat params")
		}
	}
	status := presence.Status(params.Status)
	if params.Status != "" && !presence.ValidStatus(status) {
		return rpcError(req.ID, rpc.CodeInvalidParams, "invalid status: "+params.Status)
	}

	if err := c.server.registry.Heartbeat(c.sessionID, status); err != nil {
		return rpcError(req.ID, rpc.CodeInvalidRequest, err.Error())
	}
	// Refresh the durable session too so it survives for resumption.
	if err := c.server.sessions.UpdateHeartbeat(ctx, c.sessionID); err != nil {
		logger.WarnCF("gateway", "Durable heartbeat failed", map[string]any{
			"session_id": c.sessionID,
			"error":      err.Error(),
		})
	}
	return rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"ok": true}}
}

func rpcError(id json.RawMessage, code int, message string) rpc.Response {
	return rpc.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpc.Error{Code: code, Message: message},
	}
}
