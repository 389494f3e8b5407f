// Package rpc maps JSON-RPC 2.0 requests onto the mesh tool handlers. The
// dispatcher holds no state of its own: it checks parameter presence,
// invokes a handler, and wraps the result or error in the response
// envelope. Handler panics are caught and surfaced as internal errors so a
// misbehaving tool cannot crash the dispatch loop.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tinymesh-ai/tinymesh/pkg/logger"
	"github.com/tinymesh-ai/tinymesh/pkg/router"
)

// JSON-RPC 2.0 error codes.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeParseError     = -32700
)

// Request is a JSON-RPC 2.0 request. The ID is kept raw so that string,
// number, and null ids are echoed back untouched.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServerInfo identifies this gateway in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Dispatcher routes RPC methods to the mesh router.
type Dispatcher struct {
	router *router.Router
	info   ServerInfo
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(r *router.Router, info ServerInfo) *Dispatcher {
	return &Dispatcher{router: r, info: info}
}

// HandleRaw parses one JSON-RPC frame and dispatches it.
func (d *Dispatcher) HandleRaw(ctx context.Context, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error", err.Error())
	}
	return d.Handle(ctx, req)
}

// Handle dispatches a parsed request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("rpc", "Handler panic", map[string]any{
				"method": req.Method,
				"panic":  fmt.Sprint(r),
			})
			resp = errorResponse(req.ID, CodeInternalError, "internal error", fmt.Sprint(r))
		}
	}()

	if req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request: missing method", nil)
	}

	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": "2025-06-18",
			"serverInfo":      d.info,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
		})
	case "tools/list":
		return result(req.ID, map[string]any{"tools": toolDefinitions()})
	case "tools/call":
		return d.handleToolCall(ctx, req)
	case "resources/list":
		return result(req.ID, map[string]any{"resources": resourceDefinitions()})
	case "resources/read":
		return d.handleResourceRead(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolCall(ctx context.Context, req Request) Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params: tool name is required", nil)
	}

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch params.Name {
	case "mesh_broadcast":
		var a router.BroadcastArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid arguments for mesh_broadcast", err.Error())
		}
		return toolResult(req.ID, d.router.Broadcast(ctx, a))
	case "mesh_who_is_online":
		var a router.WhoArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid arguments for mesh_who_is_online", err.Error())
		}
		return toolResult(req.ID, d.router.WhoIsOnline(ctx, a))
	case "mesh_create_meeting":
		var a router.MeetingArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid arguments for mesh_create_meeting", err.Error())
		}
		return toolResult(req.ID, d.router.CreateMeeting(ctx, a))
	case "mesh_status":
		var a router.StatusArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid arguments for mesh_status", err.Error())
		}
		return toolResult(req.ID, d.router.Status(ctx, a))
	default:
		return errorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("tool not found: %s", params.Name), nil)
	}
}

type resourceReadParams struct {
	URI             string `json:"uri"`
	ParticipantName string `json:"participantName,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	MarkRead        bool   `json:"markRead,omitempty"`
}

func (d *Dispatcher) handleResourceRead(ctx context.Context, req Request) Response {
	var params resourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params: uri is required", nil)
	}

	switch params.URI {
	case "mesh://messages":
		res := d.router.CatchUp(ctx, router.CatchUpArgs{
			ParticipantName: params.ParticipantName,
			Limit:           params.Limit,
			MarkRead:        params.MarkRead,
		})
		return resourceResult(req.ID, params.URI, res)
	case "mesh://presence":
		res := d.router.WhoIsOnline(ctx, router.WhoArgs{
			IncludeCapabilities: true,
			IncludeHeartbeat:    true,
		})
		return resourceResult(req.ID, params.URI, res)
	default:
		return errorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("resource not found: %s", params.URI), nil)
	}
}

func result(id json.RawMessage, v any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: v}
}

// toolResult wraps a handler result the way tool callers expect: a content
// list holding the JSON-encoded result object.
func toolResult(id json.RawMessage, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, CodeInternalError, "failed to encode tool result", err.Error())
	}
	return result(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(data)},
		},
	})
}

func resourceResult(id json.RawMessage, uri string, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(id, CodeInternalError, "failed to encode resource", err.Error())
	}
	return result(id, map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "application/json", "text": string(data)},
		},
	})
}

func errorResponse(id json.RawMessage, code int, message string, data any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}
