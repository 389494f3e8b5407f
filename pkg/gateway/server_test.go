package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinymesh-ai/tinymesh/pkg/config"
	"github.com/tinymesh-ai/tinymesh/pkg/guard"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
	"github.com/tinymesh-ai/tinymesh/pkg/router"
	"github.com/tinymesh-ai/tinymesh/pkg/rpc"
	"github.com/tinymesh-ai/tinymesh/pkg/store"
)

func newTestServer(t *testing.T, cfg config.GatewayConfig) (*Server, *httptest.Server) {
	t.Helper()
	mem := store.NewMemory(store.DefaultTTL)
	registry := presence.NewRegistry(presence.Options{})
	meshRouter := router.New(registry, guard.New(), guard.DefaultRules(), mem, mem)
	dispatcher := rpc.NewDispatcher(meshRouter, rpc.ServerInfo{Name: "tinymesh-test", Version: "0.0.0"})
	srv := NewServer(cfg, registry, dispatcher, mem)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type testFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
}

func send(t *testing.T, ws *websocket.Conn, id int, method string, params any) {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	err = ws.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  json.RawMessage(raw),
	})
	if err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
}

// readFrame reads frames until the predicate matches, skipping unrelated
// notifications that may interleave with responses.
func readFrame(t *testing.T, ws *websocket.Conn, match func(testFrame) bool) testFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f testFrame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func response(id int) func(testFrame) bool {
	return func(f testFrame) bool {
		return len(f.ID) > 0 && string(f.ID) == jsonInt(id)
	}
}

func jsonInt(id int) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func register(t *testing.T, ws *websocket.Conn, id int, name string) string {
	t.Helper()
	send(t, ws, id, "connection/register", map[string]any{"participantName": name})
	f := readFrame(t, ws, response(id))
	if f.Error != nil {
		t.Fatalf("register failed: %v", f.Error)
	}
	var res struct {
		SessionID     string `json:"sessionId"`
		ConnectionID  string `json:"connectionId"`
		PresenceCount int    `json:"presenceCount"`
	}
	if err := json.Unmarshal(f.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.SessionID == "" || res.ConnectionID == "" {
		t.Fatalf("expected ids in register ack, got %s", f.Result)
	}
	return res.SessionID
}

func TestRegisterAckAndResume(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	ws := dial(t, wsURL(ts))
	sessionID := register(t, ws, 1, "athena")
	ws.Close()

	// Reconnecting under the same name resumes the durable session.
	ws2 := dial(t, wsURL(ts))
	resumed := register(t, ws2, 1, "athena")
	if resumed != sessionID {
		t.Errorf("expected resumed session %s, got %s", sessionID, resumed)
	}
}

func TestJoinEventReachesOtherPeers(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	first := dial(t, wsURL(ts))
	register(t, first, 1, "athena")

	second := dial(t, wsURL(ts))
	register(t, second, 1, "boreas")

	f := readFrame(t, first, func(f testFrame) bool { return f.Method == "mesh/event" })
	var ev presence.Event
	if err := json.Unmarshal(f.Params, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != presence.EventJoin || ev.ParticipantName != "boreas" {
		t.Errorf("expected join event for boreas, got %+v", ev)
	}
}

func TestBroadcastDeliveredToSubscriber(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	sender := dial(t, wsURL(ts))
	register(t, sender, 1, "athena")

	receiver := dial(t, wsURL(ts))
	register(t, receiver, 1, "boreas")
	send(t, receiver, 2, "connection/subscribe", map[string]any{})
	readFrame(t, receiver, response(2))

	send(t, sender, 3, "tools/call", map[string]any{
		"name": "mesh_broadcast",
		"arguments": map[string]any{
			"content":         "convergence at dawn",
			"participantName": "athena",
		},
	})
	readFrame(t, sender, response(3))

	f := readFrame(t, receiver, func(f testFrame) bool {
		if f.Method != "mesh/event" {
			return false
		}
		var ev presence.Event
		return json.Unmarshal(f.Params, &ev) == nil && ev.Type == presence.EventMeshMessage
	})
	var ev presence.Event
	if err := json.Unmarshal(f.Params, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message == nil || ev.Message.Content != "convergence at dawn" {
		t.Errorf("expected broadcast content, got %+v", ev.Message)
	}
}

func TestSubscribeBeforeRegisterRejected(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	ws := dial(t, wsURL(ts))
	send(t, ws, 1, "connection/subscribe", map[string]any{})
	f := readFrame(t, ws, response(1))
	if f.Error == nil || f.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("expected invalid request error, got %+v", f)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{AuthToken: "hushhush"})

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil); err == nil {
		t.Error("expected dial without token to fail")
	} else if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}

	ws := dial(t, wsURL(ts)+"?token=hushhush")
	register(t, ws, 1, "athena")
}

func TestAllowlistBlocksRegister(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{AllowFrom: config.FlexibleStringSlice{"@athena"}})

	ws := dial(t, wsURL(ts))
	send(t, ws, 1, "connection/register", map[string]any{"participantName": "loki"})
	f := readFrame(t, ws, response(1))
	if f.Error == nil {
		t.Fatal("expected allowlist rejection")
	}

	ws2 := dial(t, wsURL(ts))
	register(t, ws2, 1, "athena")
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("expected ok status, got %q", health.Status)
	}
}

func TestHTTPRegisterAppearsInPresence(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	body := `{"jsonrpc":"2.0","id":1,"method":"connection/register","params":{"participantName":"hermes","capabilities":["courier"]}}`
	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var f testFrame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.Error != nil {
		t.Fatalf("expected out-of-band register to succeed, got %+v", f.Error)
	}
	var res struct {
		SessionID     string `json:"sessionId"`
		ConnectionID  string `json:"connectionId"`
		PresenceCount int    `json:"presenceCount"`
	}
	if err := json.Unmarshal(f.Result, &res); err != nil {
		t.Fatal(err)
	}
	if res.SessionID == "" || res.ConnectionID == "" || res.PresenceCount != 1 {
		t.Fatalf("expected presence entry in register ack, got %s", f.Result)
	}

	// The registered participant is visible to discovery.
	who := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"mesh_who_is_online","arguments":{}}}`
	resp2, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader(who))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var f2 testFrame
	if err := json.NewDecoder(resp2.Body).Decode(&f2); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(f2.Result), "hermes") {
		t.Errorf("expected hermes in discovery, got %s", f2.Result)
	}
}

func TestHTTPRegisterHonorsAllowlist(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{AllowFrom: config.FlexibleStringSlice{"athena"}})

	body := `{"jsonrpc":"2.0","id":1,"method":"connection/register","params":{"participantName":"loki"}}`
	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var f testFrame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.Error == nil || f.Error.Code != rpc.CodeInvalidRequest {
		t.Errorf("expected allowlist rejection, got %+v", f)
	}
}

func TestHTTPRPCFallback(t *testing.T) {
	_, ts := newTestServer(t, config.GatewayConfig{})

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	resp, err := http.Post(ts.URL+"/rpc", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var f testFrame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.Error != nil {
		t.Fatalf("expected tools/list to succeed, got %+v", f.Error)
	}
	if !strings.Contains(string(f.Result), "mesh_broadcast") {
		t.Errorf("expected tool listing, got %s", f.Result)
	}
}
