package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"

	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal"
	"github.com/tinymesh-ai/tinymesh/pkg/presence"
)

// frame is the union of everything the gateway sends: responses carry an id
// and result or error, notifications carry a method and params.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type meshClient struct {
	ws     *websocket.Conn
	name   string
	nextID atomic.Int64
}

func clientCmd(name, url, token string, capabilities []string) error {
	if url == "" || token == "" {
		cfg, err := internal.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		if url == "" {
			url = fmt.Sprintf("ws://%s:%d/ws", cfg.Gateway.Host, cfg.Gateway.Port)
		}
		if token == "" {
			token = cfg.Gateway.AuthToken
		}
	}
	if token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + token
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("error connecting to gateway: %w", err)
	}
	defer ws.Close()

	c := &meshClient{ws: ws, name: name}

	if err := c.call("connection/register", map[string]any{
		"participantName": name,
		"capabilities":    capabilities,
	}); err != nil {
		return fmt.Errorf("error registering: %w", err)
	}
	if err := c.call("connection/subscribe", map[string]any{}); err != nil {
		return fmt.Errorf("error subscribing: %w", err)
	}

	fmt.Printf("%s Connected as %s (Ctrl+C to exit)\n", internal.Logo, name)
	fmt.Println("Commands: /who /status /catchup /to <session> <msg> /meet <title> | <purpose>")
	fmt.Println()

	go c.readLoop()
	go c.heartbeatLoop()

	return c.repl()
}

// call sends one request; the read loop prints the response.
func (c *meshClient) call(method string, params any) error {
	id := c.nextID.Add(1)
	rawParams, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return c.ws.WriteJSON(frame{
		JSONRPC: "2.0",
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
		Method:  method,
		Params:  rawParams,
	})
}

func (c *meshClient) callTool(tool string, args map[string]any) error {
	return c.call("tools/call", map[string]any{
		"name":      tool,
		"arguments": args,
	})
}

func (c *meshClient) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			fmt.Println("\nConnection closed:", err)
			os.Exit(1)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch {
		case f.Method == "mesh/event":
			c.printEvent(f.Params)
		case f.Error != nil:
			fmt.Printf("⚠ error %d: %s\n", f.Error.Code, f.Error.Message)
		case f.Result != nil:
			printResult(f.Result)
		}
	}
}

func (c *meshClient) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		c.call("connection/heartbeat", map[string]any{})
	}
}

func (c *meshClient) printEvent(params json.RawMessage) {
	var ev presence.Event
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	switch ev.Type {
	case presence.EventJoin:
		fmt.Printf("→ %s joined (%d online)\n", ev.ParticipantName, ev.PresenceCount)
	case presence.EventLeave:
		fmt.Printf("← %s left (%d online)\n", ev.ParticipantName, ev.PresenceCount)
	case presence.EventStatus:
		fmt.Printf("• %s is now %s\n", ev.ParticipantName, ev.Status)
	case presence.EventMeshMessage:
		if ev.Message == nil {
			return
		}
		tag := string(ev.Message.MessageType)
		if ev.Delivery == "targeted" {
			tag += ", direct"
		}
		fmt.Printf("\n[%s] %s: %s\n", tag, ev.Message.ParticipantName, ev.Message.Content)
	}
}

// printResult renders tool and resource results: the nested text payload
// when present, otherwise the raw JSON.
func printResult(result json.RawMessage) {
	var wrapped struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	if err := json.Unmarshal(result, &wrapped); err == nil {
		if len(wrapped.Content) > 0 {
			for _, c := range wrapped.Content {
				if c.Type == "text" {
					fmt.Println(c.Text)
				}
			}
			return
		}
		if len(wrapped.Contents) > 0 {
			for _, c := range wrapped.Contents {
				fmt.Println(c.Text)
			}
			return
		}
	}
	fmt.Println(string(result))
}

func (c *meshClient) repl() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s %s: ", internal.Logo, c.name),
		HistoryFile:     filepath.Join(os.TempDir(), ".tinymesh_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("error initializing readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := c.dispatch(input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func (c *meshClient) dispatch(input string) error {
	switch {
	case input == "/who":
		return c.callTool("mesh_who_is_online", map[string]any{})
	case input == "/status":
		return c.callTool("mesh_status", map[string]any{
			"participantName": c.name,
		})
	case input == "/catchup":
		return c.call("resources/read", map[string]any{
			"uri":             "mesh://messages",
			"participantName": c.name,
			"markRead":        true,
		})
	case strings.HasPrefix(input, "/to "):
		rest := strings.TrimPrefix(input, "/to ")
		target, msg, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(msg) == "" {
			return errors.New("usage: /to <session-id> <message>")
		}
		return c.callTool("mesh_broadcast", map[string]any{
			"content":         strings.TrimSpace(msg),
			"to_session_id":   target,
			"participantName": c.name,
		})
	case strings.HasPrefix(input, "/meet "):
		rest := strings.TrimPrefix(input, "/meet ")
		title, purpose, ok := strings.Cut(rest, "|")
		if !ok {
			return errors.New("usage: /meet <title> | <purpose>")
		}
		return c.callTool("mesh_create_meeting", map[string]any{
			"title":           strings.TrimSpace(title),
			"purpose":         strings.TrimSpace(purpose),
			"participantName": c.name,
		})
	case strings.HasPrefix(input, "/"):
		return fmt.Errorf("unknown command %q", strings.Fields(input)[0])
	default:
		return c.callTool("mesh_broadcast", map[string]any{
			"content":         input,
			"participantName": c.name,
		})
	}
}
