package gateway

import (
	"errors"

	"github.com/tinymesh-ai/tinymesh/pkg/presence"
)

// ErrSendQueueFull is reported when a peer is too slow to drain its events.
var ErrSendQueueFull = errors.New("gateway: send queue full")

// ErrConnClosed is reported when enqueueing to a closed connection.
var ErrConnClosed = errors.New("gateway: connection closed")

// outboundQueueSize bounds per-connection buffering. A peer that falls this
// far behind loses live events and must catch up from durable history.
const outboundQueueSize = 100

// wsTransport adapts one agent connection to the registry's Transport
// interface. Send never blocks: frames go into a bounded queue drained by
// the connection's writer goroutine, and a full queue is an error the
// registry swallows (durable history is the delivery guarantee).
type wsTransport struct {
	conn *agentConn
}

func (t *wsTransport) Send(ev presence.Event) error {
	return t.conn.enqueue(eventFrame{
		JSONRPC: "2.0",
		Method:  "mesh/event",
		Params:  ev,
	})
}

// eventFrame is the JSON-RPC notification that carries a pushed event.
type eventFrame struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  presence.Event `json:"params"`
}
