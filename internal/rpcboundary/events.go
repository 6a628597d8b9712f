package rpcboundary

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ioi-network/kernel/pkg/log"
)

// EventHub fans committed-block events out to subscribed websocket
// connections, for process_block's "events" half when a caller
// subscribes rather than polls (spec §6). Grounded on the teacher's
// pkg/rpc/websocket_handler.go connection-registry-and-broadcast shape,
// wired to a real upgrader rather than left as the teacher's "would
// perform the handshake here" stub.
type EventHub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[uint64]*eventConn

	nextID atomic.Uint64
}

type eventConn struct {
	id     uint64
	ws     *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

// Notification is one event envelope delivered to subscribers.
type Notification struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// NewEventHub returns an EventHub accepting connections from any origin;
// this boundary is meant to sit behind the same mTLS-terminated listener
// as the rest of rpcboundary, so origin checking is left to the
// transport layer in front of it.
func NewEventHub() *EventHub {
	return &EventHub{
		conns: make(map[uint64]*eventConn),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

const (
	eventSendBuffer = 256
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
)

// ServeHTTP upgrades the request to a websocket connection and streams
// Broadcast notifications to it until the client disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rpcLog.Warn("event stream upgrade failed", "error", err)
		return
	}

	ec := &eventConn{id: h.nextID.Add(1), ws: conn, sendCh: make(chan []byte, eventSendBuffer)}
	h.add(ec)
	defer h.remove(ec)

	go ec.writeLoop()
	ec.readLoop()
}

func (h *EventHub) add(c *eventConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
}

func (h *EventHub) remove(c *eventConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	if c.closed.CompareAndSwap(false, true) {
		close(c.sendCh)
	}
}

// readLoop discards inbound frames (this stream is publish-only) and
// exits on any read error, which is how a gorilla/websocket connection
// reports client disconnect.
func (c *eventConn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventConn) writeLoop() {
	ticker := time.NewTicker(eventPingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg, ok := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast delivers a Notification{kind, data} to every connected
// subscriber, dropping it for any connection whose send buffer is
// already full rather than blocking the caller (commit_block's hot
// path must never wait on a slow reader).
func (h *EventHub) Broadcast(kind string, data interface{}) {
	msg, err := json.Marshal(Notification{Kind: kind, Data: data})
	if err != nil {
		rpcLog.Error("failed encoding event notification", "kind", kind, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		if c.closed.Load() {
			continue
		}
		select {
		case c.sendCh <- msg:
		default:
			rpcLog.Warn("dropping event notification for slow subscriber", "conn_id", c.id, "kind", kind)
		}
	}
}

// ConnectionCount reports the number of live subscribers, for
// SystemControl diagnostics.
func (h *EventHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
