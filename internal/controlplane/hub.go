package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canopy-robotics/canopy-agent/internal/log"
)

const (
	maxMessageSize = 10 * 1024 * 1024 // 10 MiB (§6.1)
	pingInterval   = 20 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	clientSendBuf  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler processes one inbound command and returns the single direct
// response owed to the issuing client (§4.9's routing invariant). Handlers
// that trigger long-running work acknowledge immediately and report the
// outcome via later Hub.Broadcast calls, not by delaying this return.
type Handler interface {
	Handle(ctx context.Context, msg Message) Message
}

// Hub is C9: the websocket server fronting any number of simultaneous
// client connections, broadcasting outbound events and demultiplexing
// inbound commands to Handler.
type Hub struct {
	handler Handler
	relay   func(Message)

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New builds a Hub dispatching inbound commands to handler. handler may be
// nil and installed later with SetHandler, which lets the daemon build the
// Dispatcher (which itself holds a reference back to the Hub) after the
// Hub already exists.
func New(handler Handler) *Hub {
	return &Hub{handler: handler, clients: make(map[*client]struct{})}
}

// SetHandler installs or replaces the command dispatcher. Call before
// ServeHTTP starts accepting traffic; not safe to change concurrently with
// inbound reads.
func (h *Hub) SetHandler(handler Handler) {
	h.handler = handler
}

// SetRelay installs a side-channel sink invoked with every broadcast
// message, alongside (never instead of) the normal client fan-out. The
// bridge relay (§12) uses this to forward a configured event subset
// upstream without the Hub knowing anything about that package. Call
// before ServeHTTP starts serving traffic; not safe to change concurrently
// with Broadcast.
func (h *Hub) SetRelay(fn func(Message)) {
	h.relay = fn
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// ServeHTTP upgrades the request to a websocket connection and runs the
// client's read/write pumps until it disconnects. A disconnect never
// affects other clients and leaves no session state behind (§4.9).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Get().WithError(err).Warn("controlplane: websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &client{conn: conn, send: make(chan Message, clientSendBuf)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.send <- event(EventConnectionEstablished, map[string]interface{}{})

	done := make(chan struct{})
	go h.writePump(c, done)
	h.readPump(c)
	close(done)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // malformed frame: no response, forward-compatible (§6.1)
		}
		if msg.Type == "" {
			continue
		}
		if h.handler == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		resp := h.handler.Handle(ctx, msg)
		cancel()
		if resp.Type != "" {
			select {
			case c.send <- resp:
			default:
			}
		}
	}
}

func (h *Hub) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends msg to every currently connected client; a client whose
// send buffer is full drops the message rather than blocking the
// publisher (matching the frame pipeline's non-blocking publish stance).
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.mu.RUnlock()
	if h.relay != nil {
		h.relay(msg)
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
