// Package bridge implements the optional, disabled-by-default JSON relay
// between canopy-agent's own control plane (C9) and a second upstream
// websocket endpoint (§9 Open Question 2's "agent <-> backend" link). It
// owns no state: it forwards a configured subset of outbound events
// verbatim and translates the one inbound command it understands,
// relay_command, 1:1 into a control-plane command.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canopy-robotics/canopy-agent/internal/errs"
	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// Envelope mirrors the control plane's own Message shape so forwarded
// events need no translation beyond a type filter.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp *string     `json:"timestamp,omitempty"`
}

// Config parameterizes the relay (§12, BridgeConfig). Disabled by default.
type Config struct {
	Enabled     bool
	UpstreamURL string
	Events      []string
}

const (
	dialRetryInterval = 5 * time.Second
	writeWait         = 10 * time.Second
)

// Relay is the running connection to the upstream backend. A Relay with a
// disabled Config is inert: Forward and Start both no-op.
type Relay struct {
	cfg    Config
	events map[string]bool

	mu   sync.Mutex
	conn *websocket.Conn

	onCommand func(typ string, data interface{})

	stop chan struct{}
	done chan struct{}
}

// New builds a Relay. onCommand receives a relay_command's translated
// (type, data) pair whenever the upstream backend sends one; it is never
// called when cfg.Enabled is false.
func New(cfg Config, onCommand func(typ string, data interface{})) *Relay {
	events := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		events[e] = true
	}
	return &Relay{
		cfg:       cfg,
		events:    events,
		onCommand: onCommand,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start dials the upstream URL and keeps reconnecting until Stop is
// called. A disabled relay returns immediately without dialing anything.
func (r *Relay) Start(ctx context.Context) {
	if !r.cfg.Enabled {
		close(r.done)
		return
	}
	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.cfg.UpstreamURL, nil)
		if err != nil {
			agentErr := errs.Classify(err, true)
			log.Get().WithError(agentErr).Warn("bridge: dial failed, retrying")
			if !sleepOrDone(ctx, r.stop, dialRetryInterval) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()

		r.readLoop(conn)

		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()

		if !sleepOrDone(ctx, r.stop, dialRetryInterval) {
			return
		}
	}
}

func (r *Relay) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string      `json:"type"`
			Data interface{} `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Get().WithError(err).Warn("bridge: malformed upstream frame")
			continue
		}
		if msg.Type != "relay_command" {
			continue
		}
		inner, ok := msg.Data.(map[string]interface{})
		if !ok {
			continue
		}
		cmdType, _ := inner["command"].(string)
		if cmdType == "" || r.onCommand == nil {
			continue
		}
		r.onCommand(cmdType, inner["data"])
	}
}

// Forward sends ev upstream if it is in the configured event subset and a
// connection is currently established; otherwise it silently drops it —
// the relay never buffers, matching its "owns no state" framing.
func (r *Relay) Forward(ev Envelope) {
	if !r.cfg.Enabled || !r.events[ev.Type] {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		log.Get().WithError(err).Warn("bridge: forward failed")
	}
}

// Stop halts the relay's reconnect loop and closes any live connection.
func (r *Relay) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
	r.mu.Lock()
	if r.conn != nil {
		r.conn.Close()
	}
	r.mu.Unlock()
}

func sleepOrDone(ctx context.Context, stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
