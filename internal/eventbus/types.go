package eventbus

import "context"

// Event is one outbound control-plane event (§6.1): a named type carrying
// an arbitrary payload, partitioned by Key so that events concerning the
// same entity (a plant ID, a mission) stay ordered relative to each other
// as they fan out to the control plane's broadcaster.
type Event struct {
	Topic   string      `json:"topic"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// Handler processes one event delivered to a subscribed topic.
type Handler func(event *Event) error

// Subscriber pairs a topic with the handler that consumes it.
type Subscriber struct {
	Topic   string
	Handler Handler
}

// partition is one ordered worker lane; events with the same Key always
// land on the same partition, preserving per-key order across the fan-out.
type partition struct {
	id      int
	queue   chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
}
