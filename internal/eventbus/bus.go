package eventbus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/canopy-robotics/canopy-agent/internal/log"
)

// EventBus decouples event producers (the diagnosis workflow and the
// mission controller) from the control plane's broadcaster:
// components publish by topic+key and never hold a reference to the set
// of connected clients.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// Stats summarizes the bus's lifetime counters.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	PartitionCount int
	QueuedCount    []int
}

// InMemoryEventBus is a fixed-partition, per-key-ordered in-process bus.
// Each partition is a single-consumer goroutine so that two events sharing
// a Key are always handled in publish order, while unrelated keys process
// concurrently across partitions.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionCount int
	queueSize      int
	subscribers    map[string]Handler
	mu             sync.RWMutex
	closed         int32

	publishedCount int64
	processedCount int64
}

// NewInMemoryEventBus creates a bus with partitionCount worker lanes, each
// with a queue of queueSize pending events.
func NewInMemoryEventBus(partitionCount, queueSize int) EventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	bus := &InMemoryEventBus{
		partitionCount: partitionCount,
		queueSize:      queueSize,
		subscribers:    make(map[string]Handler),
		partitions:     make([]*partition, partitionCount),
	}

	for i := 0; i < partitionCount; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		bus.partitions[i] = &partition{
			id:     i,
			queue:  make(chan *Event, queueSize),
			ctx:    ctx,
			cancel: cancel,
		}
		go bus.runPartition(bus.partitions[i])
	}

	return bus
}

// Publish routes event to the partition its Key hashes to. A full queue on
// that partition drops the event rather than blocking the publisher —
// the diagnosis workflow and mission controller must never stall waiting
// on a slow control-plane broadcast.
func (b *InMemoryEventBus) Publish(event *Event) error {
	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	partitionID := b.getPartitionID(event.Key)
	p := b.partitions[partitionID]

	select {
	case p.queue <- event:
		atomic.AddInt64(&b.publishedCount, 1)
		return nil
	default:
		return fmt.Errorf("partition %d queue is full", partitionID)
	}
}

// Subscribe installs handler for topic. Only one handler per topic; a
// later Subscribe call for the same topic replaces the earlier one.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if atomic.LoadInt32(&b.closed) == 1 {
		return fmt.Errorf("event bus is closed")
	}

	b.subscribers[topic] = handler
	for _, p := range b.partitions {
		p.handler = b.getHandler
	}

	log.Get().Infof("subscribed to topic: %s", topic)
	return nil
}

// Close stops every partition worker. Idempotent.
func (b *InMemoryEventBus) Close() error {
	if !atomic.CompareAndSwapInt32(&b.closed, 0, 1) {
		return nil
	}

	for _, p := range b.partitions {
		p.cancel()
		close(p.queue)
	}

	log.Get().Info("event bus closed")
	return nil
}

// GetStats returns a point-in-time snapshot of the bus's counters.
func (b *InMemoryEventBus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&b.publishedCount),
		ProcessedCount: atomic.LoadInt64(&b.processedCount),
		PartitionCount: b.partitionCount,
		QueuedCount:    make([]int, b.partitionCount),
	}

	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}

	return stats
}

func (b *InMemoryEventBus) getPartitionID(key string) int {
	if key == "" {
		return 0
	}
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return int(hasher.Sum32()) % b.partitionCount
}

func (b *InMemoryEventBus) getHandler(event *Event) error {
	b.mu.RLock()
	handler, exists := b.subscribers[event.Topic]
	b.mu.RUnlock()

	if !exists {
		log.Get().Debugf("no handler for topic: %s", event.Topic)
		return nil
	}

	return handler(event)
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	logger := log.Get()
	logger.Debugf("partition %d started", p.id)

	defer func() {
		logger.Debugf("partition %d stopped", p.id)
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case event, ok := <-p.queue:
			if !ok {
				return
			}

			if p.handler != nil {
				if err := p.handler(event); err != nil {
					logger.Errorf("failed to handle event in partition %d: %v", p.id, err)
				} else {
					atomic.AddInt64(&b.processedCount, 1)
				}
			}
		}
	}
}
