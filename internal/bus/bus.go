// Package bus carries the platform's real-time events between actors.
// Every component receives an explicitly constructed Bus; there is no
// package-level singleton.
package bus

import (
	"context"
	"sync"
)

// Topic naming. One order's events always land on one topic so subscribers
// observe them in publish order.
func OrderTopic(orderID string) string       { return "order/" + orderID }
func DriverTopic(driverID string) string     { return "driver/" + driverID }
func CustomerTopic(customerID string) string { return "customer/" + customerID }

// Handler receives events for one subscription. Handlers must not block for
// long; slow consumers delay delivery on their topic only.
type Handler func(topic string, ev Event)

// CancelFunc tears down one subscription. Safe to call more than once.
type CancelFunc func()

// Bus is the message fan-out abstraction the coordination core publishes
// through. Publish is FIFO per topic from a single publisher.
type Bus interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(topic string, h Handler) (CancelFunc, error)
}

// MemoryBus is an in-process Bus. It backs tests and single-node runs; the
// Kafka-backed bus is used when brokers are configured.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, ev Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(topic, ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, h Handler) (CancelFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
	return cancel, nil
}

// SubscriberCount is used by tests to assert no listener leaks.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
