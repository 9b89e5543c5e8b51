package memory

import (
	"context"
	"sync"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/ports"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length
const DefaultBuffer = 1024

type subscription struct {
	id      uint64
	handler ports.EventHandler
	queue   chan domain.Event
	done    chan struct{}
}

// InMemoryEventBus implements EventBus with in-process fan-out. Each
// subscriber drains its own queue on one goroutine, so it sees events in
// publish order. A full queue drops the event for that subscriber only.
type InMemoryEventBus struct {
	subscribers map[string][]*subscription
	nextID      uint64
	buffer      int
	logger      *zap.Logger
	mu          sync.RWMutex
	closed      bool
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subscribers: make(map[string][]*subscription),
		buffer:      DefaultBuffer,
		logger:      logger,
	}
}

// Publish publishes an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.queue <- event:
		default:
			e.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID))
		}
	}
	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is done
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		handler: handler,
		queue:   make(chan domain.Event, e.buffer),
		done:    make(chan struct{}),
	}
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go e.deliver(ctx, topic, sub)

	// Clean up subscription on context cancellation
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		e.unsubscribe(topic, sub.id)
	}()

	return nil
}

func (e *InMemoryEventBus) deliver(ctx context.Context, topic string, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("event handler error",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Subscribers returns the number of live subscriptions on a topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// Close closes the event bus and cleans up resources
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for _, subs := range e.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	e.subscribers = make(map[string][]*subscription)
	return nil
}

// unsubscribe removes a subscription from a topic
func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			e.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
