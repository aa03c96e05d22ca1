// Package eventbus implements the Event Bus (spec §4.8, §9): a typed
// publish/subscribe hub threaded through the Boot Context instead of
// reached via package-level ambient singletons, so Endpoint Manager can
// observe Service Manager's events without a direct dependency on it.
//
// Grounded on kagenti's AddToolsFunc/RemoveToolsFunc callback-registration
// style, generalized from two hardcoded callback slots into an arbitrary
// number of named topics.
package eventbus

import "sync"

// Topic names a category of event. The three the proxy defines are
// exported as constants below; callers may subscribe to any string.
type Topic string

const (
	TopicServiceStateChanged Topic = "service.stateChanged"
	TopicToolsListChanged    Topic = "tools.listChanged"
	TopicToolCalled          Topic = "tool.called"
)

// ServiceStateChangedEvent is published on TopicServiceStateChanged.
type ServiceStateChangedEvent struct {
	Service string
	State   string
	Err     error
}

// ToolsListChangedEvent is published on TopicToolsListChanged.
type ToolsListChangedEvent struct {
	Service   string
	ToolCount int
}

// ToolCalledEvent is published on TopicToolCalled.
type ToolCalledEvent struct {
	ToolName string
	Success  bool
}

// Handler receives events published to a topic it subscribed to.
type Handler func(event any)

// Bus is a simple synchronous multi-topic publish/subscribe hub. Safe
// for concurrent use. Handlers are invoked synchronously from Publish's
// goroutine; slow handlers should offload work themselves.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Topic][]Handler)}
}

// Subscribe registers fn to be invoked for every event published on
// topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], fn)
	idx := len(b.handlers[topic]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[topic]
		if idx < len(hs) {
			hs[idx] = nil
		}
	}
}

// Publish invokes every handler subscribed to topic with event.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[topic]))
	copy(hs, b.handlers[topic])
	b.mu.RUnlock()
	for _, h := range hs {
		if h != nil {
			h(event)
		}
	}
}
