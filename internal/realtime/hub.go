// Package realtime pushes session registry events to every open tab of a
// browser over websockets, so session lists stay consistent across tabs.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/crmchat/internal/history"
)

// DefaultBuffer is the per-connection event queue length.
const DefaultBuffer = 32

// Subscriber is one tab's event queue. Events is closed when the hub drops
// the subscriber: replaced by a newer connection for the same tab, too slow
// to drain its queue, or hub shutdown.
type Subscriber struct {
	events chan history.Event
	closed bool
}

// Events returns the queue the connection drains.
func (s *Subscriber) Events() <-chan history.Event {
	return s.events
}

// Hub tracks subscribers per namespace and tab. It implements
// history.Observer; Publish never blocks.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*Subscriber
	buffer int
}

// NewHub creates a hub. A non-positive buffer uses DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		active: make(map[string]map[string]*Subscriber),
		buffer: buffer,
	}
}

// Register adds a subscriber for namespace/tab, replacing any previous one.
func (h *Hub) Register(namespace, tabID string) *Subscriber {
	sub := &Subscriber{events: make(chan history.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[namespace]; !exists {
		h.active[namespace] = make(map[string]*Subscriber)
	}
	if existing, exists := h.active[namespace][tabID]; exists {
		h.closeLocked(existing)
	}
	h.active[namespace][tabID] = sub
	slog.Debug("Realtime subscriber registered", "namespace", namespace, "tab_id", tabID)
	return sub
}

// Unregister removes sub if it is still the registered subscriber for the tab.
func (h *Hub) Unregister(namespace, tabID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[namespace]; ok {
		if current, exists := tabs[tabID]; exists && current == sub {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, namespace)
			}
			slog.Debug("Realtime subscriber unregistered", "namespace", namespace, "tab_id", tabID)
		}
	}
	h.closeLocked(sub)
}

// Publish implements history.Observer.
func (h *Hub) Publish(e history.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for tabID, sub := range h.active[e.Namespace] {
		select {
		case sub.events <- e:
		default:
			slog.Warn("Realtime subscriber too slow, dropping", "namespace", e.Namespace, "tab_id", tabID)
			delete(h.active[e.Namespace], tabID)
			h.closeLocked(sub)
		}
	}
	if len(h.active[e.Namespace]) == 0 {
		delete(h.active, e.Namespace)
	}
}

// Count returns the number of subscribers for namespace.
func (h *Hub) Count(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[namespace])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ns, tabs := range h.active {
		for _, sub := range tabs {
			h.closeLocked(sub)
		}
		delete(h.active, ns)
	}
}

func (h *Hub) closeLocked(sub *Subscriber) {
	if sub != nil && !sub.closed {
		sub.closed = true
		close(sub.events)
	}
}

var _ history.Observer = (*Hub)(nil)
