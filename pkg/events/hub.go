package events

import (
	"sync"

	"github.com/foresightlab/foresight/pkg/models"
)

// Hub fans events out to in-process subscribers (the WebSocket handler).
// Slow subscribers drop events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan models.Event // sessionID -> subscriber id -> channel
	next int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan models.Event)}
}

// Subscribe registers a subscriber for one session's events. The returned
// cancel func must be called to release the subscription.
func (h *Hub) Subscribe(sessionID string, buffer int) (<-chan models.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.Event, buffer)

	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan models.Event)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if m, ok := h.subs[sessionID]; ok {
			if _, ok := m[id]; ok {
				delete(m, id)
				close(ch)
			}
			if len(m) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers the event to every subscriber of its session.
func (h *Hub) Broadcast(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
			// subscriber buffer full, event dropped
		}
	}
}

// SubscriberCount reports the number of subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
