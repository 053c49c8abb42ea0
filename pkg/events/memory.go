package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/foresightlab/foresight/pkg/models"
)

// MemoryBus is an in-process Broadcaster that delivers straight to a Hub.
type MemoryBus struct {
	hub  *Hub
	next atomic.Int64
}

// NewMemoryBus returns a bus delivering to hub.
func NewMemoryBus(hub *Hub) *MemoryBus {
	return &MemoryBus{hub: hub}
}

// Publish delivers the event to the hub's subscribers.
func (b *MemoryBus) Publish(_ context.Context, sessionID, channel string, payload map[string]any) error {
	b.hub.Broadcast(models.Event{
		ID:        b.next.Add(1),
		SessionID: sessionID,
		Channel:   channel,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}
