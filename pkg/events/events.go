// Package events provides topic pub/sub on row changes. Two Broadcaster
// implementations exist: PostgresBroadcaster (INSERT + pg_notify in one
// transaction, fanned out by NotifyListener) and MemoryBus (in-process,
// used by tests and single-node runs).
package events

import "context"

// Broadcaster publishes a row-change notification on a logical channel,
// filtered by session.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID, channel string, payload map[string]any) error
}

// NopBroadcaster discards all events.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(context.Context, string, string, map[string]any) error { return nil }

// pgChannel is the single PostgreSQL NOTIFY channel. Logical channels and
// session routing travel inside the payload so LISTEN stays cheap.
const pgChannel = "foresight_events"
