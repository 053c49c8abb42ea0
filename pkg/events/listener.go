package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightlab/foresight/pkg/models"
)

// NotifyListener holds a dedicated LISTEN connection and dispatches
// incoming notifications to the local Hub.
type NotifyListener struct {
	connString string
	pool       *pgxpool.Pool // used to re-read truncated events
	hub        *Hub

	connMu sync.Mutex
	conn   *pgx.Conn

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener. pool may be nil, in which case
// truncated events are dropped instead of re-read.
func NewNotifyListener(connString string, pool *pgxpool.Pool, hub *Hub) *NotifyListener {
	return &NotifyListener{connString: connString, pool: pool, hub: hub}
}

// Start establishes the dedicated connection, issues LISTEN, and begins
// the receive loop.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{pgChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("Event listener started", "channel", pgChannel)
	return nil
}

// receiveLoop is the sole goroutine touching the LISTEN connection.
func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatch(ctx, []byte(notification.Payload))
	}
}

// dispatch decodes the envelope, re-reading the events row when truncated.
func (l *NotifyListener) dispatch(ctx context.Context, payload []byte) {
	var env notifyEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Error("Malformed NOTIFY payload", "error", err)
		return
	}

	if env.Truncated {
		if l.pool == nil {
			slog.Warn("Truncated event dropped, no pool to re-read", "event_id", env.ID)
			return
		}
		var raw []byte
		err := l.pool.QueryRow(ctx,
			`SELECT payload FROM events WHERE id = $1`, env.ID).Scan(&raw)
		if err != nil {
			slog.Error("Failed to re-read truncated event", "event_id", env.ID, "error", err)
			return
		}
		if err := json.Unmarshal(raw, &env.Payload); err != nil {
			slog.Error("Failed to decode re-read event payload", "event_id", env.ID, "error", err)
			return
		}
	}

	l.hub.Broadcast(models.Event{
		ID:        env.ID,
		SessionID: env.SessionID,
		Channel:   env.Channel,
		Payload:   env.Payload,
		CreatedAt: time.Now().UTC(),
	})
}

// reconnect re-establishes the connection with exponential backoff and
// re-issues LISTEN.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
	l.connMu.Unlock()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{pgChannel}.Sanitize()); err != nil {
			slog.Error("Re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.connMu.Lock()
		l.conn = conn
		l.connMu.Unlock()
		slog.Info("Event listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
