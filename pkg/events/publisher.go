package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyLimit stays under PostgreSQL's 8000-byte NOTIFY payload cap.
const notifyLimit = 7900

// PostgresBroadcaster persists events to the events table and broadcasts
// them via NOTIFY in a single transaction, so the notification fires only
// when the row is durable.
type PostgresBroadcaster struct {
	pool *pgxpool.Pool
}

// NewPostgresBroadcaster returns a broadcaster over the shared pool.
func NewPostgresBroadcaster(pool *pgxpool.Pool) *PostgresBroadcaster {
	return &PostgresBroadcaster{pool: pool}
}

// Publish inserts the event row and fires pg_notify inside one transaction.
func (p *PostgresBroadcaster) Publish(ctx context.Context, sessionID, channel string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (session_id, channel, payload, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		sessionID, channel, payloadJSON, time.Now().UTC(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := buildNotifyPayload(eventID, sessionID, channel, payload)
	if err != nil {
		return err
	}

	// pg_notify is transactional: the notification is held until COMMIT.
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", pgChannel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyEnvelope is the wire form carried in the NOTIFY payload. When the
// full payload would exceed the NOTIFY limit, Truncated is set and Payload
// dropped; listeners re-read the row by ID.
type notifyEnvelope struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Channel   string         `json:"channel"`
	Payload   map[string]any `json:"payload,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

func buildNotifyPayload(eventID int64, sessionID, channel string, payload map[string]any) (string, error) {
	env := notifyEnvelope{ID: eventID, SessionID: sessionID, Channel: channel, Payload: payload}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notify envelope: %w", err)
	}
	if len(b) <= notifyLimit {
		return string(b), nil
	}

	env.Payload = nil
	env.Truncated = true
	b, err = json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated envelope: %w", err)
	}
	return string(b), nil
}
