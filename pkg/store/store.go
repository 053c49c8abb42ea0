// Package store defines the persistence contract for sessions, pipeline
// artifacts, and market rows. Two implementations exist: store/postgres
// (pgx) and store/memory (mutex-guarded maps for tests and dev runs).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/foresightlab/foresight/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint would be violated.
var ErrConflict = errors.New("conflict")

// Store aggregates the per-entity repositories.
type Store interface {
	Sessions() SessionStore
	AgentLogs() AgentLogStore
	Factors() FactorStore
	ForecasterResponses() ForecasterResponseStore
	Orders() OrderStore
	Trades() TradeStore
	TraderStates() TraderStateStore

	// WithTx runs fn against a Store whose writes commit or roll back as
	// one unit. Implementations without transactions run fn directly;
	// their callers must provide serialization another way.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the backing substrate is reachable.
	Ping(ctx context.Context) error
	Close()
}

// SessionStore persists forecast sessions.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, s *models.Session) error
	List(ctx context.Context, f models.SessionFilters) ([]*models.Session, int, error)

	// ClaimOldestPending atomically flips the oldest pending session to
	// running and returns it, or ErrNotFound when none is pending.
	ClaimOldestPending(ctx context.Context) (*models.Session, error)

	// FindActiveByQuestion returns a non-terminal session whose normalized
	// question text matches and which was created after since. Used for
	// simulation-run deduplication.
	FindActiveByQuestion(ctx context.Context, normalized string, since time.Time) (*models.Session, error)
}

// AgentLogStore persists worker invocation records.
type AgentLogStore interface {
	Create(ctx context.Context, l *models.AgentLog) error
	Update(ctx context.Context, l *models.AgentLog) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.AgentLog, error)
}

// FactorStore persists factor rows.
type FactorStore interface {
	Create(ctx context.Context, f *models.Factor) error
	Update(ctx context.Context, f *models.Factor) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Factor, error)
}

// ForecasterResponseStore persists per-personality synthesis outputs.
type ForecasterResponseStore interface {
	Create(ctx context.Context, r *models.ForecasterResponse) error
	Update(ctx context.Context, r *models.ForecasterResponse) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.ForecasterResponse, error)
}

// OrderStore persists limit orders. Create assigns the insertion sequence
// used for time-priority tie breaks.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	Get(ctx context.Context, id string) (*models.Order, error)
	Update(ctx context.Context, o *models.Order) error

	// ActiveBySession returns open and partially filled orders with
	// remaining quantity, in insertion order.
	ActiveBySession(ctx context.Context, sessionID string) ([]*models.Order, error)

	// CancelActiveByTrader marks the trader's active orders cancelled and
	// returns how many were affected.
	CancelActiveByTrader(ctx context.Context, sessionID, traderName string) (int, error)

	ListBySession(ctx context.Context, sessionID string) ([]*models.Order, error)
}

// TradeStore persists executions. Append-only.
type TradeStore interface {
	Create(ctx context.Context, t *models.Trade) error

	// ListBySession returns trades newest first, capped at limit
	// (0 means no cap).
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Trade, error)
}

// TraderStateStore persists per-session trader accounts.
type TraderStateStore interface {
	// Upsert inserts the state or replaces the existing (session, name) row.
	Upsert(ctx context.Context, s *models.TraderState) error
	Get(ctx context.Context, sessionID, name string) (*models.TraderState, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.TraderState, error)
}
