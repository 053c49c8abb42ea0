// Package postgres implements store.Store over a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foresightlab/foresight/pkg/store"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so
// every repository works both pooled and inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repos struct {
	sessionsRepo  *sessionStore
	agentLogsRepo *agentLogStore
	factorsRepo   *factorStore
	responsesRepo *responseStore
	ordersRepo    *orderStore
	tradesRepo    *tradeStore
	statesRepo    *traderStateStore
}

func newRepos(db querier) repos {
	return repos{
		sessionsRepo:  &sessionStore{db},
		agentLogsRepo: &agentLogStore{db},
		factorsRepo:   &factorStore{db},
		responsesRepo: &responseStore{db},
		ordersRepo:    &orderStore{db},
		tradesRepo:    &tradeStore{db},
		statesRepo:    &traderStateStore{db},
	}
}

func (r repos) Sessions() store.SessionStore                       { return r.sessionsRepo }
func (r repos) AgentLogs() store.AgentLogStore                     { return r.agentLogsRepo }
func (r repos) Factors() store.FactorStore                         { return r.factorsRepo }
func (r repos) ForecasterResponses() store.ForecasterResponseStore { return r.responsesRepo }
func (r repos) Orders() store.OrderStore                           { return r.ordersRepo }
func (r repos) Trades() store.TradeStore                           { return r.tradesRepo }
func (r repos) TraderStates() store.TraderStateStore               { return r.statesRepo }

// Store implements store.Store against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	repos
}

// New wraps an existing pool. The pool's lifecycle belongs to the caller
// (pkg/database); Close is a no-op here.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, repos: newRepos(pool)}
}

// WithTx runs fn against a transaction-scoped Store and commits on
// success, rolls back on error.
func (s *Store) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{repos: newRepos(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close()                         {}

// txStore is the Store handed to WithTx callbacks. Nested WithTx calls
// join the enclosing transaction.
type txStore struct {
	repos
}

func (t *txStore) WithTx(_ context.Context, fn func(store.Store) error) error { return fn(t) }
func (t *txStore) Ping(context.Context) error                                 { return nil }
func (t *txStore) Close()                                                     {}

// mapError translates pgx errors to store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrConflict
	}
	return err
}
