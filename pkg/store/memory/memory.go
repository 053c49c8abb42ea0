// Package memory provides an in-process Store backed by mutex-guarded maps.
// It backs unit tests and single-node dev runs (STORE_URL=memory).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

// Store implements store.Store. All methods copy rows on the way in and
// out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	sessions  map[string]*models.Session
	agentLogs map[string]*models.AgentLog
	factors   map[string]*models.Factor
	responses map[string]*models.ForecasterResponse
	orders    map[string]*models.Order
	trades    []*models.Trade
	states    map[string]*models.TraderState // key: sessionID + "/" + name

	orderSeq int64

	sessionsRepo  *sessionStore
	agentLogsRepo *agentLogStore
	factorsRepo   *factorStore
	responsesRepo *responseStore
	ordersRepo    *orderStore
	tradesRepo    *tradeStore
	statesRepo    *traderStateStore
}

// New returns an empty in-memory store.
func New() *Store {
	s := &Store{
		sessions:  make(map[string]*models.Session),
		agentLogs: make(map[string]*models.AgentLog),
		factors:   make(map[string]*models.Factor),
		responses: make(map[string]*models.ForecasterResponse),
		orders:    make(map[string]*models.Order),
		states:    make(map[string]*models.TraderState),
	}
	s.sessionsRepo = &sessionStore{s}
	s.agentLogsRepo = &agentLogStore{s}
	s.factorsRepo = &factorStore{s}
	s.responsesRepo = &responseStore{s}
	s.ordersRepo = &orderStore{s}
	s.tradesRepo = &tradeStore{s}
	s.statesRepo = &traderStateStore{s}
	return s
}

func (s *Store) Sessions() store.SessionStore                       { return s.sessionsRepo }
func (s *Store) AgentLogs() store.AgentLogStore                     { return s.agentLogsRepo }
func (s *Store) Factors() store.FactorStore                         { return s.factorsRepo }
func (s *Store) ForecasterResponses() store.ForecasterResponseStore { return s.responsesRepo }
func (s *Store) Orders() store.OrderStore                           { return s.ordersRepo }
func (s *Store) Trades() store.TradeStore                           { return s.tradesRepo }
func (s *Store) TraderStates() store.TraderStateStore               { return s.statesRepo }

// WithTx runs fn directly: map mutations apply immediately, and the
// market engine's per-session lock serializes concurrent writers.
func (s *Store) WithTx(_ context.Context, fn func(store.Store) error) error {
	return fn(s)
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close()                         {}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

type sessionStore struct{ s *Store }

func (r *sessionStore) Create(_ context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess.ID = newID(sess.ID)
	sess.CreatedAt = stamp(sess.CreatedAt)
	if _, ok := r.s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	cp := *sess
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r *sessionStore) Get(_ context.Context, id string) (*models.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *sessionStore) Update(_ context.Context, sess *models.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *sess
	r.s.sessions[sess.ID] = &cp
	return nil
}

func (r *sessionStore) List(_ context.Context, f models.SessionFilters) ([]*models.Session, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var all []*models.Session
	needle := strings.ToLower(f.QuestionText)
	for _, sess := range r.s.sessions {
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(sess.QuestionText), needle) {
			continue
		}
		cp := *sess
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r *sessionStore) ClaimOldestPending(_ context.Context) (*models.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var oldest *models.Session
	for _, sess := range r.s.sessions {
		if sess.Status != models.SessionPending {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}
	oldest.Status = models.SessionRunning
	now := time.Now().UTC()
	oldest.StartedAt = &now
	cp := *oldest
	return &cp, nil
}

func (r *sessionStore) FindActiveByQuestion(_ context.Context, normalized string, since time.Time) (*models.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var best *models.Session
	for _, sess := range r.s.sessions {
		if sess.Status.IsTerminal() {
			continue
		}
		if sess.CreatedAt.Before(since) {
			continue
		}
		if models.NormalizeQuestion(sess.QuestionText) != normalized {
			continue
		}
		if best == nil || sess.CreatedAt.After(best.CreatedAt) {
			best = sess
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}
