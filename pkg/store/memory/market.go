package memory

import (
	"context"
	"sort"
	"time"

	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

type orderStore struct{ s *Store }

func (r *orderStore) Create(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o.ID = newID(o.ID)
	o.CreatedAt = stamp(o.CreatedAt)
	r.s.orderSeq++
	o.Seq = r.s.orderSeq
	cp := *o
	r.s.orders[o.ID] = &cp
	return nil
}

func (r *orderStore) Get(_ context.Context, id string) (*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *orderStore) Update(_ context.Context, o *models.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[o.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *o
	r.s.orders[o.ID] = &cp
	return nil
}

func (r *orderStore) ActiveBySession(_ context.Context, sessionID string) ([]*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Order
	for _, o := range r.s.orders {
		if o.SessionID == sessionID && o.Active() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *orderStore) CancelActiveByTrader(_ context.Context, sessionID, traderName string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, o := range r.s.orders {
		if o.SessionID == sessionID && o.TraderName == traderName && o.Active() {
			o.Status = models.OrderCancelled
			n++
		}
	}
	return n, nil
}

func (r *orderStore) ListBySession(_ context.Context, sessionID string) ([]*models.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Order
	for _, o := range r.s.orders {
		if o.SessionID == sessionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

type tradeStore struct{ s *Store }

func (r *tradeStore) Create(_ context.Context, t *models.Trade) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t.ID = newID(t.ID)
	t.CreatedAt = stamp(t.CreatedAt)
	cp := *t
	r.s.trades = append(r.s.trades, &cp)
	return nil
}

func (r *tradeStore) ListBySession(_ context.Context, sessionID string, limit int) ([]*models.Trade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Trade
	// trades slice is append-ordered; walk backwards for newest first
	for i := len(r.s.trades) - 1; i >= 0; i-- {
		t := r.s.trades[i]
		if t.SessionID != sessionID {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type traderStateStore struct{ s *Store }

func stateKey(sessionID, name string) string { return sessionID + "/" + name }

func (r *traderStateStore) Upsert(_ context.Context, st *models.TraderState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := stateKey(st.SessionID, st.Name)
	if existing, ok := r.s.states[key]; ok {
		st.ID = existing.ID
	} else {
		st.ID = newID(st.ID)
	}
	st.UpdatedAt = time.Now().UTC()
	cp := *st
	r.s.states[key] = &cp
	return nil
}

func (r *traderStateStore) Get(_ context.Context, sessionID, name string) (*models.TraderState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.states[stateKey(sessionID, name)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (r *traderStateStore) ListBySession(_ context.Context, sessionID string) ([]*models.TraderState, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.TraderState
	for _, st := range r.s.states {
		if st.SessionID == sessionID {
			cp := *st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
