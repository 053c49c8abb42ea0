package memory

import (
	"context"
	"sort"

	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

type agentLogStore struct{ s *Store }

func (r *agentLogStore) Create(_ context.Context, l *models.AgentLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l.ID = newID(l.ID)
	l.CreatedAt = stamp(l.CreatedAt)
	cp := *l
	r.s.agentLogs[l.ID] = &cp
	return nil
}

func (r *agentLogStore) Update(_ context.Context, l *models.AgentLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.agentLogs[l.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *l
	r.s.agentLogs[l.ID] = &cp
	return nil
}

func (r *agentLogStore) ListBySession(_ context.Context, sessionID string) ([]*models.AgentLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.AgentLog
	for _, l := range r.s.agentLogs {
		if l.SessionID == sessionID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AgentName < out[j].AgentName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type factorStore struct{ s *Store }

func (r *factorStore) Create(_ context.Context, f *models.Factor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f.ID = newID(f.ID)
	f.CreatedAt = stamp(f.CreatedAt)
	cp := *f
	r.s.factors[f.ID] = &cp
	return nil
}

func (r *factorStore) Update(_ context.Context, f *models.Factor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.factors[f.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *f
	r.s.factors[f.ID] = &cp
	return nil
}

func (r *factorStore) ListBySession(_ context.Context, sessionID string) ([]*models.Factor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Factor
	for _, f := range r.s.factors {
		if f.SessionID == sessionID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type responseStore struct{ s *Store }

func (r *responseStore) Create(_ context.Context, resp *models.ForecasterResponse) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.responses {
		if existing.SessionID == resp.SessionID && existing.ForecasterClass == resp.ForecasterClass {
			return store.ErrConflict
		}
	}
	resp.ID = newID(resp.ID)
	resp.CreatedAt = stamp(resp.CreatedAt)
	cp := *resp
	r.s.responses[resp.ID] = &cp
	return nil
}

func (r *responseStore) Update(_ context.Context, resp *models.ForecasterResponse) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.responses[resp.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *resp
	r.s.responses[resp.ID] = &cp
	return nil
}

func (r *responseStore) ListBySession(_ context.Context, sessionID string) ([]*models.ForecasterResponse, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.ForecasterResponse
	for _, resp := range r.s.responses {
		if resp.SessionID == sessionID {
			cp := *resp
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ForecasterClass < out[j].ForecasterClass })
	return out, nil
}
