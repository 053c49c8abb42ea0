package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/market"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
	"github.com/foresightlab/foresight/pkg/traders"
)

// ErrNoSimulation is returned for control calls against a session with no
// live runner.
var ErrNoSimulation = errors.New("no simulation running for session")

// dedupWindow bounds how far back Run looks for a reusable session with
// the same question.
const dedupWindow = time.Hour

// Registry tracks live runners by session and deduplicates simulation
// runs by normalized question text.
type Registry struct {
	store           store.Store
	engine          *market.Engine
	bus             events.Broadcaster
	pool            []traders.Trader
	defaultInterval time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	runners map[string]*Runner
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultInterval sets the round interval used when a run request
// does not specify one.
func WithDefaultInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.defaultInterval = d
		}
	}
}

// NewRegistry builds a registry sharing one trader pool across sessions.
func NewRegistry(st store.Store, engine *market.Engine, bus events.Broadcaster, pool []traders.Trader, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:           st,
		engine:          engine,
		bus:             bus,
		pool:            pool,
		defaultInterval: defaultTradingInterval,
		logger:          slog.Default().With("component", "sim"),
		runners:         make(map[string]*Runner),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a forecast-plus-simulation session. When a non-terminal
// session with the same normalized question exists within the dedup
// window, that session is returned instead of creating a duplicate.
func (r *Registry) Run(ctx context.Context, req models.RunSimulationRequest) (*models.Session, bool, error) {
	normalized := models.NormalizeQuestion(req.QuestionText)
	since := time.Now().UTC().Add(-dedupWindow)

	existing, err := r.store.Sessions().FindActiveByQuestion(ctx, normalized, since)
	if err == nil {
		// Reuse requires a live runner in this process. A non-terminal row
		// left behind by another process or a restart is not adopted; it
		// ages out of the dedup window instead.
		r.mu.Lock()
		_, live := r.runners[existing.ID]
		r.mu.Unlock()
		if live {
			r.logger.Info("Reusing active simulation",
				"session_id", existing.ID)
			return existing, true, nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check for duplicate run: %w", err)
	}

	counts := models.DefaultAgentCounts()
	if req.AgentCounts != nil {
		counts = req.AgentCounts.Normalized()
	}
	intervalSeconds := req.TradingIntervalSeconds
	if intervalSeconds <= 0 {
		intervalSeconds = int(r.defaultInterval / time.Second)
	}
	session := &models.Session{
		QuestionText:           req.QuestionText,
		QuestionType:           req.QuestionType,
		Status:                 models.SessionPending,
		ForecasterClass:        req.ForecasterClass,
		RunAllForecasters:      true,
		AgentCounts:            counts,
		TradingIntervalSeconds: intervalSeconds,
	}
	if err := r.store.Sessions().Create(ctx, session); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	runner := NewRunner(r.store, r.engine, r.bus, r.pool, session)
	r.mu.Lock()
	r.runners[session.ID] = runner
	r.mu.Unlock()
	runner.Start()

	r.logger.Info("Simulation started", "session_id", session.ID)
	return session, false, nil
}

// Status reports the runner's phase, or a stopped status when no runner
// exists for the session.
func (r *Registry) Status(sessionID string) models.SimulationStatus {
	r.mu.Lock()
	runner, ok := r.runners[sessionID]
	r.mu.Unlock()
	if !ok {
		return models.SimulationStatus{Running: false, Phase: PhaseStopped}
	}
	return runner.Status()
}

// Stop halts the session's round loop.
func (r *Registry) Stop(sessionID string) error {
	r.mu.Lock()
	runner, ok := r.runners[sessionID]
	if ok {
		delete(r.runners, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNoSimulation
	}
	runner.Stop()
	return nil
}

// Complete halts the loop and marks the session completed.
func (r *Registry) Complete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	runner, ok := r.runners[sessionID]
	if ok {
		delete(r.runners, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNoSimulation
	}
	return runner.Complete(ctx)
}

// Shutdown stops every live runner.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	runners := make([]*Runner, 0, len(r.runners))
	for id, runner := range r.runners {
		runners = append(runners, runner)
		delete(r.runners, id)
	}
	r.mu.Unlock()
	for _, runner := range runners {
		runner.Stop()
	}
}
