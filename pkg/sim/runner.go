// Package sim drives the round-based trading loop for one session: wait
// for synthesis seeds, then each round snapshot the book, let every
// trader quote concurrently, and sleep the configured interval.
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
	"github.com/foresightlab/foresight/pkg/metrics"
	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
	"github.com/foresightlab/foresight/pkg/traders"
)

// Simulation phases surfaced by GetStatus.
const (
	PhaseInitializing = "initializing"
	PhaseRunning      = "running"
	PhaseStopped      = "stopped"
	PhaseCompleted    = "completed"
)

// seedPollInterval is how often the runner re-checks for synthesis output
// while initializing.
const seedPollInterval = 2 * time.Second

// Runner executes the trading loop for a single session.
type Runner struct {
	store    store.Store
	engine   *market.Engine
	bus      events.Broadcaster
	pool     []traders.Trader
	session  *models.Session
	interval time.Duration
	logger   *slog.Logger

	// ctx backs store and engine calls and is never cancelled; stop only
	// signals the loop, so an in-flight round finishes its quotes.
	ctx      context.Context
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	phase    string
	round    int
	inFlight map[string]bool
	started  time.Time
}

// defaultTradingInterval is the round cadence when neither the run
// request nor the deployment configures one.
const defaultTradingInterval = 30 * time.Second

// NewRunner builds a runner; Start launches the loop.
func NewRunner(st store.Store, engine *market.Engine, bus events.Broadcaster, pool []traders.Trader, session *models.Session) *Runner {
	interval := time.Duration(session.TradingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultTradingInterval
	}
	return &Runner{
		store:    st,
		engine:   engine,
		bus:      bus,
		pool:     pool,
		session:  session,
		interval: interval,
		logger:   slog.Default().With("component", "sim", "session_id", session.ID),
		ctx:      context.Background(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		phase:    PhaseInitializing,
		inFlight: make(map[string]bool),
	}
}

// Start launches the round loop in its own goroutine.
func (r *Runner) Start() {
	go r.run()
}

// Stop halts the round loop without touching the session row. A round
// already in flight finishes its quotes before the loop exits.
func (r *Runner) Stop() {
	r.setPhase(PhaseStopped)
	r.signalStop()
	<-r.done
}

// Complete stops the loop and marks the session completed.
func (r *Runner) Complete(ctx context.Context) error {
	r.setPhase(PhaseCompleted)
	r.signalStop()
	<-r.done

	session, err := r.store.Sessions().Get(ctx, r.session.ID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Status.IsTerminal() {
		now := time.Now().UTC()
		session.Status = models.SessionCompleted
		session.CompletedAt = &now
		if err := r.store.Sessions().Update(ctx, session); err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}
		r.publishSession(ctx, session)
	}
	return nil
}

// Status returns the loop's current phase and round counter.
func (r *Runner) Status() models.SimulationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.SimulationStatus{
		Running:     r.phase == PhaseRunning || r.phase == PhaseInitializing,
		Phase:       r.phase,
		RoundNumber: r.round,
	}
}

func (r *Runner) run() {
	defer close(r.done)

	seeds, ok := r.awaitSeeds()
	if !ok {
		return
	}

	r.mu.Lock()
	r.phase = PhaseRunning
	r.started = time.Now()
	r.mu.Unlock()
	r.logger.Info("Trading loop started",
		"seeds", len(seeds), "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runRound(seeds)
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		// the ticker can fire in the same instant as a stop request
		select {
		case <-r.stop:
			return
		default:
		}
	}
}

func (r *Runner) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// awaitSeeds polls until synthesis produced at least one usable
// probability. A failed session aborts the loop.
func (r *Runner) awaitSeeds() (map[models.ForecasterClass]traders.Seed, bool) {
	for {
		session, err := r.store.Sessions().Get(r.ctx, r.session.ID)
		if err != nil {
			r.logger.Warn("Failed to load session while initializing", "error", err)
		} else if session.Status == models.SessionFailed {
			r.logger.Warn("Forecast failed, aborting simulation")
			r.setPhase(PhaseStopped)
			return nil, false
		} else if session.Status == models.SessionCompleted {
			seeds, err := r.loadSeeds()
			if err != nil {
				r.logger.Warn("Failed to load seeds", "error", err)
			} else if len(seeds) > 0 {
				return seeds, true
			} else {
				r.logger.Warn("Forecast completed without usable seeds, aborting")
				r.setPhase(PhaseStopped)
				return nil, false
			}
		}

		select {
		case <-r.stop:
			return nil, false
		case <-time.After(seedPollInterval):
		}
	}
}

func (r *Runner) loadSeeds() (map[models.ForecasterClass]traders.Seed, error) {
	responses, err := r.store.ForecasterResponses().ListBySession(r.ctx, r.session.ID)
	if err != nil {
		return nil, err
	}
	seeds := make(map[models.ForecasterClass]traders.Seed)
	for _, resp := range responses {
		if resp.Status != models.AgentCompleted || resp.PredictionProbability == nil {
			continue
		}
		confidence := 0.5
		if resp.Confidence != nil {
			confidence = *resp.Confidence
		}
		seeds[resp.ForecasterClass] = traders.Seed{
			Probability: *resp.PredictionProbability,
			Confidence:  confidence,
		}
	}
	return seeds, nil
}

// runRound executes one round: every trader decides against the same
// pre-round snapshot, then quotes land through the matching engine.
func (r *Runner) runRound(seeds map[models.ForecasterClass]traders.Seed) {
	r.mu.Lock()
	r.round++
	round := r.round
	elapsed := time.Since(r.started)
	r.mu.Unlock()

	snapshot, err := r.engine.Snapshot(r.ctx, r.session.ID)
	if err != nil {
		r.logger.Warn("Failed to snapshot book", "round", round, "error", err)
		snapshot = nil
	}

	var wg sync.WaitGroup
	for _, t := range r.pool {
		if !r.claim(t.Name()) {
			// previous round's decision still running
			r.logger.Warn("Trader still busy, skipping round",
				"trader", t.Name(), "round", round)
			continue
		}
		wg.Add(1)
		go func(t traders.Trader) {
			defer wg.Done()
			defer r.release(t.Name())
			r.runTrader(t, seeds, snapshot, round, elapsed)
		}(t)
	}
	wg.Wait()

	metrics.GetCollector().RoundsTotal.Inc()
	r.publishRound(round)
}

func (r *Runner) runTrader(t traders.Trader, seeds map[models.ForecasterClass]traders.Seed, snapshot *models.OrderBookSnapshot, round int, elapsed time.Duration) {
	start := time.Now()
	defer func() {
		metrics.GetCollector().QuoteLatency.Observe(time.Since(start).Seconds())
	}()

	state, err := r.store.TraderStates().Get(r.ctx, r.session.ID, t.Name())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("Failed to load trader state",
			"trader", t.Name(), "error", err)
		return
	}

	decision, ok, err := t.Decide(r.ctx, traders.DecisionContext{
		Question: r.session.QuestionText,
		Snapshot: snapshot,
		State:    state,
		Seeds:    seeds,
		Round:    round,
		Elapsed:  elapsed,
	})
	if err != nil {
		r.logger.Warn("Trader decision failed",
			"trader", t.Name(), "round", round, "error", err)
		return
	}
	if !ok {
		return
	}

	result, err := r.engine.PlaceMMQuotes(r.ctx, r.session.ID, t.Name(),
		decision.Bid, decision.Ask, decision.Qty)
	if err != nil {
		r.logger.Warn("Failed to place quotes",
			"trader", t.Name(), "round", round, "error", err)
		return
	}
	if decision.Note != "" {
		if err := r.engine.AppendTraderNote(r.ctx, r.session.ID, t.Name(), decision.Note); err != nil {
			r.logger.Warn("Failed to record trader note",
				"trader", t.Name(), "error", err)
		}
	}
	r.logger.Debug("Quotes placed",
		"trader", t.Name(), "round", round,
		"bid", decision.Bid, "ask", decision.Ask,
		"trades", result.TradesCount)
}

// claim marks the trader busy for this round; false means it is still
// working on a previous round.
func (r *Runner) claim(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[name] {
		return false
	}
	r.inFlight[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	delete(r.inFlight, name)
	r.mu.Unlock()
}

func (r *Runner) setPhase(phase string) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
}

func (r *Runner) publishRound(round int) {
	payload := map[string]any{"round_number": round, "phase": PhaseRunning}
	if err := r.bus.Publish(r.ctx, r.session.ID, models.ChannelSessions, payload); err != nil {
		r.logger.Warn("Failed to publish round event", "error", err)
	}
}

func (r *Runner) publishSession(ctx context.Context, s *models.Session) {
	payload := map[string]any{"status": string(s.Status)}
	if err := r.bus.Publish(ctx, s.ID, models.ChannelSessions, payload); err != nil {
		r.logger.Warn("Failed to publish session event", "error", err)
	}
}
