package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/foresightlab/foresight/pkg/models"
	"github.com/foresightlab/foresight/pkg/store"
)

// Config tunes the worker pool.
type Config struct {
	WorkerCount        int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	// SessionTimeout bounds one full pipeline run.
	SessionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	return c
}

// SessionRegistry is the subset of WorkerPool used for cancel registration.
type SessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// Worker polls for pending sessions and executes them one at a time.
type Worker struct {
	id       string
	config   Config
	store    store.Store
	runner   SessionRunner
	registry SessionRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a queue worker.
func NewWorker(id string, cfg Config, st store.Store, runner SessionRunner, registry SessionRegistry) *Worker {
	return &Worker{
		id:       id,
		config:   cfg,
		store:    st,
		runner:   runner,
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker and waits for its current session to finish.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// pollAndProcess claims the oldest pending session and runs the pipeline.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	session, err := w.store.Sessions().ClaimOldestPending(ctx)
	if err != nil {
		return err
	}

	log := slog.With("session_id", session.ID, "worker_id", w.id)
	log.Info("Session claimed")

	sessionCtx, cancel := context.WithTimeout(ctx, w.config.SessionTimeout)
	defer cancel()

	w.registry.RegisterSession(session.ID, cancel)
	defer w.registry.UnregisterSession(session.ID)

	runErr := w.runner.Run(sessionCtx, session.ID)
	if runErr != nil {
		log.Error("Session run failed", "error", runErr)
		// The orchestrator marks expected failures itself; this covers
		// store outages and timeouts that escaped it. Background context
		// because sessionCtx may already be done.
		w.ensureFailed(context.Background(), session.ID, runErr)
		return nil
	}

	log.Info("Session processing complete")
	return nil
}

// ensureFailed flips a session that is still non-terminal to failed.
func (w *Worker) ensureFailed(ctx context.Context, sessionID string, cause error) {
	session, err := w.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to reload session after run error",
			"session_id", sessionID, "error", err)
		return
	}
	if session.Status.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	session.Status = models.SessionFailed
	session.ErrorMessage = fmt.Sprintf("worker: %v", cause)
	session.CompletedAt = &now
	if err := w.store.Sessions().Update(ctx, session); err != nil {
		slog.Warn("Failed to mark session failed",
			"session_id", sessionID, "error", err)
	}
}

// sleep waits for d or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
