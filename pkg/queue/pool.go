// Package queue runs the forecast pipeline workers. Workers poll the
// store for pending sessions, claim them atomically, and execute the
// orchestrator; shutdown is graceful, letting in-flight sessions finish.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foresightlab/foresight/pkg/store"
)

// SessionRunner executes one claimed session end to end.
type SessionRunner interface {
	Run(ctx context.Context, sessionID string) error
}

// WorkerPool manages the forecast workers.
type WorkerPool struct {
	config  Config
	store   store.Store
	runner  SessionRunner
	workers []*Worker
	started bool

	// cancel registry: session_id -> cancel func for in-flight sessions
	mu             sync.RWMutex
	activeSessions map[string]context.CancelFunc
}

// NewWorkerPool creates a pool; Start spawns the workers.
func NewWorkerPool(cfg Config, st store.Store, runner SessionRunner) *WorkerPool {
	cfg = cfg.withDefaults()
	return &WorkerPool{
		config:         cfg,
		store:          st,
		runner:         runner,
		workers:        make([]*Worker, 0, cfg.WorkerCount),
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call more than once;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.config, p.store, p.runner, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
}

// Stop signals all workers and waits for in-flight sessions to finish.
func (p *WorkerPool) Stop() {
	active := p.activeSessionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active sessions to complete",
			"count", len(active), "session_ids", active)
	}
	for _, worker := range p.workers {
		worker.Stop()
	}
	slog.Info("Worker pool stopped")
}

// RegisterSession stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[sessionID] = cancel
}

// UnregisterSession removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, sessionID)
}

// CancelSession cancels an in-flight session. Returns false when the
// session is not being processed here.
func (p *WorkerPool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeSessions[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

func (p *WorkerPool) activeSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeSessions))
	for id := range p.activeSessions {
		ids = append(ids, id)
	}
	return ids
}
