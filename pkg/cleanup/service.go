// Package cleanup enforces event retention: delivered event rows only
// exist to back NOTIFY payload re-reads and are safe to drop after a TTL.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config tunes the retention sweep.
type Config struct {
	// EventTTL is how long event rows are kept after creation.
	EventTTL time.Duration
	// Interval is the sweep period.
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventTTL <= 0 {
		c.EventTTL = 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	return c
}

// Service periodically deletes expired event rows. Idempotent and safe
// to run from multiple replicas.
type Service struct {
	config Config
	pool   *pgxpool.Pool
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service over the shared pool.
func NewService(cfg Config, pool *pgxpool.Pool) *Service {
	return &Service{
		config: cfg.withDefaults(),
		pool:   pool,
		logger: slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"event_ttl", s.config.EventTTL,
		"interval", s.config.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep deletes event rows older than the TTL.
func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.EventTTL)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		s.logger.Warn("Event retention sweep failed", "error", err)
		return
	}
	if tag.RowsAffected() > 0 {
		s.logger.Info("Expired events removed", "count", tag.RowsAffected())
	}
}
