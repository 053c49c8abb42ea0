// Foresight server: HTTP API, forecast pipeline workers, and the
// trading simulation loop in one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/foresightlab/foresight/pkg/api"
	"github.com/foresightlab/foresight/pkg/cleanup"
	"github.com/foresightlab/foresight/pkg/config"
	"github.com/foresightlab/foresight/pkg/database"
	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/forecast"
	"github.com/foresightlab/foresight/pkg/llm"
	"github.com/foresightlab/foresight/pkg/market"
	"github.com/foresightlab/foresight/pkg/queue"
	"github.com/foresightlab/foresight/pkg/sim"
	"github.com/foresightlab/foresight/pkg/store"
	memorystore "github.com/foresightlab/foresight/pkg/store/memory"
	pgstore "github.com/foresightlab/foresight/pkg/store/postgres"
	"github.com/foresightlab/foresight/pkg/traders"
	"github.com/foresightlab/foresight/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	hub := events.NewHub()

	// Persistence and event transport. The memory store uses in-process
	// fan-out; Postgres publishes through NOTIFY so every replica's hub
	// sees every event.
	var (
		st       store.Store
		bus      events.Broadcaster
		dbClient *database.Client
		listener *events.NotifyListener
	)
	if cfg.UseMemoryStore() {
		st = memorystore.New()
		bus = events.NewMemoryBus(hub)
		slog.Info("Using in-memory store")
	} else {
		dbClient, err = database.NewClient(ctx, database.DefaultConfig(cfg.StoreURL))
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(2)
		}
		defer dbClient.Close()
		slog.Info("Connected to PostgreSQL")

		st = pgstore.New(dbClient.Pool())
		bus = events.NewPostgresBroadcaster(dbClient.Pool())

		listener = events.NewNotifyListener(cfg.StoreURL, dbClient.Pool(), hub)
		if err := listener.Start(ctx); err != nil {
			slog.Error("Failed to start notify listener", "error", err)
			os.Exit(2)
		}
		defer listener.Stop(ctx)

		retention := cleanup.NewService(cleanup.Config{}, dbClient.Pool())
		retention.Start(ctx)
		defer retention.Stop()
	}

	// Pipeline and market wiring.
	completer := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel,
		llm.WithMaxRetries(cfg.LLMMaxRetries))
	orchestrator := forecast.NewOrchestrator(forecast.Resources{
		Store: st,
		LLM:   completer,
		Bus:   bus,
	}, forecast.WithAgentTimeout(cfg.AgentTimeout))

	engine := market.NewEngine(st, bus)
	// No account-feed integration is wired yet, so the four user-tracking
	// traders sit out every round; swap EmptyFeed for a real provider to
	// activate them.
	pool := traders.Pool(
		traders.NewLLMSentiment(completer),
		traders.EmptyFeed{},
		traders.NewLLMStance(completer),
	)
	registry := sim.NewRegistry(st, engine, bus, pool,
		sim.WithDefaultInterval(cfg.TradingInterval))

	workers := queue.NewWorkerPool(queue.Config{
		WorkerCount:    cfg.WorkerCount,
		SessionTimeout: 30 * time.Minute,
	}, st, orchestrator)
	workers.Start(ctx)

	server := api.NewServer(st, engine, registry, hub, dbClient)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTPPort); err != nil {
			errCh <- err
		}
	}()
	slog.Info("Foresight started",
		"version", version.Full(), "port", cfg.HTTPPort, "workers", cfg.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Graceful shutdown: stop accepting sessions, finish in-flight ones,
	// then drain HTTP.
	registry.Shutdown()

	done := make(chan struct{})
	go func() {
		workers.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-time.After(60 * time.Second):
		slog.Warn("Worker shutdown timeout exceeded")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	st.Close()
	slog.Info("Shutdown complete")
}
