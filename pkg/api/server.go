// Package api exposes the HTTP surface: forecast CRUD, simulation
// control, the order book read side, and the WebSocket event feed.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/foresightlab/foresight/pkg/database"
	"github.com/foresightlab/foresight/pkg/events"
	"github.com/foresightlab/foresight/pkg/market"
	"github.com/foresightlab/foresight/pkg/metrics"
	"github.com/foresightlab/foresight/pkg/sim"
	"github.com/foresightlab/foresight/pkg/store"
)

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	store    store.Store
	engine   *market.Engine
	registry *sim.Registry
	hub      *events.Hub
	// db is nil when running on the memory store.
	db     *database.Client
	logger *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. db may be nil (memory store).
func NewServer(st store.Store, engine *market.Engine, registry *sim.Registry, hub *events.Hub, db *database.Client) *Server {
	return &Server{
		store:    st,
		engine:   engine,
		registry: registry,
		hub:      hub,
		db:       db,
		logger:   slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.handleWS)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/forecasts", s.createForecast)
		apiGroup.GET("/forecasts", s.listForecasts)
		apiGroup.GET("/forecasts/:id", s.getForecast)

		apiGroup.POST("/sessions/run", s.runSimulation)
		apiGroup.GET("/sessions/:id/status", s.sessionStatus)
		apiGroup.POST("/sessions/:id/stop", s.stopSimulation)
		apiGroup.POST("/sessions/:id/complete", s.completeSimulation)
		apiGroup.POST("/sessions/:id/settle", s.settleSession)

		apiGroup.GET("/sessions/:id/orderbook", s.getOrderBook)
		apiGroup.GET("/sessions/:id/trades", s.listTrades)
		apiGroup.GET("/sessions/:id/traders", s.listTraderStates)
	}

	return r
}

// Start begins serving on the given port.
func (s *Server) Start(port int) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request and feeds the API metrics.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		metrics.GetCollector().RecordAPIRequest(
			c.Request.Method, path, fmt.Sprintf("%d", status), elapsed.Seconds())

		if status >= 500 {
			s.logger.Error("Request failed",
				"method", c.Request.Method, "path", path,
				"status", status, "duration", elapsed)
		} else {
			s.logger.Debug("Request served",
				"method", c.Request.Method, "path", path,
				"status", status, "duration", elapsed)
		}
	}
}
