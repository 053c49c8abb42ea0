package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/foresightlab/foresight/pkg/models"
)

// runSimulation handles POST /api/sessions/run: queue a forecast and
// start the trading loop once synthesis seeds are available. Duplicate
// questions within the dedup window return the existing session.
func (s *Server) runSimulation(c *gin.Context) {
	var req models.RunSimulationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.QuestionText) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question_text is required"})
		return
	}
	if req.QuestionType == "" {
		req.QuestionType = models.QuestionBinary
	}
	if !req.QuestionType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid question_type"})
		return
	}

	session, reused, err := s.registry.Run(c.Request.Context(), req)
	if err != nil {
		mapError(c, err)
		return
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"session": session, "reused": reused})
}

// sessionStatus handles GET /api/sessions/:id/status.
func (s *Server) sessionStatus(c *gin.Context) {
	id := c.Param("id")
	session, err := s.store.Sessions().Get(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":    session,
		"simulation": s.registry.Status(id),
	})
}

// stopSimulation handles POST /api/sessions/:id/stop.
func (s *Server) stopSimulation(c *gin.Context) {
	if err := s.registry.Stop(c.Param("id")); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// completeSimulation handles POST /api/sessions/:id/complete.
func (s *Server) completeSimulation(c *gin.Context) {
	if err := s.registry.Complete(c.Request.Context(), c.Param("id")); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": true})
}

type settleRequest struct {
	Outcome *bool `json:"outcome"`
}

// settleSession handles POST /api/sessions/:id/settle: resolve the
// question and pay out winning positions.
func (s *Server) settleSession(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Outcome == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome (boolean) is required"})
		return
	}
	id := c.Param("id")

	if _, err := s.store.Sessions().Get(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}
	// A live loop would keep quoting against the settled book.
	_ = s.registry.Stop(id)

	payouts, err := s.engine.Settle(c.Request.Context(), id, *req.Outcome)
	if err != nil {
		mapError(c, err)
		return
	}
	out := make(map[string]string, len(payouts))
	for name, p := range payouts {
		out[name] = p.String()
	}
	c.JSON(http.StatusOK, gin.H{"outcome": *req.Outcome, "payouts": out})
}

// getOrderBook handles GET /api/sessions/:id/orderbook.
func (s *Server) getOrderBook(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.Sessions().Get(c.Request.Context(), id); err != nil {
		mapError(c, err)
		return
	}
	snapshot, err := s.engine.Snapshot(c.Request.Context(), id)
	if err != nil {
		mapError(c, err)
		return
	}
	if snapshot.Bids == nil {
		snapshot.Bids = []models.BookLevel{}
	}
	if snapshot.Asks == nil {
		snapshot.Asks = []models.BookLevel{}
	}
	c.JSON(http.StatusOK, snapshot)
}

// listTrades handles GET /api/sessions/:id/trades?limit=N, newest first.
func (s *Server) listTrades(c *gin.Context) {
	id := c.Param("id")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	trades, err := s.store.Trades().ListBySession(c.Request.Context(), id, limit)
	if err != nil {
		mapError(c, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// listTraderStates handles GET /api/sessions/:id/traders.
func (s *Server) listTraderStates(c *gin.Context) {
	states, err := s.store.TraderStates().ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapError(c, err)
		return
	}
	if states == nil {
		states = []*models.TraderState{}
	}
	c.JSON(http.StatusOK, gin.H{"traders": states})
}
