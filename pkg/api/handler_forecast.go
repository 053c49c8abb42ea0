package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/foresightlab/foresight/pkg/models"
)

// createForecast handles POST /api/forecasts: queue a forecasting run.
func (s *Server) createForecast(c *gin.Context) {
	var req models.CreateForecastRequest
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
	if req.ForecasterClass != "" && !models.ForecasterClass(req.ForecasterClass).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forecaster_class"})
		return
	}

	counts := models.DefaultAgentCounts()
	if req.AgentCounts != nil {
		counts = req.AgentCounts.Normalized()
	}
	session := &models.Session{
		QuestionText:      strings.TrimSpace(req.QuestionText),
		QuestionType:      req.QuestionType,
		Status:            models.SessionPending,
		ForecasterClass:   req.ForecasterClass,
		RunAllForecasters: req.RunAllForecasters,
		AgentCounts:       counts,
	}
	if err := s.store.Sessions().Create(c.Request.Context(), session); err != nil {
		mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// getForecast handles GET /api/forecasts/:id: session plus its pipeline
// artifacts.
func (s *Server) getForecast(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	session, err := s.store.Sessions().Get(ctx, id)
	if err != nil {
		mapError(c, err)
		return
	}
	responses, err := s.store.ForecasterResponses().ListBySession(ctx, id)
	if err != nil {
		mapError(c, err)
		return
	}
	factors, err := s.store.Factors().ListBySession(ctx, id)
	if err != nil {
		mapError(c, err)
		return
	}
	logs, err := s.store.AgentLogs().ListBySession(ctx, id)
	if err != nil {
		mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.SessionDetail{
		Session:             session,
		ForecasterResponses: responses,
		Factors:             factors,
		AgentLogs:           logs,
	})
}

// listForecasts handles GET /api/forecasts with limit/offset paging and
// optional status / question_text filters.
func (s *Server) listForecasts(c *gin.Context) {
	filters := models.SessionFilters{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			filters.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		status := models.SessionStatus(v)
		switch status {
		case models.SessionPending, models.SessionRunning, models.SessionCompleted, models.SessionFailed:
			filters.Status = status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
	}
	filters.QuestionText = c.Query("question_text")

	sessions, total, err := s.store.Sessions().List(c.Request.Context(), filters)
	if err != nil {
		mapError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	c.JSON(http.StatusOK, models.SessionListResponse{
		Forecasts:  sessions,
		TotalCount: total,
		Limit:      filters.Limit,
		Offset:     filters.Offset,
	})
}
