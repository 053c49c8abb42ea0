package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foresightlab/foresight/pkg/market"
	"github.com/foresightlab/foresight/pkg/sim"
	"github.com/foresightlab/foresight/pkg/store"
)

// mapError writes the HTTP response for a domain error.
func mapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sim.ErrNoSimulation):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
