package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/framescope/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	searchService *service.SearchService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(searchService *service.SearchService) *HealthHandler {
	return &HealthHandler{searchService: searchService}
}

// Health returns the health status of the service. The index is probed
// with a short timeout; a failing index reports "degraded".
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	stats, err := h.searchService.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"frames": stats.Frames,
	})
}
