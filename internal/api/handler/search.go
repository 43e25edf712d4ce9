package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/framescope/internal/api/middleware"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/service"
)

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// TextSearch handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	result, err := h.searchService.Search(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// TextSearchGet handles GET /api/v1/search?q=...&top_k=...&video_id=...
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) TextSearchGet(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	req := service.SearchRequest{
		Query:   query,
		VideoID: c.Query("video_id"),
	}
	if topK := c.Query("top_k"); topK != "" {
		n, err := strconv.Atoi(topK)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Query parameter 'top_k' must be an integer",
			})
			return
		}
		req.TopK = n
	}

	result, err := h.searchService.Search(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Search failed", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetFrame handles GET /api/v1/frames/:id and serves the frame preview.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes image response).
func (h *SearchHandler) GetFrame(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithField(c.Request.Context(), logger.FieldFrameID, id)

	data, contentType, err := h.searchService.FrameSnapshot(ctx, id)
	if err != nil {
		respondError(c, "Frame unavailable", err)
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}

// GetStats handles GET /api/v1/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) GetStats(c *gin.Context) {
	stats, err := h.searchService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to get stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Cleanup handles POST /api/v1/cleanup. It irreversibly resets the index.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Cleanup(c *gin.Context) {
	if err := h.searchService.Reset(c.Request.Context()); err != nil {
		respondError(c, "Cleanup failed", err)
		return
	}

	middleware.GetLogger(c).Warn("Index reset through API")
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Index completely reset",
	})
}
