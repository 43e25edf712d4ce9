package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/service"
)

// VideoHandler handles video upload and job status endpoints.
type VideoHandler struct {
	ingestService  *service.IngestService
	jobs           *repository.JobRepository
	maxUploadBytes int64
}

// NewVideoHandler creates a new video handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - jobs: upload job ledger; may be nil.
//   - maxUploadBytes: request body limit, 0 for none.
// Returns:
//   - *VideoHandler: initialized handler.
func NewVideoHandler(ingestService *service.IngestService, jobs *repository.JobRepository, maxUploadBytes int64) *VideoHandler {
	return &VideoHandler{
		ingestService:  ingestService,
		jobs:           jobs,
		maxUploadBytes: maxUploadBytes,
	}
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Status          string `json:"status"`
	VideoID         string `json:"video_id"`
	JobID           string `json:"job_id"`
	FramesProcessed int    `json:"frames_processed"`
	DurationMs      int64  `json:"duration_ms"`
}

// Upload handles POST /api/v1/videos (multipart "file", optional "video_id").
// The video is processed synchronously; the response reports how many
// frames became searchable.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *VideoHandler) Upload(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Upload exceeds the size limit",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: multipart field 'file' is required",
		})
		return
	}

	videoID := strings.TrimSpace(c.PostForm("video_id"))
	if videoID == "" {
		videoID = filepath.Base(header.Filename)
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	defer file.Close()

	result, err := h.ingestService.IngestReader(c.Request.Context(), &service.UploadRequest{
		VideoID:  videoID,
		Filename: header.Filename,
		Body:     file,
	})
	if err != nil {
		respondError(c, "Video processing failed", err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		Status:          "success",
		VideoID:         result.VideoID,
		JobID:           result.JobID,
		FramesProcessed: result.FramesProcessed,
		DurationMs:      result.Duration.Milliseconds(),
	})
}

// GetJob handles GET /api/v1/jobs/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *VideoHandler) GetJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job tracking is disabled"})
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Job lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs?limit=N.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *VideoHandler) ListJobs(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []any{}, "total": 0})
		return
	}

	var q struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}

	jobs, err := h.jobs.ListRecent(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"total": len(jobs),
	})
}
