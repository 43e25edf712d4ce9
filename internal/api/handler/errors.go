package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/framescope/internal/api/middleware"
	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/repository"
)

// statusFor maps a service error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrInvalidSamplingRate),
		errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFrameNotFound),
		errors.Is(err, domain.ErrSnapshotUnavailable),
		errors.Is(err, repository.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVideoExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidVideo),
		errors.Is(err, domain.ErrCorruptSnapshot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": msg + err} with the mapped status.
// Server-side failures are logged with the request logger.
func respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error(msg)
	}
	c.JSON(status, gin.H{
		"error": msg + ": " + err.Error(),
	})
}
