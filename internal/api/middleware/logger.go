package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/framescope/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	ginLoggerKey    = "logger"
)

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// Parameters:
//   - log: base logger to enrich with request fields.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		reqLog := log.WithFields(logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		ctx := reqLog.WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Set(ginLoggerKey, reqLog)
		c.Header(headerRequestID, requestID)

		c.Next()

		status := c.Writer.Status()
		entry := logger.With(logger.Fields{
			logger.FieldStatus: status,
			"method":           c.Request.Method,
			"path":             c.FullPath(),
			"client_ip":        c.ClientIP(),
			"size":             c.Writer.Size(),
		}).WithDuration(time.Since(start))

		if len(c.Errors) > 0 {
			entry = entry.With(logger.Fields{"errors": c.Errors.String()})
		}

		// Health probes are frequent; keep them out of info logs
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(ctx, "Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn(ctx, "Request rejected")
		case c.FullPath() == "/health":
			entry.Debug(ctx, "Request completed")
		default:
			entry.Info(ctx, "Request completed")
		}
	}
}

// GetLogger extracts logger from Gin context or request context.
// Parameters:
//   - c: Gin request context.
// Returns:
//   - *logger.Logger: request-scoped logger or default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get(ginLoggerKey); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
