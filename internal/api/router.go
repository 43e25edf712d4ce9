package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/framescope/internal/api/handler"
	"github.com/timmy/framescope/internal/api/middleware"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/service"
)

// RouterConfig carries the dependencies and HTTP settings of the router.
type RouterConfig struct {
	Mode           string
	MaxUploadBytes int64
	CORS           middleware.CORSConfig
	Logger         *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	searchService *service.SearchService,
	ingestService *service.IngestService,
	jobs *repository.JobRepository,
	cfg RouterConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cfg.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(searchService)
	searchHandler := handler.NewSearchHandler(searchService)
	videoHandler := handler.NewVideoHandler(ingestService, jobs, cfg.MaxUploadBytes)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Upload
		v1.POST("/videos", videoHandler.Upload)
		v1.GET("/jobs", videoHandler.ListJobs)
		v1.GET("/jobs/:id", videoHandler.GetJob)

		// Search
		v1.POST("/search", searchHandler.TextSearch)
		v1.GET("/search", searchHandler.TextSearchGet)

		// Frames
		v1.GET("/frames/:id", searchHandler.GetFrame)

		// Stats
		v1.GET("/stats", searchHandler.GetStats)

		// Reset
		v1.POST("/cleanup", searchHandler.Cleanup)
	}

	return r
}
