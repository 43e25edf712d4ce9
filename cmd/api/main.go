package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/framescope/internal/api"
	"github.com/timmy/framescope/internal/api/middleware"
	"github.com/timmy/framescope/internal/config"
	"github.com/timmy/framescope/internal/embedding"
	"github.com/timmy/framescope/internal/frame"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/service"
	"github.com/timmy/framescope/internal/storage"
	"github.com/timmy/framescope/internal/video"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to CONFIG_PATH or ./configs/config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	appLogger := logger.New(cfg.LoggerConfig("framescope-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	if err := cfg.Embedding.ValidateWithAPIKey(); err != nil {
		appLogger.WithError(err).Fatal("Invalid embedding configuration")
	}

	ctx := context.Background()

	// Initialize job ledger
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	jobs := repository.NewJobRepository(db)

	// Jobs left running by a previous process will never finish
	if n, err := jobs.FailInterrupted(ctx); err != nil {
		appLogger.WithError(err).Warn("Failed to release interrupted upload jobs")
	} else if n > 0 {
		appLogger.WithField(logger.FieldCount, n).Warn("Marked interrupted upload jobs as failed")
	}

	// Initialize similarity index
	index, err := repository.NewFrameIndex(ctx, &cfg.Index, cfg.Embedding.Dimensions)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize frame index")
	}
	defer index.Close()

	if cfg.Index.Driver == "memory" {
		appLogger.Warn("Using the in-memory frame index; frames are lost on restart")
	}

	// Initialize snapshot storage, only needed when snapshots are offloaded
	var objectStorage storage.ObjectStorage
	if cfg.Snapshot.Offload {
		objectStorage, err = storage.NewStorage(ctx, cfg.S3Config())
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if s3, ok := objectStorage.(*storage.S3Storage); ok {
			if err := s3.EnsureBucket(ctx); err != nil {
				appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
			}
		}
	}

	// Initialize embedder and decoder
	embedder, err := embedding.New(cfg.EmbedderConfig())
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize embedder")
	}

	decoder, err := video.NewFFmpegDecoder(cfg.Video.FFmpegPath, cfg.Video.FFprobePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize video decoder")
	}

	calibrator, err := cfg.Calibrator()
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid calibration curve")
	}

	// Initialize services
	builder := frame.NewBuilder(embedder, frame.Options{
		EmbedMaxEdge:    cfg.Snapshot.EmbedMaxEdge,
		SnapshotMaxEdge: cfg.Snapshot.MaxEdge,
		Quality:         cfg.Snapshot.Quality,
	})

	ingestService := service.NewIngestService(
		decoder,
		builder,
		index,
		jobs,
		objectStorage,
		appLogger,
		&service.IngestConfig{
			FrameRate:        cfg.Sampler.FrameRate,
			Workers:          cfg.Ingest.Workers,
			BatchSize:        cfg.Ingest.BatchSize,
			TempDir:          cfg.Ingest.TempDir,
			OffloadSnapshots: cfg.Snapshot.Offload,
		},
	)

	searchService := service.NewSearchService(
		index,
		embedder,
		calibrator,
		jobs,
		objectStorage,
		appLogger,
		&service.SearchConfig{
			DefaultTopK: cfg.Search.DefaultTopK,
			MaxTopK:     cfg.Search.MaxTopK,
		},
	)

	// Setup router
	router := api.SetupRouter(searchService, ingestService, jobs, api.RouterConfig{
		Mode:           cfg.Server.Mode,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Logger: appLogger,
	})

	// Create HTTP server. Uploads are processed inline, so the write
	// timeout must cover a whole video.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port":       cfg.Server.Port,
			"mode":       cfg.Server.Mode,
			"index":      cfg.Index.Driver,
			"model":      embedder.Model(),
			"frame_rate": cfg.Sampler.FrameRate,
			"offload":    cfg.Snapshot.Offload,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
