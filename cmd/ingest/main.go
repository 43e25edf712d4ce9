package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

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
	// Parse command line flags
	videoPath := flag.String("video", "", "Path of the video to index")
	videoID := flag.String("id", "", "Video ID (defaults to the file name)")
	configPath := flag.String("config", "", "Path to config file")
	reset := flag.Bool("reset", false, "Irreversibly wipe the index before ingesting")
	frameRate := flag.Float64("rate", 0, "Sampled frames per second (overrides sampler.frame_rate)")
	flag.Parse()

	if *videoPath == "" && !*reset {
		fmt.Fprintln(os.Stderr, "usage: ingest -video PATH [-id ID] [-config PATH] [-rate N] [-reset]")
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *frameRate > 0 {
		cfg.Sampler.FrameRate = *frameRate
	}

	appLogger := logger.New(cfg.LoggerConfig("framescope-ingest"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	if cfg.Index.Driver == "memory" {
		appLogger.Warn("The in-memory index does not outlive this process; configure qdrant or pgvector to keep results")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize job ledger
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	jobs := repository.NewJobRepository(db)

	// Initialize similarity index
	index, err := repository.NewFrameIndex(ctx, &cfg.Index, cfg.Embedding.Dimensions)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize frame index")
	}
	defer index.Close()

	// Initialize snapshot storage
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

	embedder, err := embedding.New(cfg.EmbedderConfig())
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize embedder")
	}

	calibrator, err := cfg.Calibrator()
	if err != nil {
		appLogger.WithError(err).Fatal("Invalid calibration curve")
	}

	if *reset {
		searchService := service.NewSearchService(index, embedder, calibrator, jobs, objectStorage, appLogger, nil)
		if err := searchService.Reset(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to reset index")
		}
		appLogger.Warn("Index reset")
		if *videoPath == "" {
			return
		}
	}

	if err := cfg.Embedding.ValidateWithAPIKey(); err != nil {
		appLogger.WithError(err).Fatal("Invalid embedding configuration")
	}

	decoder, err := video.NewFFmpegDecoder(cfg.Video.FFmpegPath, cfg.Video.FFprobePath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize video decoder")
	}

	// Probe up front so an unreadable file fails before a job is recorded
	info, err := decoder.Probe(ctx, *videoPath)
	if err != nil {
		appLogger.WithError(err).WithField("path", *videoPath).Fatal("Failed to probe video")
	}

	id := *videoID
	if id == "" {
		id = filepath.Base(*videoPath)
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldVideoID: id,
		"path":              *videoPath,
		"width":             info.Width,
		"height":            info.Height,
		"fps":               info.FPS,
		"source_frames":     info.FrameCount,
		"frame_rate":        cfg.Sampler.FrameRate,
	}).Info("Starting ingestion")

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

	result, err := ingestService.IngestFile(ctx, id, *videoPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Ingestion failed")
	}

	appLogger.WithFields(logger.Fields{
		logger.FieldVideoID:    result.VideoID,
		logger.FieldJobID:      result.JobID,
		logger.FieldFrames:     result.FramesProcessed,
		logger.FieldDurationMs: result.Duration.Milliseconds(),
	}).Info("Ingestion completed")
}
