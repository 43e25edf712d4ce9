package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/frame"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/storage"
	"github.com/timmy/framescope/internal/video"
	"golang.org/x/sync/errgroup"
)

// IngestConfig holds configuration for the ingest service
type IngestConfig struct {
	FrameRate        float64 // sampled frames per second of video
	Workers          int     // concurrent frame builds per upload
	BatchSize        int     // records per index upsert
	TempDir          string  // spool directory for uploads; "" uses os.TempDir
	OffloadSnapshots bool    // keep snapshots in object storage instead of the index
}

// IngestService runs the upload pipeline: decode, sample, embed, index.
type IngestService struct {
	decoder video.Decoder
	builder *frame.Builder
	index   repository.FrameIndex
	jobs    *repository.JobRepository
	storage storage.ObjectStorage
	logger  *logger.Logger
	cfg     IngestConfig

	mu     sync.Mutex
	active map[string]struct{}
}

// NewIngestService creates a new ingest service.
// Parameters:
//   - decoder: opens uploaded videos as frame sources.
//   - builder: turns sampled frames into frame records.
//   - index: frame similarity index written to.
//   - jobs: upload job ledger; may be nil.
//   - objectStorage: snapshot storage, required when OffloadSnapshots is set.
//   - log: logger instance.
//   - cfg: ingest configuration.
//
// Returns:
//   - *IngestService: initialized ingest service.
func NewIngestService(
	decoder video.Decoder,
	builder *frame.Builder,
	index repository.FrameIndex,
	jobs *repository.JobRepository,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *IngestConfig,
) *IngestService {
	c := *cfg
	if c.FrameRate <= 0 {
		c.FrameRate = 3
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 64
	}
	if objectStorage == nil {
		c.OffloadSnapshots = false
	}
	return &IngestService{
		decoder: decoder,
		builder: builder,
		index:   index,
		jobs:    jobs,
		storage: objectStorage,
		logger:  log,
		cfg:     c,
		active:  make(map[string]struct{}),
	}
}

// withLogger attaches the injected logger unless ctx already carries a
// request-scoped one.
func (s *IngestService) withLogger(ctx context.Context) context.Context {
	return logger.EnsureContext(ctx, s.logger)
}

// UploadRequest is a video to ingest from a stream.
type UploadRequest struct {
	VideoID  string
	Filename string
	Body     io.Reader
}

// UploadResult summarizes a finished upload.
type UploadResult struct {
	VideoID         string        `json:"video_id"`
	JobID           string        `json:"job_id"`
	FramesProcessed int           `json:"frames_processed"`
	Duration        time.Duration `json:"-"`
}

// IngestReader spools req.Body to a temporary file and ingests it. The
// temporary file is removed on every path.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: upload request.
//
// Returns:
//   - *UploadResult: frames written for the video.
//   - error: ErrVideoExists, ErrInvalidVideo, ErrEmbeddingFailure,
//     ErrSnapshotEncode or ErrIndexUnavailable.
func (s *IngestService) IngestReader(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	return s.run(ctx, req.VideoID, req.Filename, func(ctx context.Context) (string, func(), error) {
		return s.spool(ctx, req.Filename, req.Body)
	})
}

// IngestFile ingests a video already on disk. The file is left in place.
func (s *IngestService) IngestFile(ctx context.Context, videoID, path string) (*UploadResult, error) {
	return s.run(ctx, videoID, filepath.Base(path), func(ctx context.Context) (string, func(), error) {
		return path, func() {}, nil
	})
}

type openFunc func(ctx context.Context) (path string, cleanup func(), err error)

func (s *IngestService) run(ctx context.Context, videoID, filename string, open openFunc) (*UploadResult, error) {
	videoID = strings.TrimSpace(videoID)
	if err := validateVideoID(videoID); err != nil {
		return nil, err
	}

	release, err := s.reserve(ctx, videoID)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	jobID := uuid.NewString()
	ctx = logger.SetComponent(s.withLogger(ctx), "ingest")
	ctx = logger.SetJobID(ctx, jobID)
	ctx = logger.SetVideoID(ctx, videoID)

	if err := s.startJob(ctx, jobID, videoID, filename); err != nil {
		return nil, err
	}

	frames, err := s.ingest(ctx, videoID, open)
	if err != nil {
		s.finishJob(ctx, jobID, 0, err)
		logger.With(logger.Fields{logger.FieldStatus: string(domain.JobStatusFailed)}).
			WithDuration(time.Since(start)).
			Error(ctx, "Upload failed: %v", err)
		return nil, err
	}
	s.finishJob(ctx, jobID, frames, nil)

	result := &UploadResult{
		VideoID:         videoID,
		JobID:           jobID,
		FramesProcessed: frames,
		Duration:        time.Since(start),
	}
	logger.With(logger.Fields{
		logger.FieldFrames: frames,
		logger.FieldStatus: string(domain.JobStatusCompleted),
	}).WithDuration(result.Duration).Info(ctx, "Upload completed")

	return result, nil
}

func validateVideoID(videoID string) error {
	if videoID == "" {
		return fmt.Errorf("%w: video id is required", domain.ErrInvalidRecord)
	}
	if strings.ContainsAny(videoID, "/\\") {
		return fmt.Errorf("%w: video id %q must not contain path separators", domain.ErrInvalidRecord, videoID)
	}
	return nil
}

// reserve claims videoID for this process and checks the ledger for a
// completed or running upload of the same id.
func (s *IngestService) reserve(ctx context.Context, videoID string) (func(), error) {
	s.mu.Lock()
	if _, busy := s.active[videoID]; busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is being uploaded", domain.ErrVideoExists, videoID)
	}
	s.active[videoID] = struct{}{}
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.active, videoID)
		s.mu.Unlock()
	}

	if s.jobs != nil {
		inUse, err := s.jobs.VideoInUse(ctx, videoID)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to check upload jobs: %w", err)
		}
		if inUse {
			release()
			return nil, fmt.Errorf("%w: %s", domain.ErrVideoExists, videoID)
		}
	}

	return release, nil
}

func (s *IngestService) startJob(ctx context.Context, jobID, videoID, filename string) error {
	if s.jobs == nil {
		return nil
	}
	job := &domain.UploadJob{
		ID:       jobID,
		VideoID:  videoID,
		Filename: filename,
		Status:   domain.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create upload job: %w", err)
	}
	if err := s.jobs.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("failed to start upload job: %w", err)
	}
	return nil
}

// finishJob records the outcome. Ledger errors are logged only; the index
// state is already final.
func (s *IngestService) finishJob(ctx context.Context, jobID string, frames int, cause error) {
	if s.jobs == nil {
		return
	}
	// Record the outcome even when the request context was canceled.
	ctx = context.WithoutCancel(ctx)

	var err error
	if cause != nil {
		err = s.jobs.MarkFailed(ctx, jobID, cause)
	} else {
		err = s.jobs.MarkCompleted(ctx, jobID, frames)
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to update upload job")
	}
}

// spool copies body to a temporary file.
func (s *IngestService) spool(ctx context.Context, filename string, body io.Reader) (string, func(), error) {
	if body == nil {
		return "", nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidVideo)
	}

	f, err := os.CreateTemp(s.cfg.TempDir, "framescope-*"+safeExt(filename))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.FromContext(ctx).WithError(err).WithField("path", path).Warn("Failed to remove temp file")
		}
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if n == 0 {
		cleanup()
		return "", nil, fmt.Errorf("%w: empty upload", domain.ErrInvalidVideo)
	}

	logger.With(logger.Fields{"bytes": n}).Debug(ctx, "Upload spooled to %s", path)
	return path, cleanup, nil
}

func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\*`) {
		return ""
	}
	return ext
}

// ingest decodes, samples and builds every frame, then writes them. Either
// all records become searchable or none do.
func (s *IngestService) ingest(ctx context.Context, videoID string, open openFunc) (int, error) {
	path, cleanup, err := open(ctx)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	records, err := s.buildRecords(ctx, videoID, path)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		logger.CtxWarn(ctx, "Video is shorter than one sampling interval; nothing indexed")
		return 0, nil
	}

	if err := s.write(ctx, videoID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *IngestService) buildRecords(ctx context.Context, videoID, path string) ([]*domain.FrameRecord, error) {
	src, err := s.decoder.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to close video decoder")
		}
	}()

	sampler, err := video.NewSampler(src, s.cfg.FrameRate)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"fps":      src.FPS(),
		"interval": sampler.FrameInterval(),
		"expected": sampler.ExpectedSamples(),
		"workers":  s.cfg.Workers,
	}).Info("Sampling video")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	var slots []**domain.FrameRecord
	for sampler.Next() {
		if gctx.Err() != nil {
			break
		}
		sampled := sampler.Frame()
		slot := new(*domain.FrameRecord)
		slots = append(slots, slot)

		g.Go(func() error {
			rec, err := s.builder.Build(gctx, sampled, videoID)
			if err != nil {
				return err
			}
			*slot = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := sampler.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]*domain.FrameRecord, len(slots))
	for i, slot := range slots {
		records[i] = *slot
	}
	return records, nil
}

// write offloads snapshots if configured and upserts in batches, undoing
// everything written so far when any step fails.
func (s *IngestService) write(ctx context.Context, videoID string, records []*domain.FrameRecord) error {
	var (
		uploaded []string
		written  []string
	)

	rollback := func(cause error) error {
		// Undo even if the request was canceled.
		rctx := context.WithoutCancel(ctx)
		if len(written) > 0 {
			if err := s.index.Delete(rctx, written); err != nil {
				logger.FromContext(ctx).WithError(err).WithField(logger.FieldCount, len(written)).Error("Failed to rollback index upsert")
			}
		}
		for _, key := range uploaded {
			if err := s.storage.Delete(rctx, key); err != nil {
				logger.FromContext(ctx).WithError(err).WithField("storage_key", key).Error("Failed to rollback snapshot upload")
			}
		}
		return cause
	}

	if s.cfg.OffloadSnapshots {
		offloaded := make([]*domain.FrameRecord, len(records))
		for i, rec := range records {
			key := storage.SnapshotKey(videoID, rec.SequenceIndex)
			err := s.storage.Upload(ctx, key, bytes.NewReader(rec.Snapshot), int64(len(rec.Snapshot)), "image/jpeg")
			if err != nil {
				return rollback(fmt.Errorf("%w: failed to upload snapshot: %v", domain.ErrIndexUnavailable, err))
			}
			uploaded = append(uploaded, key)
			offloaded[i] = rec.WithSnapshotKey(key)
		}
		records = offloaded
	}

	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		batch := records[start:end]

		if err := s.index.Upsert(ctx, batch); err != nil {
			// A failed batch may be partially applied.
			for _, rec := range batch {
				written = append(written, rec.ID())
			}
			return rollback(fmt.Errorf("failed to write frames %d-%d: %w", start, end-1, err))
		}
		for _, rec := range batch {
			written = append(written, rec.ID())
		}
	}

	return nil
}
