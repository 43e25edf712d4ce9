package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/embedding"
	"github.com/timmy/framescope/internal/frame"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/score"
	"github.com/timmy/framescope/internal/storage"
)

// SearchConfig holds configuration for search service.
type SearchConfig struct {
	DefaultTopK int
	MaxTopK     int
}

// SearchService answers text queries against the frame index and serves
// frame previews.
type SearchService struct {
	index      repository.FrameIndex
	embedder   embedding.Embedder
	calibrator *score.Calibrator
	jobs       *repository.JobRepository
	storage    storage.ObjectStorage
	logger     *logger.Logger

	defaultTopK int
	maxTopK     int
}

// NewSearchService creates a new search service.
// Parameters:
//   - index: frame similarity index.
//   - embedder: text embedder sharing the image vector space.
//   - calibrator: distance to confidence mapping; nil uses the default curve.
//   - jobs: upload job ledger, cleared on reset; may be nil.
//   - objectStorage: snapshot storage when snapshots are offloaded; may be nil.
//   - log: logger instance.
//   - cfg: search configuration settings.
//
// Returns:
//   - *SearchService: initialized search service.
func NewSearchService(
	index repository.FrameIndex,
	embedder embedding.Embedder,
	calibrator *score.Calibrator,
	jobs *repository.JobRepository,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *SearchConfig,
) *SearchService {
	if calibrator == nil {
		calibrator = score.Default()
	}
	defaultTopK, maxTopK := 3, 100
	if cfg != nil {
		if cfg.DefaultTopK > 0 {
			defaultTopK = cfg.DefaultTopK
		}
		if cfg.MaxTopK > 0 {
			maxTopK = cfg.MaxTopK
		}
	}
	if maxTopK < defaultTopK {
		maxTopK = defaultTopK
	}
	return &SearchService{
		index:       index,
		embedder:    embedder,
		calibrator:  calibrator,
		jobs:        jobs,
		storage:     objectStorage,
		logger:      log,
		defaultTopK: defaultTopK,
		maxTopK:     maxTopK,
	}
}

// withLogger attaches the injected logger unless ctx already carries a
// request-scoped one.
func (s *SearchService) withLogger(ctx context.Context) context.Context {
	return logger.EnsureContext(ctx, s.logger)
}

// SearchRequest represents a text search request.
type SearchRequest struct {
	Query   string `json:"query" binding:"required"`
	TopK    int    `json:"top_k"`
	VideoID string `json:"video_id,omitempty"` // optional: restrict to one video
}

// SearchResponse represents the search response.
type SearchResponse struct {
	Results []domain.SearchResult `json:"results"`
	Total   int                   `json:"total"`
	Query   string                `json:"query"`
}

// Search embeds the query, retrieves the nearest frames and calibrates
// their distances into confidence scores.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: search request parameters.
//
// Returns:
//   - *SearchResponse: results ordered by descending score.
//   - error: ErrInvalidQuery, ErrEmbeddingFailure or ErrIndexUnavailable.
func (s *SearchService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	query := normalizeQuery(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidQuery)
	}

	topK, err := s.resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	ctx = logger.SetComponent(s.withLogger(ctx), "search")
	ctx = logger.SetSearchID(ctx, uuid.NewString())
	logger.CtxInfo(ctx, "Performing search: query=%q, top_k=%d, video_id=%q", query, topK, req.VideoID)

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		if !errors.Is(err, domain.ErrEmbeddingFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrEmbeddingFailure, err)
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vec, err = embedding.Normalize(vec, s.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var filter *repository.QueryFilter
	if req.VideoID != "" {
		filter = &repository.QueryFilter{VideoID: req.VideoID}
	}

	matches, err := s.index.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	results := s.rank(matches)
	if len(results) > topK {
		results = results[:topK]
	}

	logger.With(logger.Fields{}).WithCount(len(results)).
		WithDuration(time.Since(start)).
		Info(ctx, "Search completed")

	return &SearchResponse{
		Results: results,
		Total:   len(results),
		Query:   query,
	}, nil
}

// resolveTopK maps 0 to the default and caps large values at the maximum.
// Negative values are rejected.
func (s *SearchService) resolveTopK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, fmt.Errorf("%w: top_k must not be negative, got %d", domain.ErrInvalidQuery, k)
	case k == 0:
		return s.defaultTopK, nil
	case k > s.maxTopK:
		return s.maxTopK, nil
	}
	return k, nil
}

// rank calibrates matches and orders them by score, then distance, then id.
// The index already returns ascending distance; sorting again keeps the
// output ordered even if a custom curve were not monotonic.
func (s *SearchService) rank(matches []repository.Match) []domain.SearchResult {
	results := make([]domain.SearchResult, 0, len(matches))
	for _, m := range matches {
		sc := s.calibrator.Calibrate(m.Distance)
		if math.IsNaN(sc) || math.IsInf(sc, 0) {
			sc = 0
		}
		results = append(results, domain.SearchResult{
			ID:        m.ID,
			VideoID:   m.VideoID,
			Timestamp: m.Timestamp,
			Score:     sc,
			Label:     score.Label(sc),
			Distance:  m.Distance,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		return a.ID < b.ID
	})
	return results
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// FrameSnapshot returns the JPEG preview of one frame.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: frame id "{video_id}_{sequence_index}".
//
// Returns:
//   - []byte: encoded image.
//   - string: its MIME type.
//   - error: ErrFrameNotFound, ErrSnapshotUnavailable or ErrCorruptSnapshot.
func (s *SearchService) FrameSnapshot(ctx context.Context, id string) ([]byte, string, error) {
	if _, _, err := domain.ParseFrameID(id); err != nil {
		return nil, "", err
	}

	ctx = logger.SetComponent(s.withLogger(ctx), "frames")

	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !rec.HasSnapshot() {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrSnapshotUnavailable, id)
	}

	data := rec.Snapshot
	if len(data) == 0 {
		data, err = s.downloadSnapshot(ctx, rec.SnapshotKey)
		if err != nil {
			return nil, "", err
		}
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrSnapshotUnavailable, id)
	}

	// Decode before serving so a damaged snapshot is reported, not streamed.
	_, format, err := frame.DecodeSnapshot(data)
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldFrameID, id).WithError(err).Warn("Stored snapshot is corrupt")
		return nil, "", err
	}
	return data, frame.ContentType(format), nil
}

func (s *SearchService) downloadSnapshot(ctx context.Context, key string) ([]byte, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("%w: snapshot storage not configured", domain.ErrSnapshotUnavailable)
	}
	rc, err := s.storage.Download(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotUnavailable, key)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotUnavailable, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrCorruptSnapshot, key, err)
	}
	return data, nil
}

// Stats summarizes the index.
type Stats struct {
	Frames int `json:"frames"`
}

// Stats returns the number of indexed frames.
func (s *SearchService) Stats(ctx context.Context) (*Stats, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Frames: n}, nil
}

// Reset wipes every indexed frame, the upload ledger and offloaded
// snapshots. It is irreversible.
func (s *SearchService) Reset(ctx context.Context) error {
	ctx = logger.SetComponent(s.withLogger(ctx), "reset")

	if err := s.index.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset index: %w", err)
	}

	if s.jobs != nil {
		if err := s.jobs.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear upload jobs: %w", err)
		}
	}

	if s.storage != nil {
		n, err := s.storage.DeletePrefix(ctx, storage.SnapshotPrefix(""))
		if err != nil {
			return fmt.Errorf("failed to delete snapshots: %w", err)
		}
		logger.With(logger.Fields{}).WithCount(n).Info(ctx, "Deleted offloaded snapshots")
	}

	logger.CtxInfo(ctx, "Index reset")
	return nil
}
