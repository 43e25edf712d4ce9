package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/embedding"
)

// MemoryIndex is a brute-force FrameIndex held in process memory.
type MemoryIndex struct {
	mu         sync.RWMutex
	records    map[string]*domain.FrameRecord
	dimensions int
}

// NewMemoryIndex creates an empty index. A dimension of 0 accepts the
// length of the first record written.
func NewMemoryIndex(dimensions int) *MemoryIndex {
	return &MemoryIndex{
		records:    make(map[string]*domain.FrameRecord),
		dimensions: dimensions,
	}
}

func (m *MemoryIndex) Upsert(ctx context.Context, records []*domain.FrameRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dimensions
	for _, r := range records {
		if dims == 0 {
			dims = len(r.Embedding)
		}
		if len(r.Embedding) != dims {
			return fmt.Errorf("%w: record %s has %d dimensions, index has %d", domain.ErrInvalidRecord, r.ID(), len(r.Embedding), dims)
		}
	}

	m.dimensions = dims
	for _, r := range records {
		cp := *r
		m.records[r.ID()] = &cp
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimensions > 0 && len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", domain.ErrEmbeddingFailure, len(vector), m.dimensions)
	}

	videoID := filter.videoID()
	matches := make([]Match, 0, len(m.records))
	for id, r := range m.records {
		if videoID != "" && r.VideoID != videoID {
			continue
		}
		matches = append(matches, Match{
			ID:            id,
			VideoID:       r.VideoID,
			SequenceIndex: r.SequenceIndex,
			Timestamp:     r.Timestamp,
			Distance:      embedding.CosineDistance(vector, r.Embedding),
		})
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) Get(ctx context.Context, id string) (*domain.FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFrameNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*domain.FrameRecord)
	return nil
}

func (m *MemoryIndex) Close() error {
	return nil
}
