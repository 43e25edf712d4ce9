package repository

import (
	"context"
	"fmt"

	"github.com/timmy/framescope/internal/config"
)

// NewFrameIndex opens the similarity index named by cfg.Driver.
// Parameters:
//   - ctx: context for connection setup.
//   - cfg: index configuration.
//   - dimensions: embedding length every stored vector must have.
// Returns:
//   - FrameIndex: ready-to-use index.
//   - error: non-nil if the backend cannot be reached or prepared.
func NewFrameIndex(ctx context.Context, cfg *config.IndexConfig, dimensions int) (FrameIndex, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryIndex(dimensions), nil

	case "qdrant":
		idx, err := NewQdrantIndex(&QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: dimensions,
		})
		if err != nil {
			return nil, err
		}
		if err := idx.EnsureCollection(ctx); err != nil {
			idx.Close()
			return nil, err
		}
		return idx, nil

	case "pgvector":
		return NewPgvectorIndex(ctx, &PgvectorConfig{
			URL:             cfg.Pgvector.URL,
			Table:           cfg.Pgvector.Table,
			MaxConns:        cfg.Pgvector.MaxConns,
			VectorDimension: dimensions,
		})

	default:
		return nil, fmt.Errorf("unknown index driver %q", cfg.Driver)
	}
}
