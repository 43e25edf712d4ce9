package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/timmy/framescope/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgvectorConfig configures the PostgreSQL + pgvector backend.
type PgvectorConfig struct {
	URL             string
	Table           string
	MaxConns        int32
	VectorDimension int
}

// PgvectorIndex is a FrameIndex stored in a PostgreSQL table with an HNSW
// cosine index.
type PgvectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// NewPgvectorIndex connects to PostgreSQL and creates the table if needed.
func NewPgvectorIndex(ctx context.Context, cfg *PgvectorConfig) (*PgvectorIndex, error) {
	table := cfg.Table
	if table == "" {
		table = "frames"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	dim := cfg.VectorDimension
	if dim <= 0 {
		dim = defaultVectorDimension
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgvector url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", domain.ErrIndexUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", domain.ErrIndexUnavailable, err)
	}

	idx := &PgvectorIndex{pool: pool, table: table, dim: dim}
	if err := idx.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// EnsureSchema installs the vector extension, the frames table and its
// indexes.
func (p *PgvectorIndex) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             TEXT PRIMARY KEY,
			video_id       TEXT NOT NULL,
			sequence_index BIGINT NOT NULL,
			timestamp_sec  DOUBLE PRECISION NOT NULL,
			embedding      vector(%d) NOT NULL,
			snapshot       BYTEA,
			snapshot_key   TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, p.table, p.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_video_id_idx ON %s (video_id)`, p.table, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, p.table, p.table),
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to prepare schema: %v", domain.ErrIndexUnavailable, err)
		}
	}
	return nil
}

// Upsert writes the whole batch in one transaction.
func (p *PgvectorIndex) Upsert(ctx context.Context, records []*domain.FrameRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if len(rec.Embedding) != p.dim {
			return fmt.Errorf("%w: record %s has %d dimensions, table has %d", domain.ErrInvalidRecord, rec.ID(), len(rec.Embedding), p.dim)
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, video_id, sequence_index, timestamp_sec, embedding, snapshot, snapshot_key)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET video_id       = EXCLUDED.video_id,
    sequence_index = EXCLUDED.sequence_index,
    timestamp_sec  = EXCLUDED.timestamp_sec,
    embedding      = EXCLUDED.embedding,
    snapshot       = EXCLUDED.snapshot,
    snapshot_key   = EXCLUDED.snapshot_key`, p.table)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(query,
			rec.ID(), rec.VideoID, int64(rec.SequenceIndex), rec.Timestamp,
			pgvector.NewVector(rec.Embedding), rec.Snapshot, rec.SnapshotKey)
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert %d frames: %v", domain.ErrIndexUnavailable, len(records), err)
	}
	return nil
}

// searchSQL orders by the bare distance operator so the planner can use the
// HNSW index. The video filter is a separate statement for the same reason.
func searchSQL(table string, filtered bool) string {
	where := ""
	limit := "$2"
	if filtered {
		where = "\nWHERE video_id = $2"
		limit = "$3"
	}
	return fmt.Sprintf(`
SELECT id, video_id, sequence_index, timestamp_sec, embedding <=> $1 AS distance
FROM %s%s
ORDER BY embedding <=> $1
LIMIT %s`, table, where, limit)
}

// Query orders by cosine distance, breaking ties by id. Ties are resolved
// in Go over a slightly larger candidate set.
func (p *PgvectorIndex) Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	if len(vector) != p.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, table has %d", domain.ErrEmbeddingFailure, len(vector), p.dim)
	}

	args := []any{pgvector.NewVector(vector)}
	videoID := filter.videoID()
	if videoID != "" {
		args = append(args, videoID)
	}
	args = append(args, overfetchLimit(k))
	query := searchSQL(p.table, videoID != "")

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search frames: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var (
			m   Match
			seq int64
		)
		if err := rows.Scan(&m.ID, &m.VideoID, &seq, &m.Timestamp, &m.Distance); err != nil {
			return nil, fmt.Errorf("%w: failed to scan frame: %v", domain.ErrIndexUnavailable, err)
		}
		m.SequenceIndex = uint(seq)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read frames: %v", domain.ErrIndexUnavailable, err)
	}

	// An HNSW scan returns approximate order.
	return rankMatches(matches, k), nil
}

func (p *PgvectorIndex) Get(ctx context.Context, id string) (*domain.FrameRecord, error) {
	query := fmt.Sprintf(`
SELECT video_id, sequence_index, timestamp_sec, embedding, snapshot, snapshot_key
FROM %s WHERE id = $1`, p.table)

	var (
		rec domain.FrameRecord
		seq int64
		vec pgvector.Vector
	)
	err := p.pool.QueryRow(ctx, query, id).Scan(&rec.VideoID, &seq, &rec.Timestamp, &vec, &rec.Snapshot, &rec.SnapshotKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFrameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load frame: %v", domain.ErrIndexUnavailable, err)
	}

	rec.SequenceIndex = uint(seq)
	rec.Embedding = vec.Slice()
	return &rec, nil
}

func (p *PgvectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table), ids)
	if err != nil {
		return fmt.Errorf("%w: failed to delete %d frames: %v", domain.ErrIndexUnavailable, len(ids), err)
	}
	return nil
}

func (p *PgvectorIndex) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: failed to count frames: %v", domain.ErrIndexUnavailable, err)
	}
	return int(n), nil
}

// Reset truncates the table.
func (p *PgvectorIndex) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, p.table)); err != nil {
		return fmt.Errorf("%w: failed to truncate frames: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}
