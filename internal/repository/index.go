package repository

import (
	"context"
	"sort"

	"github.com/timmy/framescope/internal/domain"
)

// FrameIndex stores frame embeddings and answers nearest-neighbour queries
// by cosine distance.
type FrameIndex interface {
	// Upsert writes a batch of records. Records with an existing id replace it.
	Upsert(ctx context.Context, records []*domain.FrameRecord) error

	// Query returns up to k matches ordered by ascending distance, ties broken
	// by ascending id. An empty index yields an empty slice.
	Query(ctx context.Context, vector []float32, k int, filter *QueryFilter) ([]Match, error)

	// Get returns the stored record, or domain.ErrFrameNotFound.
	Get(ctx context.Context, id string) (*domain.FrameRecord, error)

	// Delete removes records by id. Unknown ids are ignored. Only used to
	// roll back a failed upload.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset irreversibly removes every record.
	Reset(ctx context.Context) error

	Close() error
}

// QueryFilter narrows a query. A nil filter searches every video.
type QueryFilter struct {
	VideoID string
}

func (f *QueryFilter) videoID() string {
	if f == nil {
		return ""
	}
	return f.VideoID
}

// Match is one query hit.
type Match struct {
	ID            string
	VideoID       string
	SequenceIndex uint
	Timestamp     float64
	Distance      float64 // 1 - cosine similarity, in [0, 2]
}

// sortMatches orders matches by distance, then id.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}

// tieOverfetch is how many extra candidates approximate backends return so
// that ties straddling the k-th slot still resolve by id.
const tieOverfetch = 8

func overfetchLimit(k int) int {
	return k + tieOverfetch
}

// rankMatches sorts matches and keeps the first k.
func rankMatches(matches []Match, k int) []Match {
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
