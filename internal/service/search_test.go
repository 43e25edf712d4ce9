package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/frame"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/score"
	"github.com/timmy/framescope/internal/storage"
)

// unitAt returns a unit vector whose cosine similarity with [1,0,0,0] is sim.
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim)), 0, 0}
}

func testSnapshot(t *testing.T) []byte {
	t.Helper()
	data, err := frame.EncodeSnapshot(image.NewRGBA(image.Rect(0, 0, 4, 4)), 80)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	return data
}

type searchFixture struct {
	svc      *SearchService
	index    *repository.MemoryIndex
	jobs     *repository.JobRepository
	store    *storage.MemoryStorage
	embedder *fakeEmbedder
}

func newSearchFixture(t *testing.T, cfg *SearchConfig) *searchFixture {
	t.Helper()
	f := &searchFixture{
		index:    repository.NewMemoryIndex(testDims),
		jobs:     newTestJobs(t),
		store:    storage.NewMemoryStorage(),
		embedder: &fakeEmbedder{},
	}
	f.svc = NewSearchService(f.index, f.embedder, score.Default(), f.jobs, f.store, testLogger(), cfg)
	return f
}

func (f *searchFixture) add(t *testing.T, videoID string, seq uint, sim float64, snapshot []byte) {
	t.Helper()
	rec, err := domain.NewFrameRecord(videoID, seq, float64(seq)/3, unitAt(sim), snapshot)
	if err != nil {
		t.Fatalf("NewFrameRecord: %v", err)
	}
	if err := f.index.Upsert(context.Background(), []*domain.FrameRecord{rec}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	f := newSearchFixture(t, nil)

	resp, err := f.svc.Search(context.Background(), &SearchRequest{Query: "a dog"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Errorf("resp = %+v, want empty non-nil results", resp)
	}
}

func TestSearchRanksAndCalibrates(t *testing.T) {
	f := newSearchFixture(t, nil)
	f.add(t, "clip", 0, 0.10, nil)
	f.add(t, "clip", 1, 0.90, nil)
	f.add(t, "clip", 2, 0.28, nil)
	f.add(t, "clip", 3, 0.33, nil)

	resp, err := f.svc.Search(context.Background(), &SearchRequest{Query: "  a   dog ", TopK: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Query != "a dog" {
		t.Errorf("Query = %q, want normalized %q", resp.Query, "a dog")
	}

	want := []struct {
		id    string
		score float64
		label string
	}{
		{"clip_1", 1.00, score.LabelVeryConfident},
		{"clip_3", 0.72, score.LabelConfident},
		{"clip_2", 0.52, score.LabelPossible},
		{"clip_0", 0.10, score.LabelUnlikely},
	}
	if len(resp.Results) != len(want) {
		t.Fatalf("got %d results, want %d", len(resp.Results), len(want))
	}
	for i, w := range want {
		got := resp.Results[i]
		if got.ID != w.id {
			t.Errorf("result %d id = %s, want %s", i, got.ID, w.id)
		}
		if math.Abs(got.Score-w.score) > 1e-4 {
			t.Errorf("%s score = %.5f, want %.2f", got.ID, got.Score, w.score)
		}
		if got.Label != w.label {
			t.Errorf("%s label = %s, want %s", got.ID, got.Label, w.label)
		}
		if got.VideoID != "clip" {
			t.Errorf("%s video = %s", got.ID, got.VideoID)
		}
	}
}

func TestSearchTopK(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *SearchConfig
		topK    int
		want    int
		wantErr bool
	}{
		{"default", nil, 0, 3, false},
		{"negative rejected", nil, -4, 0, true},
		{"explicit", nil, 5, 5, false},
		{"capped", &SearchConfig{DefaultTopK: 2, MaxTopK: 4}, 50, 4, false},
		{"configured default", &SearchConfig{DefaultTopK: 2, MaxTopK: 4}, 0, 2, false},
		{"more than stored", nil, 20, 8, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSearchFixture(t, tt.cfg)
			for i := uint(0); i < 8; i++ {
				f.add(t, "clip", i, 0.1*float64(i), nil)
			}

			resp, err := f.svc.Search(context.Background(), &SearchRequest{Query: "q", TopK: tt.topK})
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidQuery) {
					t.Errorf("err = %v, want ErrInvalidQuery", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(resp.Results) != tt.want {
				t.Errorf("got %d results, want %d", len(resp.Results), tt.want)
			}
			for i := 1; i < len(resp.Results); i++ {
				if resp.Results[i].Score > resp.Results[i-1].Score {
					t.Errorf("results not ordered by score at %d", i)
				}
			}
		})
	}
}

func TestSearchFiltersByVideo(t *testing.T) {
	f := newSearchFixture(t, nil)
	f.add(t, "a", 0, 0.9, nil)
	f.add(t, "b", 0, 0.5, nil)
	f.add(t, "b", 1, 0.2, nil)

	resp, err := f.svc.Search(context.Background(), &SearchRequest{Query: "q", VideoID: "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.VideoID != "b" {
			t.Errorf("result %s from video %s", r.ID, r.VideoID)
		}
	}
}

func TestSearchErrors(t *testing.T) {
	t.Run("blank query", func(t *testing.T) {
		f := newSearchFixture(t, nil)
		_, err := f.svc.Search(context.Background(), &SearchRequest{Query: " \t\n"})
		if !errors.Is(err, domain.ErrInvalidQuery) {
			t.Errorf("err = %v, want ErrInvalidQuery", err)
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		f := newSearchFixture(t, nil)
		f.embedder.textErr = errors.New("upstream 500")
		_, err := f.svc.Search(context.Background(), &SearchRequest{Query: "q"})
		if !errors.Is(err, domain.ErrEmbeddingFailure) {
			t.Errorf("err = %v, want ErrEmbeddingFailure", err)
		}
	})

	t.Run("wrong dimensions", func(t *testing.T) {
		f := newSearchFixture(t, nil)
		f.embedder.text = map[string][]float32{"q": {1, 0}}
		_, err := f.svc.Search(context.Background(), &SearchRequest{Query: "q"})
		if !errors.Is(err, domain.ErrEmbeddingFailure) {
			t.Errorf("err = %v, want ErrEmbeddingFailure", err)
		}
	})
}

func TestFrameSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t, nil)
	snap := testSnapshot(t)

	f.add(t, "clip", 0, 0.5, snap)
	f.add(t, "clip", 1, 0.5, nil)
	f.add(t, "clip", 2, 0.5, []byte("not an image"))

	offloaded, err := domain.NewFrameRecord("clip", 3, 1, unitAt(0.5), snap)
	if err != nil {
		t.Fatal(err)
	}
	key := storage.SnapshotKey("clip", 3)
	if err := f.store.Upload(ctx, key, bytes.NewReader(snap), int64(len(snap)), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	missing, _ := domain.NewFrameRecord("clip", 4, 1, unitAt(0.5), nil)
	if err := f.index.Upsert(ctx, []*domain.FrameRecord{
		offloaded.WithSnapshotKey(key),
		missing.WithSnapshotKey(storage.SnapshotKey("clip", 4)),
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id      string
		wantErr error
	}{
		{"clip_0", nil},
		{"clip_3", nil},
		{"clip_1", domain.ErrSnapshotUnavailable},
		{"clip_4", domain.ErrSnapshotUnavailable},
		{"clip_2", domain.ErrCorruptSnapshot},
		{"clip_9", domain.ErrFrameNotFound},
		{"nosequence", domain.ErrFrameNotFound},
		{"clip_x", domain.ErrFrameNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			data, contentType, err := f.svc.FrameSnapshot(ctx, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FrameSnapshot: %v", err)
			}
			if contentType != "image/jpeg" {
				t.Errorf("content type = %s", contentType)
			}
			if !bytes.Equal(data, snap) {
				t.Error("snapshot bytes differ from stored")
			}
		})
	}
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newSearchFixture(t, nil)
	ingest := newIngestFixture(t, IngestConfig{OffloadSnapshots: true})
	ingest.svc.index = f.index
	ingest.svc.jobs = f.jobs
	ingest.svc.storage = f.store

	if _, err := ingest.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	stats, err := f.svc.Stats(ctx)
	if err != nil || stats.Frames != 12 {
		t.Fatalf("Stats = %+v, %v; want 12 frames", stats, err)
	}

	if err := f.svc.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if stats, _ := f.svc.Stats(ctx); stats.Frames != 0 {
		t.Errorf("frames after reset = %d", stats.Frames)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Errorf("snapshots after reset: %v", keys)
	}
	if jobs, _ := f.jobs.ListRecent(ctx, 10); len(jobs) != 0 {
		t.Errorf("jobs after reset: %d", len(jobs))
	}

	// The id is free again once the ledger is cleared.
	if _, err := ingest.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); err != nil {
		t.Fatalf("re-upload after reset: %v", err)
	}
}
