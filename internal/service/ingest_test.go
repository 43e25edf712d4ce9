package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/frame"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/storage"
)

type ingestFixture struct {
	svc      *IngestService
	index    *repository.MemoryIndex
	jobs     *repository.JobRepository
	decoder  *fakeDecoder
	embedder *fakeEmbedder
	store    *storage.MemoryStorage
}

func newIngestFixture(t *testing.T, cfg IngestConfig) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		index:    repository.NewMemoryIndex(testDims),
		jobs:     newTestJobs(t),
		decoder:  &fakeDecoder{fps: 10, total: 25},
		embedder: &fakeEmbedder{},
		store:    storage.NewMemoryStorage(),
	}
	if cfg.FrameRate == 0 {
		cfg.FrameRate = 5
	}
	builder := frame.NewBuilder(f.embedder, frame.Options{Quality: 80})
	f.svc = NewIngestService(f.decoder, builder, f.index, f.jobs, f.store, testLogger(), &cfg)
	return f
}

func (f *ingestFixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.index.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestIngestFileIndexesSampledFrames(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{Workers: 3, BatchSize: 5})

	res, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	// 10 fps sampled at 5/s keeps every 2nd of 25 frames.
	if res.FramesProcessed != 12 {
		t.Errorf("FramesProcessed = %d, want 12", res.FramesProcessed)
	}
	if got := f.count(t); got != 12 {
		t.Errorf("index count = %d, want 12", got)
	}

	rec, err := f.index.Get(ctx, "clip_0")
	if err != nil {
		t.Fatalf("Get clip_0: %v", err)
	}
	if rec.Timestamp != 0.2 {
		t.Errorf("clip_0 timestamp = %v, want 0.2", rec.Timestamp)
	}
	if len(rec.Snapshot) == 0 {
		t.Error("inline snapshot missing")
	}

	last, err := f.index.Get(ctx, "clip_11")
	if err != nil {
		t.Fatalf("Get clip_11: %v", err)
	}
	if last.Timestamp != 2.4 {
		t.Errorf("clip_11 timestamp = %v, want 2.4", last.Timestamp)
	}

	job, err := f.jobs.GetByID(ctx, res.JobID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.FramesProcessed != 12 {
		t.Errorf("job = %s/%d, want completed/12", job.Status, job.FramesProcessed)
	}
	if !f.decoder.allClosed() {
		t.Error("frame source was not closed")
	}
}

func TestIngestAbortsOnFrameFailure(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *ingestFixture)
		wantErr error
	}{
		{
			name:    "embedding failure",
			setup:   func(f *ingestFixture) { f.embedder.failRed = map[uint8]bool{14: true} },
			wantErr: domain.ErrEmbeddingFailure,
		},
		{
			name:    "decode failure",
			setup:   func(f *ingestFixture) { f.decoder.failAt = 17 },
			wantErr: domain.ErrInvalidVideo,
		},
		{
			name:    "unreadable container",
			setup:   func(f *ingestFixture) { f.decoder.openErr = domain.ErrInvalidVideo },
			wantErr: domain.ErrInvalidVideo,
		},
		{
			name:    "unusable frame rate",
			setup:   func(f *ingestFixture) { f.decoder.fps = 0 },
			wantErr: domain.ErrInvalidVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newIngestFixture(t, IngestConfig{Workers: 2, BatchSize: 4})
			tt.setup(f)

			_, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := f.count(t); got != 0 {
				t.Errorf("index count = %d after failed upload, want 0", got)
			}
			if !f.decoder.allClosed() {
				t.Error("frame source was not closed")
			}

			jobs, err := f.jobs.ListRecent(ctx, 10)
			if err != nil {
				t.Fatalf("ListRecent: %v", err)
			}
			if len(jobs) != 1 || jobs[0].Status != domain.JobStatusFailed || jobs[0].Error == "" {
				t.Errorf("jobs = %+v, want one failed job with an error", jobs)
			}
		})
	}
}

func TestIngestRollsBackPartialWrites(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{Workers: 2, BatchSize: 5, OffloadSnapshots: true})
	flaky := &flakyIndex{MemoryIndex: f.index, failOn: 2}
	f.svc.index = flaky

	_, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video"))
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}
	if got := f.count(t); got != 0 {
		t.Errorf("index count = %d after rollback, want 0", got)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Errorf("snapshots left after rollback: %v", keys)
	}
}

func TestIngestReaderRemovesTempFile(t *testing.T) {
	ctx := context.Background()

	for _, fail := range []bool{false, true} {
		tmp := t.TempDir()
		f := newIngestFixture(t, IngestConfig{TempDir: tmp})
		if fail {
			f.embedder.failRed = map[uint8]bool{4: true}
		}

		_, err := f.svc.IngestReader(ctx, &UploadRequest{
			VideoID:  "clip",
			Filename: "holiday.MP4",
			Body:     strings.NewReader("raw video bytes"),
		})
		if fail != (err != nil) {
			t.Fatalf("fail=%v: err = %v", fail, err)
		}

		if len(f.decoder.paths) != 1 {
			t.Fatalf("decoder opened %d files, want 1", len(f.decoder.paths))
		}
		if f.decoder.contents[0] != "raw video bytes" {
			t.Errorf("spooled content = %q", f.decoder.contents[0])
		}
		if !strings.HasSuffix(f.decoder.paths[0], ".mp4") {
			t.Errorf("spool path %q lost the extension", f.decoder.paths[0])
		}

		entries, err := os.ReadDir(tmp)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("fail=%v: temp dir not empty: %v", fail, entries)
		}
	}
}

func TestIngestReaderRejectsEmptyBody(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{TempDir: t.TempDir()})

	_, err := f.svc.IngestReader(context.Background(), &UploadRequest{VideoID: "clip", Body: strings.NewReader("")})
	if !errors.Is(err, domain.ErrInvalidVideo) {
		t.Fatalf("err = %v, want ErrInvalidVideo", err)
	}
	if len(f.decoder.paths) != 0 {
		t.Error("decoder should not run for an empty upload")
	}
}

func TestIngestRejectsDuplicateVideo(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})
	path := writeVideo(t, "video")

	if _, err := f.svc.IngestFile(ctx, "clip", path); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := f.svc.IngestFile(ctx, "clip", path); !errors.Is(err, domain.ErrVideoExists) {
		t.Fatalf("second upload err = %v, want ErrVideoExists", err)
	}
	if got := f.count(t); got != 12 {
		t.Errorf("index count = %d, want 12", got)
	}
}

func TestIngestRejectsConcurrentUploadOfSameVideo(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})

	release, err := f.svc.reserve(ctx, "clip")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); !errors.Is(err, domain.ErrVideoExists) {
		t.Fatalf("err = %v, want ErrVideoExists", err)
	}
	release()

	if _, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestIngestRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{})
	f.embedder.failRed = map[uint8]bool{2: true}

	if _, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); err == nil {
		t.Fatal("expected first upload to fail")
	}

	f.embedder.failRed = nil
	res, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.FramesProcessed != 12 {
		t.Errorf("FramesProcessed = %d, want 12", res.FramesProcessed)
	}
}

func TestIngestValidatesVideoID(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	path := writeVideo(t, "video")

	for _, id := range []string{"", "   ", "a/b", `a\b`} {
		if _, err := f.svc.IngestFile(context.Background(), id, path); !errors.Is(err, domain.ErrInvalidRecord) {
			t.Errorf("IngestFile(%q) err = %v, want ErrInvalidRecord", id, err)
		}
	}
	if len(f.decoder.paths) != 0 {
		t.Error("decoder should not run for an invalid id")
	}
}

func TestIngestShortVideoIndexesNothing(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	f.decoder.total = 1

	res, err := f.svc.IngestFile(context.Background(), "clip", writeVideo(t, "video"))
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if res.FramesProcessed != 0 || f.count(t) != 0 {
		t.Errorf("frames = %d, count = %d, want 0/0", res.FramesProcessed, f.count(t))
	}
}

func TestIngestOffloadsSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture(t, IngestConfig{OffloadSnapshots: true})

	if _, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video")); err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	keys := f.store.Keys()
	if len(keys) != 12 {
		t.Fatalf("stored %d snapshots, want 12", len(keys))
	}

	rec, err := f.index.Get(ctx, "clip_3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Snapshot) != 0 || rec.SnapshotKey != storage.SnapshotKey("clip", 3) {
		t.Errorf("record snapshot = %d bytes, key %q", len(rec.Snapshot), rec.SnapshotKey)
	}
}

func TestIngestCanceledContext(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.IngestFile(ctx, "clip", writeVideo(t, "video"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := f.count(t); got != 0 {
		t.Errorf("index count = %d, want 0", got)
	}
}
