package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/timmy/framescope/internal/config"
	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/logger"
	"github.com/timmy/framescope/internal/repository"
	"github.com/timmy/framescope/internal/video"
)

const testDims = 4

// fakeEmbedder maps a frame to [1, r/255, 0, 0] where r is the red value of
// its top-left pixel, so every sampled frame gets a distinct vector.
type fakeEmbedder struct {
	failRed map[uint8]bool
	text    map[string][]float32
	textErr error
	calls   atomic.Int32
}

func (e *fakeEmbedder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	red := uint8(r >> 8)
	if e.failRed[red] {
		return nil, fmt.Errorf("model rejected frame %d", red)
	}
	return []float32{1, float32(red) / 255, 0, 0}, nil
}

func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if e.textErr != nil {
		return nil, e.textErr
	}
	if v, ok := e.text[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

func (e *fakeEmbedder) Dimensions() int { return testDims }
func (e *fakeEmbedder) Model() string   { return "fake" }

// fakeSource yields total frames whose red channel is the 1-based frame index.
type fakeSource struct {
	fps    float64
	total  int
	failAt int

	emitted int
	closed  atomic.Bool
}

func (f *fakeSource) FPS() float64    { return f.fps }
func (f *fakeSource) FrameCount() int { return f.total }

func (f *fakeSource) Next() (image.Image, error) {
	if f.failAt > 0 && f.emitted+1 == f.failAt {
		return nil, errors.New("corrupt packet")
	}
	if f.emitted >= f.total {
		return nil, io.EOF
	}
	f.emitted++
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(f.emitted), G: 40, B: 80, A: 0xff})
		}
	}
	return img, nil
}

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeDecoder hands out a fresh fakeSource per Open and remembers what it saw.
type fakeDecoder struct {
	fps     float64
	total   int
	failAt  int
	openErr error

	mu       sync.Mutex
	sources  []*fakeSource
	paths    []string
	contents []string
}

func (d *fakeDecoder) Open(ctx context.Context, path string) (video.FrameSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
	d.contents = append(d.contents, string(data))

	if d.openErr != nil {
		return nil, d.openErr
	}
	src := &fakeSource{fps: d.fps, total: d.total, failAt: d.failAt}
	d.sources = append(d.sources, src)
	return src, nil
}

func (d *fakeDecoder) allClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sources {
		if !s.closed.Load() {
			return false
		}
	}
	return true
}

// flakyIndex fails the failOn-th Upsert call (1-based) after applying half the batch.
type flakyIndex struct {
	*repository.MemoryIndex
	failOn int
	calls  int
}

func (f *flakyIndex) Upsert(ctx context.Context, records []*domain.FrameRecord) error {
	f.calls++
	if f.calls == f.failOn {
		if err := f.MemoryIndex.Upsert(ctx, records[:len(records)/2]); err != nil {
			return err
		}
		return fmt.Errorf("%w: connection reset", domain.ErrIndexUnavailable)
	}
	return f.MemoryIndex.Upsert(ctx, records)
}

func newTestJobs(t *testing.T) *repository.JobRepository {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "jobs.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewJobRepository(db)
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func writeVideo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}
	return path
}
