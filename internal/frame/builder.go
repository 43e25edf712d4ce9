// Package frame turns sampled video frames into indexable frame records.
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/timmy/framescope/internal/domain"
	"github.com/timmy/framescope/internal/embedding"
	"github.com/timmy/framescope/internal/video"
	"golang.org/x/image/draw"
)

// Options control image preparation. Zero edges keep the original size.
type Options struct {
	EmbedMaxEdge    int
	SnapshotMaxEdge int
	Quality         int
}

// Builder embeds sampled frames and attaches a JPEG snapshot.
type Builder struct {
	embedder embedding.Embedder
	opts     Options
}

// NewBuilder creates a frame record builder.
func NewBuilder(embedder embedding.Embedder, opts Options) *Builder {
	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	return &Builder{embedder: embedder, opts: opts}
}

// Build embeds one sampled frame. The embedder is the only I/O performed.
func (b *Builder) Build(ctx context.Context, sampled video.SampledFrame, videoID string) (*domain.FrameRecord, error) {
	if sampled.Image == nil {
		return nil, fmt.Errorf("%w: frame %d has no image", domain.ErrInvalidVideo, sampled.Sequence)
	}

	rgba := ToRGBA(sampled.Image)

	vec, err := b.embedder.EmbedImage(ctx, Fit(rgba, b.opts.EmbedMaxEdge))
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", sampled.Sequence, wrapEmbedding(err))
	}
	vec, err = embedding.Normalize(vec, b.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", sampled.Sequence, err)
	}

	snapshot, err := EncodeSnapshot(Fit(rgba, b.opts.SnapshotMaxEdge), b.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", sampled.Sequence, err)
	}

	return domain.NewFrameRecord(videoID, sampled.Sequence, sampled.Timestamp, vec, snapshot)
}

func wrapEmbedding(err error) error {
	if errors.Is(err, domain.ErrEmbeddingFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEmbeddingFailure, err)
}

// ToRGBA returns img as *image.RGBA, converting when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Fit scales img down so its longest edge is at most maxEdge, keeping the
// aspect ratio. Images already small enough are returned as is.
func Fit(img *image.RGBA, maxEdge int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}

	nw, nh := maxEdge, maxEdge
	if w >= h {
		nh = max(1, h*maxEdge/w)
	} else {
		nw = max(1, w*maxEdge/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
