// Package video decodes video containers and samples frames from them.
package video

import (
	"context"
	"image"
)

// FrameSource yields decoded frames in playback order.
// Next returns io.EOF once the stream is exhausted. A source cannot be
// rewound; the owner must Close it on every exit path.
type FrameSource interface {
	// FPS returns the native frame rate.
	FPS() float64

	// FrameCount returns the container's frame count, or 0 when unknown.
	// It is used for progress reporting only.
	FrameCount() int

	Next() (image.Image, error)
	Close() error
}

// Decoder opens a video file as a FrameSource.
type Decoder interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}
