package video

import (
	"errors"
	"image"
	"image/color"
	"io"
)

// fakeSource yields total solid-color frames, failing at failAt when set.
type fakeSource struct {
	fps    float64
	total  int
	failAt int
	err    error

	emitted int
	closed  bool
}

func (f *fakeSource) FPS() float64    { return f.fps }
func (f *fakeSource) FrameCount() int { return f.total }

func (f *fakeSource) Next() (image.Image, error) {
	if f.failAt > 0 && f.emitted+1 == f.failAt {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("corrupt packet")
	}
	if f.emitted >= f.total {
		return nil, io.EOF
	}
	f.emitted++
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: uint8(f.emitted), A: 0xff})
	return img, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}
