package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/timmy/framescope/internal/domain"
)

// SampledFrame is a frame selected by the Sampler.
type SampledFrame struct {
	Sequence   uint    // 0-based position among sampled frames
	FrameIndex int     // 1-based position in the source stream
	Timestamp  float64 // seconds from the start of playback
	Image      image.Image
}

// Sampler selects frames from a FrameSource at a target rate.
//
//	s, err := video.NewSampler(src, 3)
//	for s.Next() {
//	    f := s.Frame()
//	}
//	if err := s.Err(); err != nil { ... }
type Sampler struct {
	src      FrameSource
	fps      float64
	interval int

	index int
	seq   uint
	cur   SampledFrame
	err   error
	done  bool
}

// Interval returns max(1, round(fps/targetRate)): every interval-th frame is kept.
func Interval(fps, targetRate float64) (int, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return 0, fmt.Errorf("%w: frame rate %v", domain.ErrInvalidVideo, fps)
	}
	if math.IsNaN(targetRate) || math.IsInf(targetRate, 0) || targetRate <= 0 {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidSamplingRate, targetRate)
	}

	interval := math.Round(fps / targetRate)
	if interval < 1 {
		return 1, nil
	}
	if interval > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(interval), nil
}

// NewSampler returns a sampler over src. It does not take ownership of src.
func NewSampler(src FrameSource, targetRate float64) (*Sampler, error) {
	fps := src.FPS()
	interval, err := Interval(fps, targetRate)
	if err != nil {
		return nil, err
	}
	return &Sampler{src: src, fps: fps, interval: interval}, nil
}

// FrameInterval returns the selection interval in source frames.
func (s *Sampler) FrameInterval() int {
	return s.interval
}

// ExpectedSamples estimates how many frames will be selected, or 0 when the
// source does not know its length.
func (s *Sampler) ExpectedSamples() int {
	total := s.src.FrameCount()
	if total <= 0 {
		return 0
	}
	return total / s.interval
}

// Next advances to the next selected frame. It returns false at end of
// stream or on error; check Err afterwards.
func (s *Sampler) Next() bool {
	if s.done {
		return false
	}

	for {
		img, err := s.src.Next()
		if err != nil {
			s.done = true
			s.cur = SampledFrame{}
			if !errors.Is(err, io.EOF) {
				if errors.Is(err, domain.ErrInvalidVideo) {
					s.err = err
				} else {
					s.err = fmt.Errorf("%w: decode failed at frame %d: %v", domain.ErrInvalidVideo, s.index+1, err)
				}
			}
			return false
		}

		s.index++
		if s.index%s.interval != 0 {
			continue
		}

		s.cur = SampledFrame{
			Sequence:   s.seq,
			FrameIndex: s.index,
			Timestamp:  float64(s.index) / s.fps,
			Image:      img,
		}
		s.seq++
		return true
	}
}

// Frame returns the frame selected by the last successful Next.
func (s *Sampler) Frame() SampledFrame {
	return s.cur
}

// Err returns the first non-EOF error encountered.
func (s *Sampler) Err() error {
	return s.err
}
