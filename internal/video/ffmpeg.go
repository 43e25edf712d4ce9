package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/timmy/framescope/internal/domain"
)

// FFmpegDecoder decodes videos by piping raw RGB frames out of ffmpeg.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder locates ffmpeg and ffprobe. Empty paths are looked up in PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) (*FFmpegDecoder, error) {
	var err error
	if ffmpegPath == "" {
		if ffmpegPath, err = exec.LookPath("ffmpeg"); err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	if ffprobePath == "" {
		if ffprobePath, err = exec.LookPath("ffprobe"); err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// StreamInfo describes the first video stream of a container. Width and
// Height are the displayed size, i.e. after ffmpeg applies the rotation.
type StreamInfo struct {
	Width      int
	Height     int
	Rotation   int // 0, 90, 180 or 270
	FPS        float64
	FrameCount int
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Tags         struct {
			Rotate string `json:"rotate"`
		} `json:"tags"`
		SideDataList []struct {
			Rotation *float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

// Probe reads stream metadata with ffprobe.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: video file not accessible: %v", domain.ErrInvalidVideo, err)
	}

	cmd := exec.CommandContext(ctx, d.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe failed: %v: %s", domain.ErrInvalidVideo, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: unreadable ffprobe output: %v", domain.ErrInvalidVideo, err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("%w: no video stream", domain.ErrInvalidVideo)
	}

	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", domain.ErrInvalidVideo, s.Width, s.Height)
	}

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("%w: frame rate unreadable (r=%q avg=%q)", domain.ErrInvalidVideo, s.RFrameRate, s.AvgFrameRate)
	}

	frames, _ := strconv.Atoi(s.NbFrames)

	// The display matrix wins over the legacy rotate tag.
	rotation := 0
	if r, err := strconv.ParseFloat(strings.TrimSpace(s.Tags.Rotate), 64); err == nil {
		rotation = normalizeRotation(r)
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != nil {
			rotation = normalizeRotation(*sd.Rotation)
			break
		}
	}

	// ffmpeg autorotates, so quarter turns come out of the pipe transposed.
	width, height := s.Width, s.Height
	if rotation == 90 || rotation == 270 {
		width, height = height, width
	}

	return &StreamInfo{
		Width:      width,
		Height:     height,
		Rotation:   rotation,
		FPS:        fps,
		FrameCount: frames,
	}, nil
}

// normalizeRotation maps any angle to the nearest quarter turn in 0..270.
// Only the axis matters to callers, so -90 and 270 are the same turn.
func normalizeRotation(deg float64) int {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	quarter := int(math.Round(deg/90)) % 4
	if quarter < 0 {
		quarter += 4
	}
	return quarter * 90
}

// parseRate parses ffprobe rates such as "30000/1001" or "25". Unparseable
// or zero-denominator rates yield 0.
func parseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}

	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Open probes path and starts streaming its frames.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (FrameSource, error) {
	info, err := d.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg pipe: %w", err)
	}
	stderr := &limitedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrInvalidVideo, err)
	}

	return &ffmpegSource{
		info:   *info,
		cmd:    cmd,
		cancel: cancel,
		reader: bufio.NewReaderSize(stdout, info.Width*3*16),
		stderr: stderr,
		buf:    make([]byte, info.Width*info.Height*3),
	}, nil
}

type ffmpegSource struct {
	info   StreamInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader *bufio.Reader
	stderr *limitedBuffer
	buf    []byte

	closeOnce sync.Once
	waited    bool
}

func (s *ffmpegSource) FPS() float64    { return s.info.FPS }
func (s *ffmpegSource) FrameCount() int { return s.info.FrameCount }

func (s *ffmpegSource) Next() (image.Image, error) {
	_, err := io.ReadFull(s.reader, s.buf)
	switch {
	case err == nil:
		return rgb24ToRGBA(s.buf, s.info.Width, s.info.Height), nil
	case errors.Is(err, io.EOF):
		// Clean end of the pipe; ffmpeg's exit status decides whether the
		// stream really finished.
		s.waited = true
		if werr := s.cmd.Wait(); werr != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited: %v: %s", domain.ErrInvalidVideo, werr, s.stderr.String())
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: truncated frame: %s", domain.ErrInvalidVideo, s.stderr.String())
	default:
		return nil, fmt.Errorf("%w: read frame: %v", domain.ErrInvalidVideo, err)
	}
}

// Close stops ffmpeg and reaps it. Safe to call more than once.
func (s *ffmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if !s.waited {
			// Killed by cancel; the exit error is expected.
			_ = s.cmd.Wait()
		}
	})
	return nil
}

func rgb24ToRGBA(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// limitedBuffer keeps the first limit bytes of ffmpeg's stderr.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
