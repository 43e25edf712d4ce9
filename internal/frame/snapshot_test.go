package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/timmy/framescope/internal/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	data, err := EncodeSnapshot(solid(10, 4, color.NRGBA{G: 255, A: 255}), 85)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xff, 0xd8}) {
		t.Fatalf("snapshot is not a JPEG")
	}

	img, format, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if format != "jpeg" || img.Bounds().Dx() != 10 {
		t.Errorf("decoded %s %v", format, img.Bounds())
	}
}

func TestEncodeSnapshotQualityAffectsSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 31)
	}

	low, err := EncodeSnapshot(img, 10)
	if err != nil {
		t.Fatal(err)
	}
	high, err := EncodeSnapshot(img, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(low) >= len(high) {
		t.Errorf("quality 10 produced %d bytes, quality 100 produced %d", len(low), len(high))
	}
}

func TestEncodeSnapshotNilImage(t *testing.T) {
	if _, err := EncodeSnapshot(nil, 85); !errors.Is(err, domain.ErrSnapshotEncode) {
		t.Fatalf("error = %v, want ErrSnapshotEncode", err)
	}
}

func TestDecodeSnapshotCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage", data: []byte("not an image")},
		{name: "truncated jpeg", data: []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeSnapshot(tt.data); !errors.Is(err, domain.ErrCorruptSnapshot) {
				t.Errorf("error = %v, want ErrCorruptSnapshot", err)
			}
		})
	}
}

func TestDecodeSnapshotAcceptsPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(3, 3, color.White)); err != nil {
		t.Fatal(err)
	}
	_, format, err := DecodeSnapshot(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if format != "png" || ContentType(format) != "image/png" {
		t.Errorf("format = %q", format)
	}
}
