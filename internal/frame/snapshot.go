package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/timmy/framescope/internal/domain"
	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used for frame snapshots.
const DefaultQuality = 85

// EncodeSnapshot encodes img as a JPEG preview.
func EncodeSnapshot(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", domain.ErrSnapshotEncode)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotEncode, err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot decodes a stored snapshot. Any registered image format is
// accepted so previews written by older builds still render.
func DecodeSnapshot(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty snapshot", domain.ErrCorruptSnapshot)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrCorruptSnapshot, err)
	}
	return img, format, nil
}

// ContentType maps a decoded image format to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
