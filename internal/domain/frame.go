package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FrameRecord is a sampled video frame paired with its embedding.
// Records are built once during upload and never modified; the only way to
// remove one is a full index reset.
type FrameRecord struct {
	VideoID       string    `json:"video_id"`
	SequenceIndex uint      `json:"sequence_index"`
	Timestamp     float64   `json:"timestamp"`
	Embedding     []float32 `json:"-"`
	Snapshot      []byte    `json:"-"`
	SnapshotKey   string    `json:"snapshot_key,omitempty"`
}

// NewFrameRecord validates its inputs and returns an immutable record.
// The embedding slice is copied so later writes by the caller cannot leak in.
func NewFrameRecord(videoID string, seq uint, timestamp float64, embedding []float32, snapshot []byte) (*FrameRecord, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, fmt.Errorf("%w: video id is required", ErrInvalidRecord)
	}
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) || timestamp < 0 {
		return nil, fmt.Errorf("%w: timestamp %v out of range", ErrInvalidRecord, timestamp)
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidRecord)
	}
	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: embedding component %d is not finite", ErrInvalidRecord, i)
		}
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	var snap []byte
	if len(snapshot) > 0 {
		snap = make([]byte, len(snapshot))
		copy(snap, snapshot)
	}

	return &FrameRecord{
		VideoID:       videoID,
		SequenceIndex: seq,
		Timestamp:     timestamp,
		Embedding:     vec,
		Snapshot:      snap,
	}, nil
}

// ID returns the index key "{video_id}_{sequence_index}".
func (r *FrameRecord) ID() string {
	return FrameID(r.VideoID, r.SequenceIndex)
}

// WithSnapshotKey returns a copy whose snapshot lives in object storage
// under key instead of inline.
func (r *FrameRecord) WithSnapshotKey(key string) *FrameRecord {
	cp := *r
	cp.Snapshot = nil
	cp.SnapshotKey = key
	return &cp
}

// HasSnapshot reports whether a preview image is available inline or offloaded.
func (r *FrameRecord) HasSnapshot() bool {
	return len(r.Snapshot) > 0 || r.SnapshotKey != ""
}

// FrameID builds the namespaced index key for a frame.
func FrameID(videoID string, seq uint) string {
	return videoID + "_" + strconv.FormatUint(uint64(seq), 10)
}

// ParseFrameID splits a frame key back into video id and sequence index.
// Video ids may themselves contain underscores; the last one separates the index.
func ParseFrameID(id string) (string, uint, error) {
	idx := strings.LastIndex(id, "_")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, fmt.Errorf("%w: malformed frame id %q", ErrFrameNotFound, id)
	}
	seq, err := strconv.ParseUint(id[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: malformed frame id %q", ErrFrameNotFound, id)
	}
	return id[:idx], uint(seq), nil
}
