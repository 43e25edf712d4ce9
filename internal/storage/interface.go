// Package storage keeps frame snapshots in S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// ErrObjectNotFound is returned by Download for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download downloads an object from storage
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix deletes every object whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}

const snapshotRoot = "snapshots/"

// SnapshotPrefix is the key prefix shared by all snapshots of a video, or
// by every snapshot when videoID is empty.
func SnapshotPrefix(videoID string) string {
	if videoID == "" {
		return snapshotRoot
	}
	return snapshotRoot + videoID + "/"
}

// SnapshotKey returns the object key of one frame snapshot.
func SnapshotKey(videoID string, sequence uint) string {
	return SnapshotPrefix(videoID) + strconv.FormatUint(uint64(sequence), 10) + ".jpg"
}
