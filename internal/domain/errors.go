package domain

import "errors"

// Error taxonomy shared by the ingest and retrieval paths.
// Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
var (
	// ErrInvalidVideo means the container could not be decoded or its frame rate is unusable.
	ErrInvalidVideo = errors.New("invalid video")

	// ErrInvalidSamplingRate means the requested sampling rate is not a positive finite number.
	ErrInvalidSamplingRate = errors.New("invalid sampling rate")

	// ErrEmbeddingFailure means the embedder failed or returned a malformed vector.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrSnapshotEncode means a frame snapshot could not be encoded.
	ErrSnapshotEncode = errors.New("snapshot encode failed")

	// ErrCorruptSnapshot means a stored snapshot could not be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrSnapshotUnavailable means the frame was stored without a snapshot.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrIndexUnavailable means the similarity index could not serve the request.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrFrameNotFound means no frame record exists for the requested id.
	ErrFrameNotFound = errors.New("frame not found")

	// ErrVideoExists means the video id already has a completed upload.
	ErrVideoExists = errors.New("video already indexed")

	// ErrInvalidQuery means the search request cannot be served as given.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidRecord means a frame record failed construction checks.
	ErrInvalidRecord = errors.New("invalid frame record")
)
