package domain

// SearchResult is a single calibrated match returned to callers.
// It is produced per query and never persisted.
type SearchResult struct {
	ID        string  `json:"id"`
	VideoID   string  `json:"video_id"`
	Timestamp float64 `json:"timestamp"`
	Score     float64 `json:"score"`
	Label     string  `json:"label"`
	Distance  float64 `json:"-"`
}
