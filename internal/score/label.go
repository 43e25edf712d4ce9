package score

// Confidence labels for presenting scores to people.
const (
	LabelVeryConfident = "very_confident"
	LabelConfident     = "confident"
	LabelPossible      = "possible"
	LabelUnlikely      = "unlikely"
)

// Label buckets a calibrated score.
func Label(score float64) string {
	switch {
	case score > 0.8:
		return LabelVeryConfident
	case score > 0.6:
		return LabelConfident
	case score > 0.4:
		return LabelPossible
	default:
		return LabelUnlikely
	}
}
