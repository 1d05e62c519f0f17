package scoring

import (
	"time"

	"github.com/google/uuid"
)

// Feedback is a supervision signal submitted against a previously emitted
// correlation (spec §3 CorrelationFeedback).
type Feedback struct {
	FeedbackID        uuid.UUID
	CorrelationID     uuid.UUID
	IsMeaningful      bool
	ConfidenceRating  float64
	Explanation       string
	FeedbackTimestamp time.Time
	UserContext       map[string]interface{}
	FeedbackSource    string
	ImplicitSignal    bool
}

// RetentionWindow is the minimum feedback retention window the engine must
// honor before a feedback item is dropped as stale.
const RetentionWindow = 90 * 24 * time.Hour

// IsStale reports whether f falls outside the retention window measured
// from now.
func (f *Feedback) IsStale(now time.Time) bool {
	return now.Sub(f.FeedbackTimestamp) > RetentionWindow
}
