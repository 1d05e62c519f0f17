package thresholds

import (
	"time"

	"mallku/internal/merrorkind"
)

const minThresholdFeedbackBatch = 5

// UpdateFromFeedback recomputes precision/recall from batch, adjusts
// ConfidenceThreshold and FrequencyThreshold toward the configured targets,
// and tunes temporal window widths from overall satisfaction.
func (s *State) UpdateFromFeedback(batch []FeedbackOutcome) error {
	if len(batch) < minThresholdFeedbackBatch {
		return merrorkind.AdaptationStalled("thresholds", "update_from_feedback requires at least 5 samples")
	}

	var positives, negatives int
	var positiveConfidenceSum float64
	for _, o := range batch {
		if o.IsMeaningful {
			positives++
			positiveConfidenceSum += o.Confidence
		} else {
			negatives++
		}
	}

	total := float64(len(batch))
	precision := float64(positives) / total
	recall := 0.5
	if positives > 0 {
		recall = positiveConfidenceSum / float64(positives)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	s.PerformanceHistory = append(s.PerformanceHistory, PerformanceSample{
		Timestamp: time.Now(),
		Precision: precision,
		Recall:    recall,
		F1:        f1,
	})
	s.FeedbackHistory = append(s.FeedbackHistory, batch...)

	if precision < s.TargetPrecision {
		s.ConfidenceThreshold += s.LearningRate * (s.TargetPrecision - precision)
	} else if recall < s.TargetRecall {
		s.ConfidenceThreshold -= s.LearningRate * (s.TargetRecall - recall)
	}
	s.ConfidenceThreshold = clamp(s.ConfidenceThreshold, minConfidenceThreshold, maxConfidenceThreshold)

	if precision < 0.6 && negatives >= 5 {
		s.FrequencyThreshold++
	} else if precision > 0.9 && recall < 0.6 {
		s.FrequencyThreshold--
	}
	s.FrequencyThreshold = clampInt(s.FrequencyThreshold, minFrequencyThreshold, maxFrequencyThreshold)

	satisfaction := (precision + recall) / 2
	s.tuneTemporalWindows(satisfaction)

	s.LastUpdated = time.Now()
	return nil
}

func (s *State) tuneTemporalWindows(satisfaction float64) {
	var factor float64
	switch {
	case satisfaction > 0.8:
		factor = 1.10
	case satisfaction < 0.5:
		factor = 0.90
	default:
		return
	}
	for precision, d := range s.TemporalWindows {
		s.TemporalWindows[precision] = time.Duration(float64(d) * factor)
	}
}
