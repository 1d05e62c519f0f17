// Package thresholds implements the Adaptive Thresholds controller (spec
// module D): a precision/recall-driven acceptance gate with durable state.
package thresholds

import (
	"time"

	"mallku/internal/events"
)

const (
	minConfidenceThreshold = 0.2
	maxConfidenceThreshold = 0.9
	minFrequencyThreshold  = 2
	maxFrequencyThreshold  = 10
)

// typeMultipliers scale the confidence threshold per pattern type before
// comparison in should_accept.
var typeMultipliers = map[string]float64{
	"sequential": 1.00,
	"concurrent": 1.10,
	"cyclical":   0.90,
	"contextual": 1.05,
}

// PerformanceSample is one recorded precision/recall/F1 observation, kept
// for status reporting. Temporal-window tuning reads only the current
// batch, not this history.
type PerformanceSample struct {
	Timestamp time.Time
	Precision float64
	Recall    float64
	F1        float64
}

// State is the controller's durable configuration plus its in-memory
// learning history.
type State struct {
	ConfidenceThreshold float64
	FrequencyThreshold  int
	TemporalWindows     map[events.Precision]time.Duration
	LearningRate        float64
	TargetPrecision     float64
	TargetRecall        float64
	LastUpdated         time.Time

	PerformanceHistory []PerformanceSample
	FeedbackHistory    []FeedbackOutcome
}

// FeedbackOutcome is the minimal signal update_from_feedback needs from one
// batch item: whether the correlation was judged meaningful and its scored
// confidence.
type FeedbackOutcome struct {
	IsMeaningful bool
	Confidence   float64
}

// defaultTemporalWindows mirrors the five precision buckets with sane
// starting durations.
func defaultTemporalWindows() map[events.Precision]time.Duration {
	return map[events.Precision]time.Duration{
		events.PrecisionInstant:  time.Minute,
		events.PrecisionMinute:   5 * time.Minute,
		events.PrecisionSession:  30 * time.Minute,
		events.PrecisionDaily:    4 * time.Hour,
		events.PrecisionCyclical: 24 * time.Hour,
	}
}

// NewState constructs a State with the specification's documented defaults.
func NewState() *State {
	return &State{
		ConfidenceThreshold: 0.6,
		FrequencyThreshold:  3,
		TemporalWindows:     defaultTemporalWindows(),
		LearningRate:        0.1,
		TargetPrecision:     0.8,
		TargetRecall:        0.7,
		LastUpdated:         time.Now(),
	}
}

// Reset discards learned adjustments and accumulated history, restoring the
// specification's starting configuration, for the `engine reset-learning`
// CLI operation.
func (s *State) Reset() {
	fresh := NewState()
	s.ConfidenceThreshold = fresh.ConfidenceThreshold
	s.FrequencyThreshold = fresh.FrequencyThreshold
	s.TemporalWindows = fresh.TemporalWindows
	s.LearningRate = fresh.LearningRate
	s.TargetPrecision = fresh.TargetPrecision
	s.TargetRecall = fresh.TargetRecall
	s.LastUpdated = fresh.LastUpdated
	s.PerformanceHistory = nil
	s.FeedbackHistory = nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ShouldAccept is the controller's single public acceptance test.
func (s *State) ShouldAccept(confidence float64, frequency int, patternType string) bool {
	multiplier, ok := typeMultipliers[patternType]
	if !ok {
		multiplier = 1.0
	}
	return confidence >= s.ConfidenceThreshold*multiplier && frequency >= s.FrequencyThreshold
}
