package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/detectors"
	"mallku/internal/events"
	"mallku/internal/merrorkind"
)

func TestScoreWithEmptyFeedbackDefaultsUserValidation(t *testing.T) {
	s := NewScorer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := events.NewEvent(events.TypeActivity, "S1", base, nil, nil)
	c := &detectors.Correlation{
		PrimaryEvent:        primary,
		CorrelatedEvents:    []*events.Event{events.NewEvent(events.TypeActivity, "S1", base.Add(time.Minute), nil, nil)},
		TemporalGap:         time.Minute,
		GapVariance:         0,
		OccurrenceFrequency: 3,
		PatternStability:    0.9,
		PatternType:         detectors.PatternSequential,
	}

	score, factors := s.Score(c, nil, base)
	require.Equal(t, 0.5, factors[FactorUserValidation])
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestScoreEqualsWeightedSumOfFactors(t *testing.T) {
	s := NewScorer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &detectors.Correlation{
		PrimaryEvent:        events.NewEvent(events.TypeActivity, "S1", base, nil, nil),
		CorrelatedEvents:    []*events.Event{events.NewEvent(events.TypeLocation, "S2", base.Add(time.Minute), nil, nil)},
		TemporalGap:         time.Minute,
		GapVariance:         4,
		OccurrenceFrequency: 5,
		PatternStability:    0.8,
		PatternType:         detectors.PatternConcurrent,
	}

	score, factors := s.Score(c, nil, base)

	var want float64
	for name, w := range s.Weights() {
		want += w * factors[name]
	}
	require.InDelta(t, want, score, 1e-9)
}

func TestUpdateFromFeedbackRequiresMinimumBatch(t *testing.T) {
	s := NewScorer()
	err := s.UpdateFromFeedback([]FeedbackSample{{Factors: map[string]float64{FactorTemporalConsistency: 0.9}, IsMeaningful: true}})
	require.Error(t, err)
	require.True(t, merrorkind.IsKind(err, merrorkind.KindAdaptationStalled))
}

func TestUpdateFromFeedbackPreservesWeightInvariant(t *testing.T) {
	s := NewScorer()
	var batch []FeedbackSample
	for i := 0; i < 12; i++ {
		batch = append(batch, FeedbackSample{
			Factors: map[string]float64{
				FactorTemporalConsistency: 0.9,
				FactorFrequencyStrength:   0.2,
				FactorContextCoherence:    0.5,
				FactorCausalPlausibility:  0.5,
				FactorUserValidation:      0.5,
			},
			IsMeaningful: i%2 == 0,
		})
	}

	require.NoError(t, s.UpdateFromFeedback(batch))

	var total float64
	for _, w := range s.Weights() {
		require.GreaterOrEqual(t, w, 0.0)
		total += w
	}
	require.InDelta(t, 1.0, total, 1e-9)
}
