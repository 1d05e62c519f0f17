// Package scoring implements the multi-factor Confidence Scorer (spec
// module C): five weighted factors combined into a single confidence value,
// with feedback-driven weight adaptation.
package scoring

import (
	"math"
	"time"

	"mallku/internal/detectors"
	"mallku/internal/events"
)

// Factor names, used as keys into a correlation's confidence_factors map.
const (
	FactorTemporalConsistency = "temporal_consistency"
	FactorFrequencyStrength   = "frequency_strength"
	FactorContextCoherence    = "context_coherence"
	FactorCausalPlausibility  = "causal_plausibility"
	FactorUserValidation      = "user_validation"
)

var factorOrder = []string{
	FactorTemporalConsistency,
	FactorFrequencyStrength,
	FactorContextCoherence,
	FactorCausalPlausibility,
	FactorUserValidation,
}

// minFeedbackBatch is the minimum batch size update_from_feedback requires
// before it will touch the weight vector.
const minFeedbackBatch = 10

// learningRate bounds how far one feedback batch can move a weight before
// renormalization.
const learningRate = 0.02

// Scorer computes confidence_score for raw correlations and adapts its
// factor weights from labeled feedback over time.
type Scorer struct {
	weights map[string]float64
}

// NewScorer constructs a Scorer with the specification's starting weights.
func NewScorer() *Scorer {
	return &Scorer{
		weights: map[string]float64{
			FactorTemporalConsistency: 0.30,
			FactorFrequencyStrength:   0.25,
			FactorContextCoherence:    0.20,
			FactorCausalPlausibility:  0.15,
			FactorUserValidation:      0.10,
		},
	}
}

// ResetToDefault discards any feedback-learned adjustments and restores the
// specification's starting weight vector, for the `engine reset-learning`
// CLI operation.
func (s *Scorer) ResetToDefault() {
	s.weights = NewScorer().weights
}

// Weights returns a copy of the current weight vector.
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Score computes the five confidence factors for c and combines them under
// the current weight vector, clamped to [0,1]. feedback should already be
// filtered to items referencing c.CorrelationID.
func (s *Scorer) Score(c *detectors.Correlation, feedback []*Feedback, now time.Time) (float64, map[string]float64) {
	factors := map[string]float64{
		FactorTemporalConsistency: temporalConsistency(c),
		FactorFrequencyStrength:   frequencyStrength(c),
		FactorContextCoherence:    contextCoherence(c),
		FactorCausalPlausibility:  causalPlausibility(c),
		FactorUserValidation:      userValidation(feedback, now),
	}

	var score float64
	for _, name := range factorOrder {
		score += s.weights[name] * factors[name]
	}
	return clamp01(score), factors
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func temporalConsistency(c *detectors.Correlation) float64 {
	m := c.TemporalGap.Seconds()
	if m > 0 {
		s := math.Sqrt(c.GapVariance)
		cv := s / m
		return 1 / (1 + cv)
	}
	if c.PatternStability > 0 {
		return c.PatternStability
	}
	return 0.5
}

func frequencyStrength(c *detectors.Correlation) float64 {
	return clamp01(1 - math.Exp(-float64(c.OccurrenceFrequency)/10))
}

func contextCoherence(c *detectors.Correlation) float64 {
	all := append([]*events.Event{c.PrimaryEvent}, c.CorrelatedEvents...)
	if len(all) < 2 {
		return 0.5
	}

	jaccard := meanPairwiseContextJaccard(all)
	agreement := commonKeyAgreement(all)
	temporal := temporalContextSimilarity(all)
	typeStream := typeStreamConsistency(all)

	return mean([]float64{jaccard, agreement, temporal, typeStream})
}
