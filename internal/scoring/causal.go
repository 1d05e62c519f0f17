package scoring

import (
	"math"
	"time"

	"mallku/internal/detectors"
	"mallku/internal/events"
)

// eventTypeCompatibility is the closed heuristic table of plausible causal
// relationships between event type pairs; unlisted pairs default to 0.5.
var eventTypeCompatibility = map[[2]events.Type]float64{
	{events.TypeActivity, events.TypeLocation}:      0.8,
	{events.TypeLocation, events.TypeActivity}:      0.8,
	{events.TypeCommunication, events.TypeStorage}:  0.7,
	{events.TypeStorage, events.TypeCommunication}:  0.7,
	{events.TypeActivity, events.TypeEnvironmental}: 0.6,
	{events.TypeEnvironmental, events.TypeActivity}: 0.6,
}

func causalPlausibility(c *detectors.Correlation) float64 {
	ordering := orderingPlausibility(c)
	gapScore := reasonableGapScore(c.TemporalGap)
	compat := typeCompatibility(c)
	logical := clamp01(0.4 + c.PatternStability)
	if logical > 0.8 {
		logical = 0.8
	}
	return mean([]float64{ordering, gapScore, compat, logical})
}

func orderingPlausibility(c *detectors.Correlation) float64 {
	if c.PatternType == detectors.PatternSequential {
		return 0.7
	}
	return 0.5
}

func reasonableGapScore(gap time.Duration) float64 {
	switch {
	case gap < 60*time.Second:
		return 0.6
	case gap < 4*time.Hour:
		return 1.0
	case gap < 24*time.Hour:
		return 0.7
	default:
		return 0.4
	}
}

func typeCompatibility(c *detectors.Correlation) float64 {
	if len(c.CorrelatedEvents) == 0 {
		return 0.5
	}
	var scores []float64
	for _, e := range c.CorrelatedEvents {
		key := [2]events.Type{c.PrimaryEvent.EventType, e.EventType}
		if v, ok := eventTypeCompatibility[key]; ok {
			scores = append(scores, v)
		} else {
			scores = append(scores, 0.5)
		}
	}
	return mean(scores)
}

const feedbackHalfLifeDays = 30.0
const feedbackMaxAge = 30 * 24 * time.Hour

func userValidation(feedback []*Feedback, now time.Time) float64 {
	var weighted, totalWeight float64
	any := false
	for _, f := range feedback {
		age := now.Sub(f.FeedbackTimestamp)
		if age > feedbackMaxAge || age < 0 {
			continue
		}
		ageDays := age.Hours() / 24
		weight := math.Exp(-ageDays / feedbackHalfLifeDays)

		score := f.ConfidenceRating
		if !f.IsMeaningful {
			score = 1 - f.ConfidenceRating
		}

		weighted += weight * score
		totalWeight += weight
		any = true
	}
	if !any || totalWeight == 0 {
		return 0.5
	}
	return clamp01(weighted / totalWeight)
}
