package detectors

import (
	"math"
	"time"

	"mallku/internal/events"
)

// CyclicalDetector finds periodic recurrence within a single group.
type CyclicalDetector struct{}

func NewCyclicalDetector() *CyclicalDetector { return &CyclicalDetector{} }

func (d *CyclicalDetector) PatternType() PatternType { return PatternCyclical }

type candidatePeriod struct {
	seconds   float64
	precision events.Precision
}

var cyclicalPeriods = []float64{3600, 86400, 604800, 2629746} // hourly, daily, weekly, monthly

func periodPrecision(period float64) events.Precision {
	switch {
	case period < 7200:
		return events.PrecisionSession
	case period < 172800:
		return events.PrecisionDaily
	default:
		return events.PrecisionCyclical
	}
}

const cyclicalStrengthThreshold = 0.5

func (d *CyclicalDetector) Detect(w *events.Window) []*Correlation {
	groups := groupByTypeAndStream(w)
	var out []*Correlation

	for _, g := range groups {
		if len(g.events) < 3 {
			continue
		}

		intervals := make([]float64, 0, len(g.events)-1)
		for i := 1; i < len(g.events); i++ {
			intervals = append(intervals, g.events[i].Timestamp.Sub(g.events[i-1].Timestamp).Seconds())
		}

		meanInterval := mean(intervals)
		var best *candidatePeriod
		var bestStrength float64
		bestDiff := math.Inf(1)
		for _, period := range cyclicalPeriods {
			var deviations []float64
			for _, iv := range intervals {
				cycles := math.Round(iv / period)
				deviations = append(deviations, math.Abs(iv-cycles*period)/period)
			}
			strength := math.Max(0, 1-mean(deviations))
			if strength < cyclicalStrengthThreshold {
				continue
			}
			diff := math.Abs(meanInterval - period)
			if diff < bestDiff {
				bestDiff = diff
				bestStrength = strength
				p := period
				best = &candidatePeriod{seconds: p, precision: periodPrecision(p)}
			}
		}

		if best == nil {
			continue
		}

		count := len(g.events)
		frequencyScore := math.Min(float64(count)/10, 1)
		raw := mean([]float64{frequencyScore, bestStrength})
		if raw < minConfidence {
			continue
		}

		representatives := g.events[1:]
		if len(representatives) > 5 {
			representatives = representatives[:5]
		}

		c := newCorrelation(g.events[0], representatives, PatternCyclical)
		c.TemporalGap = time.Duration(best.seconds * float64(time.Second))
		c.TemporalPrecision = best.precision
		c.OccurrenceFrequency = count
		c.PatternStability = bestStrength
		c.RawConfidence = raw
		c.ConfidenceFactors["frequency_score"] = frequencyScore
		c.ConfidenceFactors["periodicity"] = bestStrength
		out = append(out, c)
	}
	return out
}

