package detectors

import (
	"math"
	"time"

	"mallku/internal/events"
)

// SequentialDetector finds ordered-pair relationships: group B tends to
// follow group A within a bounded gap.
type SequentialDetector struct {
	MinOccurrences int
}

// NewSequentialDetector constructs a SequentialDetector with the default
// minimum occurrence count of 3.
func NewSequentialDetector() *SequentialDetector {
	return &SequentialDetector{MinOccurrences: 3}
}

func (d *SequentialDetector) PatternType() PatternType { return PatternSequential }

const sequentialMaxGap = 24 * time.Hour

func (d *SequentialDetector) Detect(w *events.Window) []*Correlation {
	groups := groupByTypeAndStream(w)
	var out []*Correlation

	for i, a := range groups {
		for j, b := range groups {
			if i == j {
				continue
			}
			if a.eventType == b.eventType && a.streamID == b.streamID {
				continue
			}

			var gaps []float64
			var matched []*events.Event
			bi := 0
			for _, ae := range a.events {
				for bi < len(b.events) && !b.events[bi].Timestamp.After(ae.Timestamp) {
					bi++
				}
				if bi >= len(b.events) {
					break
				}
				be := b.events[bi]
				gap := be.Timestamp.Sub(ae.Timestamp)
				if gap <= sequentialMaxGap {
					gaps = append(gaps, gap.Seconds())
					matched = append(matched, be)
				}
			}

			count := len(gaps)
			if count < d.MinOccurrences {
				continue
			}

			gapMean := mean(gaps)
			variance := 0.0
			for _, g := range gaps {
				variance += (g - gapMean) * (g - gapMean)
			}
			variance /= float64(count)

			stability := 0.0
			if gapMean > 0 {
				cv := math.Sqrt(variance) / gapMean
				stability = 1 / (1 + cv)
			}

			frequencyScore := math.Min(float64(count)/10, 1)
			raw := mean([]float64{frequencyScore, stability})
			if raw < minConfidence {
				continue
			}

			representatives := matched
			if len(representatives) > 5 {
				representatives = representatives[:5]
			}

			c := newCorrelation(a.events[0], representatives, PatternSequential)
			c.TemporalGap = time.Duration(gapMean * float64(time.Second))
			c.GapVariance = variance
			c.TemporalPrecision = events.PrecisionForGap(c.TemporalGap)
			c.OccurrenceFrequency = count
			c.PatternStability = stability
			c.RawConfidence = raw
			c.ConfidenceFactors["frequency_score"] = frequencyScore
			c.ConfidenceFactors["stability"] = stability
			out = append(out, c)
		}
	}
	return out
}
