package detectors

import (
	"math"
	"time"

	"mallku/internal/events"
)

// ConcurrentDetector finds unordered-pair relationships: two groups whose
// events cluster together within a short horizon, with no implied order.
type ConcurrentDetector struct{}

func NewConcurrentDetector() *ConcurrentDetector { return &ConcurrentDetector{} }

func (d *ConcurrentDetector) PatternType() PatternType { return PatternConcurrent }

var concurrencyHorizons = []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute}

func horizonPrecision(horizon time.Duration) events.Precision {
	switch horizon {
	case 30 * time.Second:
		return events.PrecisionInstant
	case 2 * time.Minute:
		return events.PrecisionMinute
	default:
		return events.PrecisionSession
	}
}

func (d *ConcurrentDetector) Detect(w *events.Window) []*Correlation {
	groups := groupByTypeAndStream(w)
	var out []*Correlation

	for _, horizon := range concurrencyHorizons {
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				a, b := groups[i], groups[j]
				if a.eventType == b.eventType && a.streamID == b.streamID {
					continue
				}

				var gaps []float64
				var matchedB []*events.Event
				var pairedA, pairedB []*events.Event

				for _, ae := range a.events {
					for _, be := range b.events {
						gap := ae.Timestamp.Sub(be.Timestamp)
						if gap < 0 {
							gap = -gap
						}
						if gap <= horizon {
							gaps = append(gaps, gap.Seconds())
							matchedB = append(matchedB, be)
							pairedA = append(pairedA, ae)
							pairedB = append(pairedB, be)
						}
					}
				}

				count := len(gaps)
				if count == 0 {
					continue
				}

				gapMean := mean(gaps)
				stability := clamp01(1 - gapMean/horizon.Seconds())
				frequencyScore := math.Min(float64(count)/10, 1)
				contextCoherence := meanPairwiseJaccard(pairedA, pairedB)

				raw := mean([]float64{frequencyScore, stability, contextCoherence})
				if raw < minConfidence {
					continue
				}

				representatives := matchedB
				if len(representatives) > 5 {
					representatives = representatives[:5]
				}

				c := newCorrelation(a.events[0], representatives, PatternConcurrent)
				c.TemporalGap = time.Duration(gapMean * float64(time.Second))
				c.TemporalPrecision = horizonPrecision(horizon)
				c.OccurrenceFrequency = count
				c.PatternStability = stability
				c.RawConfidence = raw
				c.ConfidenceFactors["frequency_score"] = frequencyScore
				c.ConfidenceFactors["stability"] = stability
				c.ConfidenceFactors["context_coherence"] = contextCoherence
				out = append(out, c)
			}
		}
	}
	return out
}

// meanPairwiseJaccard computes the mean Jaccard similarity of context key
// sets across paired events. Two empty context maps are treated as fully
// agreeing (Jaccard 1).
func meanPairwiseJaccard(as, bs []*events.Event) float64 {
	if len(as) == 0 {
		return 1
	}
	var scores []float64
	for i := range as {
		scores = append(scores, jaccardKeys(as[i].Context, bs[i].Context))
	}
	return mean(scores)
}

func jaccardKeys(a, b map[string]interface{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		union[k] = struct{}{}
	}
	inter := 0
	for k := range b {
		if _, ok := a[k]; ok {
			inter++
		}
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 1
	}
	return float64(inter) / float64(len(union))
}
