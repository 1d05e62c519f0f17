package detectors

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"mallku/internal/events"
)

// ContextualDetector clusters events across types/streams by a deterministic
// signature of their context map.
type ContextualDetector struct {
	MinOccurrences int
}

func NewContextualDetector() *ContextualDetector {
	return &ContextualDetector{MinOccurrences: 3}
}

func (d *ContextualDetector) PatternType() PatternType { return PatternContextual }

// contextSignature produces a deterministic string for a context map: sorted
// key:value pairs, with non-scalar values collapsed to "complex".
func contextSignature(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := ctx[k]
		var rendered string
		switch v.(type) {
		case string, int, int64, float64, bool:
			rendered = fmt.Sprintf("%v", v)
		default:
			rendered = "complex"
		}
		parts = append(parts, k+":"+rendered)
	}
	return strings.Join(parts, "|")
}

func (d *ContextualDetector) Detect(w *events.Window) []*Correlation {
	clusters := make(map[string][]*events.Event)
	var order []string
	for _, e := range w.Events {
		sig := contextSignature(e.Context)
		if sig == "" {
			continue
		}
		if _, ok := clusters[sig]; !ok {
			order = append(order, sig)
		}
		clusters[sig] = append(clusters[sig], e)
	}

	var out []*Correlation
	for _, sig := range order {
		members := clusters[sig]
		if len(members) < d.MinOccurrences {
			continue
		}

		gaps := make([]float64, 0, len(members)-1)
		for i := 1; i < len(members); i++ {
			gaps = append(gaps, members[i].Timestamp.Sub(members[i-1].Timestamp).Seconds())
		}
		gapMean := mean(gaps)
		variance := 0.0
		for _, g := range gaps {
			variance += (g - gapMean) * (g - gapMean)
		}
		if len(gaps) > 0 {
			variance /= float64(len(gaps))
		}
		stability := 0.0
		if gapMean > 0 {
			cv := math.Sqrt(variance) / gapMean
			stability = 1 / (1 + cv)
		}

		contextCoherence := intersectionOverUnion(members)
		frequencyScore := math.Min(float64(len(members))/10, 1)
		raw := mean([]float64{frequencyScore, contextCoherence, stability})
		if raw < minConfidence {
			continue
		}

		representatives := members[1:]
		if len(representatives) > 5 {
			representatives = representatives[:5]
		}

		c := newCorrelation(members[0], representatives, PatternContextual)
		c.TemporalGap = time.Duration(gapMean * float64(time.Second))
		c.GapVariance = variance
		c.TemporalPrecision = events.PrecisionForGap(c.TemporalGap)
		c.OccurrenceFrequency = len(members)
		c.PatternStability = stability
		c.RawConfidence = raw
		c.ConfidenceFactors["frequency_score"] = frequencyScore
		c.ConfidenceFactors["context_coherence"] = contextCoherence
		c.ConfidenceFactors["stability"] = stability
		out = append(out, c)
	}
	return out
}

func intersectionOverUnion(members []*events.Event) float64 {
	if len(members) == 0 {
		return 0
	}
	union := make(map[string]struct{})
	var interCount int

	first := make(map[string]struct{})
	for k := range members[0].Context {
		first[k] = struct{}{}
		union[k] = struct{}{}
	}

	inter := first
	for _, m := range members[1:] {
		keys := make(map[string]struct{})
		for k := range m.Context {
			keys[k] = struct{}{}
			union[k] = struct{}{}
		}
		next := make(map[string]struct{})
		for k := range inter {
			if _, ok := keys[k]; ok {
				next[k] = struct{}{}
			}
		}
		inter = next
	}
	interCount = len(inter)

	if len(union) == 0 {
		return 1
	}
	return float64(interCount) / float64(len(union))
}

