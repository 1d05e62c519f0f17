package scoring

import (
	"fmt"

	"mallku/internal/events"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// meanPairwiseContextJaccard is the mean Jaccard similarity of context key
// sets over all unordered pairs of events.
func meanPairwiseContextJaccard(all []*events.Event) float64 {
	var scores []float64
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			scores = append(scores, jaccard(keysOf(all[i].Context), keysOf(all[j].Context)))
		}
	}
	return mean(scores)
}

func keysOf(m map[string]interface{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	union := make(map[string]struct{}, len(a)+len(b))
	inter := 0
	for k := range a {
		union[k] = struct{}{}
		if _, ok := b[k]; ok {
			inter++
		}
	}
	for k := range b {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 1
	}
	return float64(inter) / float64(len(union))
}

// commonKeyAgreement scores, for each context key shared by every event,
// 1/|distinct string values| observed for that key, averaged across common
// keys. Returns 1 when there are no common keys (vacuous agreement).
func commonKeyAgreement(all []*events.Event) float64 {
	common := keysOf(all[0].Context)
	for _, e := range all[1:] {
		next := make(map[string]struct{})
		keys := keysOf(e.Context)
		for k := range common {
			if _, ok := keys[k]; ok {
				next[k] = struct{}{}
			}
		}
		common = next
	}
	if len(common) == 0 {
		return 1
	}

	var scores []float64
	for k := range common {
		distinct := make(map[string]struct{})
		for _, e := range all {
			distinct[fmt.Sprintf("%v", e.Context[k])] = struct{}{}
		}
		scores = append(scores, 1/float64(len(distinct)))
	}
	return mean(scores)
}

// temporalContextSimilarity combines hour-of-day and weekday variance
// (normalized by their respective half-ranges) across events.
func temporalContextSimilarity(all []*events.Event) float64 {
	var hours, weekdays []float64
	for _, e := range all {
		h := e.Timestamp.Hour()
		hours = append(hours, float64(h))
		weekdays = append(weekdays, float64(e.Timestamp.Weekday()))
	}

	hourVar := variance(hours)
	weekdayVar := variance(weekdays)

	hourScore := clamp01(1 - hourVar/(12*12))
	weekdayScore := clamp01(1 - weekdayVar/(3.5*3.5))
	return mean([]float64{hourScore, weekdayScore})
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs))
}

// typeStreamConsistency averages 1/|distinct event types| with
// 1/|distinct stream ids| across the correlation's events.
func typeStreamConsistency(all []*events.Event) float64 {
	types := make(map[events.Type]struct{})
	streams := make(map[string]struct{})
	for _, e := range all {
		types[e.EventType] = struct{}{}
		streams[e.StreamID] = struct{}{}
	}
	return mean([]float64{1 / float64(len(types)), 1 / float64(len(streams))})
}
