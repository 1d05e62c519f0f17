package scoring

import "mallku/internal/merrorkind"

// FeedbackSample pairs one correlation's factor breakdown with the
// supervision label attached to it, the unit update_from_feedback learns
// from.
type FeedbackSample struct {
	Factors      map[string]float64
	IsMeaningful bool
}

// UpdateFromFeedback shifts the weight vector toward factors whose values
// correlate with is_meaningful across the batch, then renormalizes so
// weights stay non-negative and sum to 1.
//
// The learning rule is a bounded gradient nudge: each factor's weight moves
// by learningRate times the difference between its mean value on meaningful
// vs. non-meaningful samples, then the whole vector is clamped and
// renormalized. This keeps every update auditable per batch rather than
// fitting a global regression, which the specification does not require.
func (s *Scorer) UpdateFromFeedback(batch []FeedbackSample) error {
	if len(batch) < minFeedbackBatch {
		return merrorkind.AdaptationStalled("scoring", "update_from_feedback requires at least 10 samples")
	}

	var meaningfulSums, meaningfulCounts, negativeSums, negativeCounts map[string]float64
	meaningfulSums = map[string]float64{}
	negativeSums = map[string]float64{}
	meaningfulCounts = map[string]float64{}
	negativeCounts = map[string]float64{}

	for _, sample := range batch {
		for _, name := range factorOrder {
			v, ok := sample.Factors[name]
			if !ok {
				continue
			}
			if sample.IsMeaningful {
				meaningfulSums[name] += v
				meaningfulCounts[name]++
			} else {
				negativeSums[name] += v
				negativeCounts[name]++
			}
		}
	}

	updated := make(map[string]float64, len(s.weights))
	for name, w := range s.weights {
		diff := 0.0
		if meaningfulCounts[name] > 0 && negativeCounts[name] > 0 {
			diff = meaningfulSums[name]/meaningfulCounts[name] - negativeSums[name]/negativeCounts[name]
		}
		nw := w + learningRate*diff
		if nw < 0 {
			nw = 0
		}
		updated[name] = nw
	}

	var total float64
	for _, w := range updated {
		total += w
	}
	if total == 0 {
		return merrorkind.AdaptationStalled("scoring", "update_from_feedback produced a degenerate zero weight vector")
	}
	for name, w := range updated {
		updated[name] = w / total
	}

	s.weights = updated
	return nil
}
