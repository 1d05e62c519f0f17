package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/events"
)

// TestConcurrentDetectorPairsCloseUnorderedGroups grounds on the concurrent
// end-to-end scenario: a communication event and a storage event on distinct
// streams repeatedly land within seconds of each other, with no consistent
// ordering between the two, so sequential detection never fires but
// concurrency detection does.
func TestConcurrentDetectorPairsCloseUnorderedGroups(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	shared := map[string]interface{}{"project": "mallku"}

	var evts []*events.Event
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * 10 * time.Minute
		// Alternate which stream fires first so there is no stable order.
		if i%2 == 0 {
			evts = append(evts,
				events.NewEvent(events.TypeCommunication, "dialogue-1", base.Add(offset), nil, shared),
				events.NewEvent(events.TypeStorage, "store-1", base.Add(offset+3*time.Second), nil, shared),
			)
		} else {
			evts = append(evts,
				events.NewEvent(events.TypeStorage, "store-1", base.Add(offset), nil, shared),
				events.NewEvent(events.TypeCommunication, "dialogue-1", base.Add(offset+3*time.Second), nil, shared),
			)
		}
	}

	w := windowWith(evts...)
	require.NotNil(t, w)

	det := NewConcurrentDetector()
	corrs := det.Detect(w)
	require.NotEmpty(t, corrs)

	found := false
	for _, c := range corrs {
		if c.PatternType != PatternConcurrent {
			continue
		}
		if c.TemporalPrecision != events.PrecisionInstant {
			continue
		}
		found = true
		require.Equal(t, 5, c.OccurrenceFrequency)
		require.InDelta(t, 3*time.Second, c.TemporalGap, float64(time.Second))
		require.GreaterOrEqual(t, c.RawConfidence, 0.6)
		require.Contains(t, c.ConfidenceFactors, "context_coherence")
		// identical context maps on every paired event give full coherence
		require.InDelta(t, 1.0, c.ConfidenceFactors["context_coherence"], 0.0001)
	}
	require.True(t, found, "expected a 30s-horizon concurrent correlation between dialogue-1 and store-1")
}

// TestConcurrentDetectorSkipsSameGroupPairs confirms a group never pairs
// with itself, since that would just restate the sequential relationship
// already covered by SequentialDetector.
func TestConcurrentDetectorSkipsSameGroupPairs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var evts []*events.Event
	for i := 0; i < 4; i++ {
		evts = append(evts, events.NewEvent(events.TypeActivity, "S1", base.Add(time.Duration(i)*time.Second), nil, nil))
	}
	w := windowWith(evts...)

	det := NewConcurrentDetector()
	for _, c := range det.Detect(w) {
		for _, ce := range c.CorrelatedEvents {
			require.False(t, c.PrimaryEvent.EventType == ce.EventType && c.PrimaryEvent.StreamID == ce.StreamID)
		}
	}
}

// TestConcurrentDetectorRequiresMinimumConfidence checks that two distant,
// infrequent, context-mismatched groups never clear the 0.6 floor.
func TestConcurrentDetectorRequiresMinimumConfidence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evts := []*events.Event{
		events.NewEvent(events.TypeCommunication, "dialogue-1", base, nil, map[string]interface{}{"a": 1}),
		events.NewEvent(events.TypeStorage, "store-1", base.Add(4*time.Minute+50*time.Second), nil, map[string]interface{}{"b": 2}),
	}
	w := windowWith(evts...)

	det := NewConcurrentDetector()
	corrs := det.Detect(w)
	for _, c := range corrs {
		require.GreaterOrEqual(t, c.RawConfidence, 0.6)
	}
}
