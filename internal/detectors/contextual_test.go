package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/events"
)

// TestContextualDetectorClustersBySignature grounds on the contextual
// end-to-end scenario: events whose context maps share the same location
// and activity keys recur across otherwise unrelated streams and event
// types, and ContextualDetector should surface that shared-context cluster
// even though SequentialDetector and CyclicalDetector never look at Context
// at all.
func TestContextualDetectorClustersBySignature(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	home := map[string]interface{}{"location": "home", "activity": "focused-work"}

	evts := []*events.Event{
		events.NewEvent(events.TypeActivity, "S1", base, nil, cloneContext(home)),
		events.NewEvent(events.TypeEnvironmental, "S2", base.Add(20*time.Minute), nil, cloneContext(home)),
		events.NewEvent(events.TypeCommunication, "S3", base.Add(40*time.Minute), nil, cloneContext(home)),
		events.NewEvent(events.TypeLocation, "S4", base.Add(60*time.Minute), nil, cloneContext(home)),
	}

	w := windowWith(evts...)
	require.NotNil(t, w)

	det := NewContextualDetector()
	corrs := det.Detect(w)
	require.NotEmpty(t, corrs)

	c := corrs[0]
	require.Equal(t, PatternContextual, c.PatternType)
	require.Equal(t, 4, c.OccurrenceFrequency)
	require.InDelta(t, 20*time.Minute, c.TemporalGap, float64(time.Minute))
	require.GreaterOrEqual(t, c.RawConfidence, 0.6)
	// identical context maps across every member give full IoU coherence
	require.InDelta(t, 1.0, c.ConfidenceFactors["context_coherence"], 0.0001)
	// perfectly even spacing gives a near-zero coefficient of variation
	require.InDelta(t, 1.0, c.PatternStability, 0.05)
}

// TestContextualDetectorRequiresMinOccurrences confirms a context shared by
// only two events, below the default MinOccurrences of 3, never clusters.
func TestContextualDetectorRequiresMinOccurrences(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rare := map[string]interface{}{"location": "airport", "activity": "travel"}

	evts := []*events.Event{
		events.NewEvent(events.TypeLocation, "S1", base, nil, cloneContext(rare)),
		events.NewEvent(events.TypeActivity, "S2", base.Add(5*time.Minute), nil, cloneContext(rare)),
	}
	w := windowWith(evts...)

	det := NewContextualDetector()
	require.Empty(t, det.Detect(w))
}

// TestContextualDetectorIgnoresEmptyContext confirms events with an empty
// context map never form a spurious "everyone with no context" cluster.
func TestContextualDetectorIgnoresEmptyContext(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var evts []*events.Event
	for i := 0; i < 5; i++ {
		evts = append(evts, events.NewEvent(events.TypeActivity, "S1", base.Add(time.Duration(i)*time.Minute), nil, map[string]interface{}{}))
	}
	w := windowWith(evts...)

	det := NewContextualDetector()
	require.Empty(t, det.Detect(w))
}

func cloneContext(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
