package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/events"
)

func windowWith(evts ...*events.Event) *events.Window {
	if len(evts) == 0 {
		return &events.Window{MinimumEvents: 2}
	}
	start := evts[0].Timestamp
	end := evts[0].Timestamp
	for _, e := range evts {
		if e.Timestamp.Before(start) {
			start = e.Timestamp
		}
		if e.Timestamp.After(end) {
			end = e.Timestamp
		}
	}
	return &events.Window{
		Start:         start.Add(-time.Second),
		End:           end.Add(time.Second),
		MinimumEvents: 2,
		Events:        evts,
	}
}

func TestSequentialDetectorMinOccurrences(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var evts []*events.Event
	for i := 0; i < 3; i++ {
		offset := time.Duration(i) * 60 * time.Second
		evts = append(evts,
			events.NewEvent(events.TypeCommunication, "S1", base.Add(offset), nil, nil),
			events.NewEvent(events.TypeStorage, "S2", base.Add(offset+5*time.Second), nil, nil),
		)
	}

	w := windowWith(evts...)
	require.NotNil(t, w)

	det := NewSequentialDetector()
	corrs := det.Detect(w)
	require.NotEmpty(t, corrs)

	found := false
	for _, c := range corrs {
		if c.PatternType == PatternSequential && c.OccurrenceFrequency == 3 {
			found = true
			require.InDelta(t, 5*time.Second, c.TemporalGap, float64(time.Second))
			require.Equal(t, events.PrecisionInstant, c.TemporalPrecision)
			require.GreaterOrEqual(t, c.RawConfidence, 0.6)
		}
	}
	require.True(t, found)
}

func TestCyclicalDetectorPerfectPeriod(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var evts []*events.Event
	for i := 0; i < 4; i++ {
		evts = append(evts, events.NewEvent(events.TypeActivity, "S1", base.Add(time.Duration(i)*24*time.Hour), nil, nil))
	}

	w := windowWith(evts...)
	require.NotNil(t, w)

	det := NewCyclicalDetector()
	corrs := det.Detect(w)
	require.NotEmpty(t, corrs)
	require.InDelta(t, 1.0, corrs[0].PatternStability, 0.01)
	require.Equal(t, events.PrecisionDaily, corrs[0].TemporalPrecision)
}

func TestSingleEventProducesNoCorrelations(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evts := []*events.Event{events.NewEvent(events.TypeActivity, "S1", base, nil, nil)}
	w := windowWith(evts...)
	require.NotNil(t, w)

	for _, det := range All() {
		require.Empty(t, det.Detect(w))
	}
}
