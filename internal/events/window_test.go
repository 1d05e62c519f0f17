package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendRejectsOutOfRangeTimestamp(t *testing.T) {
	eng := NewEngine(10000, 2*time.Hour, 0.3)
	now := time.Now()
	evt := NewEvent(TypeActivity, "stream-1", now.Add(time.Hour), nil, nil)

	errs := eng.Append(now, []*Event{evt})
	require.Len(t, errs, 1)
	require.Equal(t, 0, eng.BufferLen())
}

func TestAdvanceCreatesOverlappingWindows(t *testing.T) {
	eng := NewEngine(10000, 2*time.Hour, 0.3)
	now := time.Now()

	eng.Advance(now)
	require.Len(t, eng.windows, 1)

	later := now.Add(3 * time.Hour)
	eng.Advance(later)
	require.True(t, len(eng.windows) >= 1)
	latest := eng.windows[len(eng.windows)-1]
	require.True(t, !latest.End.Before(later))
}

func TestSingleEventWindowYieldsNoActiveWindow(t *testing.T) {
	eng := NewEngine(10000, 2*time.Hour, 0.3)
	now := time.Now()
	eng.Advance(now)
	eng.Append(now, []*Event{NewEvent(TypeActivity, "s1", now, nil, nil)})

	require.Empty(t, eng.ActiveWindows())
}

func TestDuplicateEventInsertIsIdempotent(t *testing.T) {
	eng := NewEngine(10000, 2*time.Hour, 0.3)
	now := time.Now()
	eng.Advance(now)
	evt := NewEvent(TypeActivity, "s1", now, nil, nil)
	eng.Append(now, []*Event{evt, evt})
	eng.Append(now, []*Event{evt})

	w := eng.windows[0]
	require.Len(t, w.Events, 1)
}

func TestRingBufferEvictsOldestAtCapacity(t *testing.T) {
	buf := NewRingBuffer(3)
	now := time.Now()
	first := NewEvent(TypeActivity, "s1", now, nil, nil)
	buf.Append(first)
	buf.Append(NewEvent(TypeActivity, "s1", now, nil, nil))
	buf.Append(NewEvent(TypeActivity, "s1", now, nil, nil))
	buf.Append(NewEvent(TypeActivity, "s1", now, nil, nil))

	require.Equal(t, 3, buf.Len())
	require.False(t, buf.Contains(first.EventID))
}

func TestPrecisionForGapBuckets(t *testing.T) {
	require.Equal(t, PrecisionInstant, PrecisionForGap(10*time.Second))
	require.Equal(t, PrecisionMinute, PrecisionForGap(100*time.Second))
	require.Equal(t, PrecisionSession, PrecisionForGap(1000*time.Second))
	require.Equal(t, PrecisionDaily, PrecisionForGap(10000*time.Second))
	require.Equal(t, PrecisionCyclical, PrecisionForGap(100000*time.Second))
}
