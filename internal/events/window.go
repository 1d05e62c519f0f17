package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
)

// Precision is the closed set of temporal granularities a window or
// correlation can be tagged with.
type Precision string

const (
	PrecisionInstant  Precision = "instant"
	PrecisionMinute   Precision = "minute"
	PrecisionSession  Precision = "session"
	PrecisionDaily    Precision = "daily"
	PrecisionCyclical Precision = "cyclical"
)

// Window is an interval of events bracketed by [Start, End]. Both ends are
// inclusive: an event stamped exactly at End falls inside the window.
type Window struct {
	WindowID      uuid.UUID
	Start         time.Time
	End           time.Time
	Precision     Precision
	OverlapFactor float64
	MinimumEvents int
	Events        []*Event
	seen          map[uuid.UUID]struct{}
}

func newWindow(start, end time.Time, overlapFactor float64) *Window {
	return &Window{
		WindowID:      uuid.New(),
		Start:         start,
		End:           end,
		Precision:     PrecisionSession,
		OverlapFactor: overlapFactor,
		MinimumEvents: 2,
		Events:        nil,
		seen:          make(map[uuid.UUID]struct{}),
	}
}

// brackets reports whether timestamp t falls within [Start, End].
func (w *Window) brackets(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// add inserts e into the window if not already present, keeping Events
// sorted by timestamp.
func (w *Window) add(e *Event) {
	if _, ok := w.seen[e.EventID]; ok {
		return
	}
	w.seen[e.EventID] = struct{}{}
	w.Events = append(w.Events, e)
	sort.Slice(w.Events, func(i, j int) bool {
		return w.Events[i].Timestamp.Before(w.Events[j].Timestamp)
	})
}

// Duration reports End - Start.
func (w *Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Engine owns the event ring buffer and the set of live windows for one
// correlation engine instance (spec module A: "append/advance").
type Engine struct {
	mu            sync.Mutex
	buffer        *RingBuffer
	windows       []*Window
	windowSize    time.Duration
	overlapFactor float64
}

// NewEngine constructs a windowing Engine with the given ring buffer
// capacity, window size, and overlap factor (fraction of windowSize shared
// between adjacent windows).
func NewEngine(bufferCapacity int, windowSize time.Duration, overlapFactor float64) *Engine {
	return &Engine{
		buffer:        NewRingBuffer(bufferCapacity),
		windowSize:    windowSize,
		overlapFactor: overlapFactor,
	}
}

// Append validates and inserts events into the ring buffer and distributes
// each to every live window that brackets its timestamp. Invariant
// violations are returned for the caller to log and discard; valid events
// are still processed even when some in the batch are rejected.
func (e *Engine) Append(now time.Time, evts []*Event) []error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, evt := range evts {
		if err := evt.Validate(now); err != nil {
			errs = append(errs, err)
			continue
		}
		e.buffer.Append(evt)
		for _, w := range e.windows {
			if w.brackets(evt.Timestamp) {
				w.add(evt)
			}
		}
	}
	return errs
}

// Advance creates zero or more new overlapping windows so the latest
// window's end time is at least now, and retires windows whose age
// exceeds 2x the configured window size.
func (e *Engine) Advance(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.windows) == 0 {
		w := newWindow(now, now.Add(e.windowSize), e.overlapFactor)
		e.backfill(w)
		e.windows = append(e.windows, w)
	}

	for {
		latest := e.windows[len(e.windows)-1]
		if latest.End.After(now) || latest.End.Equal(now) {
			break
		}
		step := e.windowSize - time.Duration(float64(e.windowSize)*e.overlapFactor)
		newStart := latest.Start.Add(step)
		w := newWindow(newStart, newStart.Add(e.windowSize), e.overlapFactor)
		e.backfill(w)
		e.windows = append(e.windows, w)
	}

	retireBefore := now.Add(-2 * e.windowSize)
	kept := e.windows[:0]
	for _, w := range e.windows {
		if w.Start.After(retireBefore) {
			kept = append(kept, w)
		}
	}
	e.windows = kept
}

// backfill populates a freshly created window from the current ring buffer
// contents, since the buffer may already hold events that fall in range.
func (e *Engine) backfill(w *Window) {
	for _, evt := range e.buffer.Snapshot() {
		if w.brackets(evt.Timestamp) {
			w.add(evt)
		}
	}
}

// ActiveWindows returns the windows currently eligible for detection
// (minimum_events satisfied), oldest first.
func (e *Engine) ActiveWindows() []*Window {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Window, 0, len(e.windows))
	for _, w := range e.windows {
		if len(w.Events) >= w.MinimumEvents {
			out = append(out, w)
		}
	}
	return out
}

// BufferLen reports the current ring buffer occupancy.
func (e *Engine) BufferLen() int { return e.buffer.Len() }

// PrecisionForGap maps a mean gap duration to a temporal precision bucket.
// The sequential and contextual detectors use it; the cyclical detector
// buckets its periods on its own.
func PrecisionForGap(gap time.Duration) Precision {
	switch {
	case gap < 60*time.Second:
		return PrecisionInstant
	case gap < 300*time.Second:
		return PrecisionMinute
	case gap < 1800*time.Second:
		return PrecisionSession
	case gap < 14400*time.Second:
		return PrecisionDaily
	default:
		return PrecisionCyclical
	}
}

// ValidateWindow checks the interval invariants for w (End after Start),
// returning an InvariantViolation if any event falls outside the closed
// range [Start, End].
func ValidateWindow(w *Window) error {
	if !w.End.After(w.Start) {
		return merrorkind.Invariant("events", "window end_time must be after start_time", nil)
	}
	for _, evt := range w.Events {
		if evt.Timestamp.Before(w.Start) || evt.Timestamp.After(w.End) {
			return merrorkind.Invariant("events", "window contains an out-of-range event", nil)
		}
	}
	return nil
}
