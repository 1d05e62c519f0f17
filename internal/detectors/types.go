// Package detectors implements the four temporal-pattern detection
// algorithms that run over a correlation window (spec module B).
package detectors

import (
	"time"

	"github.com/google/uuid"

	"mallku/internal/events"
)

// PatternType is the closed set of correlation shapes a detector can emit.
type PatternType string

const (
	PatternSequential PatternType = "sequential"
	PatternConcurrent PatternType = "concurrent"
	PatternCyclical   PatternType = "cyclical"
	PatternContextual PatternType = "contextual"
)

// Correlation is one raw detection instance, prior to confidence scoring.
type Correlation struct {
	CorrelationID       uuid.UUID
	PrimaryEvent        *events.Event
	CorrelatedEvents    []*events.Event
	TemporalGap         time.Duration
	GapVariance         float64
	TemporalPrecision   events.Precision
	OccurrenceFrequency int
	PatternStability    float64
	PatternType         PatternType
	ConfidenceFactors   map[string]float64 // partial: raw detector signals, not yet the five scorer factors
	RawConfidence       float64
	DetectionTimestamp  time.Time
	LastOccurrence      time.Time
}

// Detector is the common contract every detection algorithm implements.
type Detector interface {
	PatternType() PatternType
	Detect(w *events.Window) []*Correlation
}

// minConfidence is the floor every detector applies before returning a
// correlation.
const minConfidence = 0.6

// group is a time-sorted set of events sharing (event_type, stream_id).
type group struct {
	eventType events.Type
	streamID  string
	events    []*events.Event
}

func groupByTypeAndStream(w *events.Window) []group {
	index := make(map[string]*group)
	var order []string
	for _, e := range w.Events {
		key := string(e.EventType) + "|" + e.StreamID
		g, ok := index[key]
		if !ok {
			g = &group{eventType: e.EventType, streamID: e.StreamID}
			index[key] = g
			order = append(order, key)
		}
		g.events = append(g.events, e)
	}
	out := make([]group, 0, len(order))
	for _, key := range order {
		out = append(out, *index[key])
	}
	return out
}

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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func newCorrelation(primary *events.Event, correlated []*events.Event, pt PatternType) *Correlation {
	last := primary.Timestamp
	for _, e := range correlated {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return &Correlation{
		CorrelationID:      uuid.New(),
		PrimaryEvent:       primary,
		CorrelatedEvents:   correlated,
		PatternType:        pt,
		ConfidenceFactors:  map[string]float64{},
		DetectionTimestamp: time.Now(),
		LastOccurrence:     last,
	}
}
