// Package correlation implements the Correlation Engine (spec module E):
// the tick-driven pipeline that turns raw events into accepted, scored
// correlations, wiring together the windowing engine, the four detectors,
// the confidence scorer, and the adaptive acceptance gate. Grounded on the
// teacher's internal/trading/consensus/manager.go (a mutex-guarded
// coordinator fanning a decision out to subordinate subsystems and folding
// their results back into session state) and internal/eventbus/eventbus.go
// (the publish/subscribe shape used here for accepted-correlation
// broadcast).
package correlation

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mallku/internal/anchor"
	"mallku/internal/detectors"
	"mallku/internal/events"
	"mallku/internal/logger"
	"mallku/internal/merrorkind"
	"mallku/internal/monitoring"
	"mallku/internal/scoring"
	"mallku/internal/thresholds"
)

// Stats is the per-engine tick/acceptance counters the status query reads.
type Stats struct {
	TotalTicks           int64
	EventsProcessed      int64
	CorrelationsAccepted int64
	CorrelationsRejected int64
	AnchorsCreated       int64
	LastTick             time.Time
}

// Observer receives every correlation the engine accepts, used to back
// external broadcast (websocket hub, event bus) without coupling the core
// to a transport.
type Observer func(c *detectors.Correlation, confidence float64, factors map[string]float64)

// Engine is the single public process()/add_feedback() entry point the
// specification describes. All public methods are safe for concurrent use;
// process() itself is serialized so overlapping ticks never interleave.
type Engine struct {
	tickMu sync.Mutex

	windows    *events.Engine
	detectors  []detectors.Detector
	scorer     *scoring.Scorer
	thresholds *thresholds.State
	anchors    anchor.Store
	metrics    *monitoring.Metrics
	log        *logger.Logger

	statsMu sync.Mutex
	stats   Stats

	obsMu     sync.RWMutex
	observers []Observer

	feedback     *feedbackQueue
	correlations *correlationIndex

	learningBatch int

	// recent de-duplicates overlapping correlations across consecutive
	// ticks by (primary_event, pattern_type), keeping the higher-confidence
	// instance.
	recentMu sync.Mutex
	recent   map[dedupKey]*acceptedEntry
}

type dedupKey struct {
	primary uuid16
	pattern detectors.PatternType
}

// uuid16 avoids importing the uuid package here just for a map key; Engine
// only ever derives it from events.Event.EventID, which is a uuid.UUID
// (itself a [16]byte array, so it is already comparable and hashable).
type uuid16 = [16]byte

type acceptedEntry struct {
	confidence float64
	at         time.Time
}

// Config bundles the constructor knobs the specification exposes via
// environment configuration (window size, overlap, ring buffer capacity,
// learning batch size).
type Config struct {
	RingBufferCap int
	WindowSize    time.Duration
	OverlapFactor float64
	LearningBatch int
}

// New constructs an Engine ready to accept process() calls.
func New(cfg Config, anchors anchor.Store, metrics *monitoring.Metrics, log *logger.Logger) *Engine {
	learningBatch := cfg.LearningBatch
	if learningBatch <= 0 {
		learningBatch = 50
	}
	return &Engine{
		windows:       events.NewEngine(cfg.RingBufferCap, cfg.WindowSize, cfg.OverlapFactor),
		detectors:     detectors.All(),
		scorer:        scoring.NewScorer(),
		thresholds:    thresholds.NewState(),
		anchors:       anchors,
		metrics:       metrics,
		log:           log,
		feedback:      newFeedbackQueue(1000),
		correlations:  newCorrelationIndex(),
		learningBatch: learningBatch,
		recent:        make(map[dedupKey]*acceptedEntry),
	}
}

// Subscribe registers an observer invoked for every correlation accepted by
// a subsequent process() call.
func (e *Engine) Subscribe(obs Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, obs)
}

// Thresholds exposes the adaptive threshold state for persistence and the
// status query; the correlation engine owns it as its acceptance gate.
func (e *Engine) Thresholds() *thresholds.State { return e.thresholds }

// Scorer exposes the confidence scorer for persistence/status reporting.
func (e *Engine) Scorer() *scoring.Scorer { return e.scorer }

// Stats returns a point-in-time copy of the engine's tick counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Process runs one tick of the five-step algorithm: append/advance windows,
// detect in parallel per active window, score, gate on acceptance, anchor
// accepted correlations, and fold statistics back into the engine and the
// shared Metrics collector. A tick-level mutex guarantees only one call runs
// at a time; overlapping callers block rather than interleave windows.
func (e *Engine) Process(ctx context.Context, now time.Time, batch []*events.Event) ([]*detectors.Correlation, error) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	success := true

	e.windows.Advance(now)

	validationErrs := e.windows.Append(now, batch)
	for range validationErrs {
		e.metrics.RecordInvariantViolation()
	}
	for range batch {
		e.metrics.RecordEventIngested()
	}

	active := e.windows.ActiveWindows()

	raw := e.detectInParallel(ctx, active)

	accepted := make([]*detectors.Correlation, 0, len(raw))
	var rejected int
	for _, c := range raw {
		confidence, factors := e.scorer.Score(c, nil, now)
		c.RawConfidence = confidence
		for k, v := range factors {
			c.ConfidenceFactors[k] = v
		}

		if !e.thresholds.ShouldAccept(confidence, c.OccurrenceFrequency, string(c.PatternType)) {
			rejected++
			e.metrics.RecordCorrelation(false)
			continue
		}

		if !e.admitDeduplicated(c, confidence, now) {
			rejected++
			continue
		}

		e.metrics.RecordCorrelation(true)
		accepted = append(accepted, c)
		e.correlations.record(c.CorrelationID, factors, string(c.PatternType))

		if e.anchors != nil {
			a := anchorFromCorrelation(c)
			if _, err := e.anchors.Create(ctx, a); err != nil {
				if e.log != nil {
					e.log.Warn("memory anchor creation failed", "error", err.Error(), "correlation_id", c.CorrelationID.String())
				}
				success = false
			} else {
				e.statsMu.Lock()
				e.stats.AnchorsCreated++
				e.statsMu.Unlock()
			}
		}

		e.notify(c, confidence, factors)
	}

	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.EventsProcessed += int64(len(batch))
	e.stats.CorrelationsAccepted += int64(len(accepted))
	e.stats.CorrelationsRejected += int64(rejected)
	e.stats.LastTick = now
	e.statsMu.Unlock()

	durationMs := float64(time.Since(start).Microseconds()) / 1000.0
	e.metrics.RecordTick(durationMs, success, durationMs > 2000)

	return accepted, nil
}

// detectInParallel runs every detector against every active window
// concurrently, isolating per-detector panics/errors so one failing
// detector never drops the others' results for the same window.
func (e *Engine) detectInParallel(ctx context.Context, windows []*events.Window) []*detectors.Correlation {
	type slot struct {
		out []*detectors.Correlation
	}
	slots := make([]slot, len(windows)*len(e.detectors))

	g, _ := errgroup.WithContext(ctx)
	idx := 0
	for _, w := range windows {
		w := w
		for _, d := range e.detectors {
			d := d
			slotIdx := idx
			idx++
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						if e.log != nil {
							e.log.Error("detector panicked", merrorkind.Invariant("correlation", "detector panic recovered", nil), "pattern_type", string(d.PatternType()))
						}
						err = nil
					}
				}()
				slots[slotIdx].out = d.Detect(w)
				return nil
			})
		}
	}
	_ = g.Wait()

	var out []*detectors.Correlation
	for _, s := range slots {
		out = append(out, s.out...)
	}
	return out
}

// admitDeduplicated keeps the higher-confidence instance whenever two ticks
// produce overlapping correlations for the same (primary_event, pattern_type)
// pair, per the specification's de-duplication rule.
func (e *Engine) admitDeduplicated(c *detectors.Correlation, confidence float64, now time.Time) bool {
	key := dedupKey{primary: c.PrimaryEvent.EventID, pattern: c.PatternType}

	e.recentMu.Lock()
	defer e.recentMu.Unlock()

	// opportunistically prune entries older than an hour so the map never
	// grows unbounded across a long-running process.
	for k, v := range e.recent {
		if now.Sub(v.at) > time.Hour {
			delete(e.recent, k)
		}
	}

	prior, ok := e.recent[key]
	if ok && prior.confidence >= confidence {
		return false
	}
	e.recent[key] = &acceptedEntry{confidence: confidence, at: now}
	return true
}

func (e *Engine) notify(c *detectors.Correlation, confidence float64, factors map[string]float64) {
	e.obsMu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.obsMu.RUnlock()

	for _, obs := range observers {
		obs(c, confidence, factors)
	}
}

func anchorFromCorrelation(c *detectors.Correlation) *anchor.Anchor {
	cursors := map[string]anchor.Cursor{
		streamKey(c.PrimaryEvent): {Timestamp: c.PrimaryEvent.Timestamp, Content: c.PrimaryEvent.Content},
	}
	for _, e := range c.CorrelatedEvents {
		cursors[streamKey(e)] = anchor.Cursor{Timestamp: e.Timestamp, Content: e.Content}
	}
	return &anchor.Anchor{
		AnchorID:  c.CorrelationID,
		Timestamp: c.DetectionTimestamp,
		Cursors:   cursors,
		Metadata: map[string]interface{}{
			"pattern_type":         string(c.PatternType),
			"confidence_score":     c.RawConfidence,
			"occurrence_frequency": c.OccurrenceFrequency,
		},
	}
}

func streamKey(e *events.Event) string {
	return string(e.EventType) + ":" + e.StreamID
}
