package correlation

import (
	"sync"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
	"mallku/internal/scoring"
	"mallku/internal/thresholds"
)

// feedbackQueue is a bounded, discard-oldest-on-overflow buffer of pending
// feedback, mirroring the specification's backpressure rule for
// add_feedback(f): a full queue drops its oldest entry rather than blocking
// the caller or growing without limit.
type feedbackQueue struct {
	mu       sync.Mutex
	capacity int
	items    []*scoring.Feedback
}

func newFeedbackQueue(capacity int) *feedbackQueue {
	return &feedbackQueue{capacity: capacity}
}

func (q *feedbackQueue) push(f *scoring.Feedback) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, f)
	return dropped
}

func (q *feedbackQueue) drain() []*scoring.Feedback {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	return out
}

func (q *feedbackQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// correlationIndex is the minimal lookup the engine needs to turn a raw
// Feedback item (which only carries a correlation_id) back into the factor
// breakdown and pattern type UpdateFromFeedback requires.
type correlationIndex struct {
	mu   sync.Mutex
	byID map[uuid.UUID]indexedCorrelation
}

type indexedCorrelation struct {
	factors     map[string]float64
	patternType string
}

func newCorrelationIndex() *correlationIndex {
	return &correlationIndex{byID: make(map[uuid.UUID]indexedCorrelation)}
}

func (idx *correlationIndex) record(id uuid.UUID, factors map[string]float64, patternType string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byID[id] = indexedCorrelation{factors: factors, patternType: patternType}
}

func (idx *correlationIndex) lookup(id uuid.UUID) (indexedCorrelation, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	v, ok := idx.byID[id]
	return v, ok
}

// AddFeedback enqueues a supervision signal for a previously emitted
// correlation. Once the queue reaches the configured learning batch size,
// it is drained and folded into both the Scorer's factor weights and the
// Thresholds controller's acceptance gate in one pass.
func (e *Engine) AddFeedback(f *scoring.Feedback) error {
	if f == nil {
		return merrorkind.Validation("correlation", "feedback must not be nil", nil)
	}

	dropped := e.feedback.push(f)
	if dropped && e.log != nil {
		e.log.Warn("feedback queue full, oldest entry discarded")
	}

	if e.feedback.len() >= e.learningBatch {
		e.applyFeedbackBatch()
	}
	return nil
}

// FlushFeedback forces a learning pass over whatever feedback is currently
// queued, regardless of whether it has reached learning_batch. The
// maintenance lane (§9) calls this on its own interval so feedback arriving
// in small trickles still reaches the learners instead of waiting
// indefinitely for the batch to fill; it takes only the feedback queue and
// correlation index locks, never the tick lock. The scorer and thresholds
// state it updates carry no lock of their own.
func (e *Engine) FlushFeedback() {
	if e.feedback.len() == 0 {
		return
	}
	e.applyFeedbackBatch()
}

// applyFeedbackBatch drains the pending feedback queue and updates both
// learners. Items referencing a correlation the engine no longer has an
// indexed factor breakdown for (evicted, or never observed this process)
// still count toward the threshold controller's precision/recall signal,
// since that only needs is_meaningful/confidence_rating.
func (e *Engine) applyFeedbackBatch() {
	batch := e.feedback.drain()
	if len(batch) == 0 {
		return
	}

	var scoreSamples []scoring.FeedbackSample
	var thresholdSamples []thresholds.FeedbackOutcome

	for _, f := range batch {
		thresholdSamples = append(thresholdSamples, thresholds.FeedbackOutcome{
			IsMeaningful: f.IsMeaningful,
			Confidence:   f.ConfidenceRating,
		})

		if indexed, ok := e.correlations.lookup(f.CorrelationID); ok {
			scoreSamples = append(scoreSamples, scoring.FeedbackSample{
				Factors:      indexed.factors,
				IsMeaningful: f.IsMeaningful,
			})
		}
	}

	if err := e.scorer.UpdateFromFeedback(scoreSamples); err != nil {
		e.metrics.RecordThresholdUpdate(true)
		if e.log != nil {
			e.log.Warn("scorer weight update stalled", "reason", err.Error())
		}
	} else {
		e.metrics.RecordThresholdUpdate(false)
	}

	if err := e.thresholds.UpdateFromFeedback(thresholdSamples); err != nil {
		e.metrics.RecordThresholdUpdate(true)
		if e.log != nil {
			e.log.Warn("threshold update stalled", "reason", err.Error())
		}
	} else {
		e.metrics.RecordThresholdUpdate(false)
	}
}
