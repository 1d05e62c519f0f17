package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mallku/internal/anchor"
	"mallku/internal/events"
	"mallku/internal/monitoring"
	"mallku/internal/scoring"
)

func newTestEngine() *Engine {
	return New(Config{
		RingBufferCap: 10000,
		WindowSize:    2 * time.Hour,
		OverlapFactor: 0.3,
		LearningBatch: 50,
	}, anchor.NewMemoryStore(), monitoring.NewMetrics(), nil)
}

func TestProcessAcceptsRepeatedSequentialPattern(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	base := time.Now()

	// Each tick's event timestamp equals the tick's "now", so the
	// forward-looking window (established at the very first tick) always
	// brackets it. The comm->storage gap is carried across two ticks 5
	// seconds apart instead of within one, so every Process call keeps its
	// batch timestamp aligned with its own "now".
	var lastAccepted []int
	var totalEventsSent int
	for i := 0; i < 3; i++ {
		commTick := base.Add(time.Duration(i) * time.Minute)
		storageTick := commTick.Add(5 * time.Second)

		commBatch := []*events.Event{
			events.NewEvent(events.TypeCommunication, "phone", commTick, map[string]interface{}{"seq": i}, map[string]interface{}{"room": "kitchen"}),
		}
		totalEventsSent += len(commBatch)
		_, err := e.Process(ctx, commTick, commBatch)
		require.NoError(t, err)

		storageBatch := []*events.Event{
			events.NewEvent(events.TypeStorage, "nas", storageTick, map[string]interface{}{"seq": i}, map[string]interface{}{"room": "kitchen"}),
		}
		totalEventsSent += len(storageBatch)
		got, err := e.Process(ctx, storageTick, storageBatch)
		require.NoError(t, err)
		lastAccepted = append(lastAccepted, len(got))
	}

	var totalAccepted int
	for _, n := range lastAccepted {
		totalAccepted += n
	}
	require.Greater(t, totalAccepted, 0)

	stats := e.Stats()
	require.Equal(t, int64(6), stats.TotalTicks)
	require.Equal(t, int64(totalEventsSent), stats.EventsProcessed)
	require.GreaterOrEqual(t, stats.AnchorsCreated, int64(1))
}

func TestProcessRejectsSingleOccurrence(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	now := time.Now()

	batch := []*events.Event{
		events.NewEvent(events.TypeActivity, "motion", now, nil, nil),
	}

	accepted, err := e.Process(ctx, now, batch)
	require.NoError(t, err)
	require.Empty(t, accepted)
}

func TestAddFeedbackTriggersBatchedLearning(t *testing.T) {
	e := newTestEngine()
	e.learningBatch = 5

	for i := 0; i < 4; i++ {
		require.NoError(t, e.AddFeedback(&scoring.Feedback{
			IsMeaningful:      true,
			ConfidenceRating:  0.8,
			FeedbackTimestamp: time.Now(),
		}))
	}
	require.Equal(t, 4, e.feedback.len())

	require.NoError(t, e.AddFeedback(&scoring.Feedback{
		IsMeaningful:      false,
		ConfidenceRating:  0.3,
		FeedbackTimestamp: time.Now(),
	}))
	require.Equal(t, 0, e.feedback.len())
}

func TestFeedbackQueueDiscardsOldestOnOverflow(t *testing.T) {
	q := newFeedbackQueue(2)
	require.False(t, q.push(&scoring.Feedback{Explanation: "a"}))
	require.False(t, q.push(&scoring.Feedback{Explanation: "b"}))
	require.True(t, q.push(&scoring.Feedback{Explanation: "c"}))

	items := q.drain()
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].Explanation)
	require.Equal(t, "c", items[1].Explanation)
}
