package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mallku/internal/anchor"
	"mallku/internal/correlation"
	"mallku/internal/evolution"
	"mallku/internal/monitoring"
	"mallku/internal/patternlibrary"
	"mallku/internal/scoring"
	"mallku/internal/wisdom"
)

func TestEvolutionSweepJobEvolvesDecliningPattern(t *testing.T) {
	library := patternlibrary.New(nil)
	evo := evolution.New(library)
	ctx := context.Background()
	now := time.Now()

	p := &patternlibrary.Pattern{
		PatternID:      uuid.New(),
		LifecycleStage: patternlibrary.StageDeclining,
		FitnessScore:   0.4,
	}
	require.NoError(t, library.Store(ctx, p))

	job := EvolutionSweepJob(time.Hour, library, evo)
	require.NoError(t, job.Run(ctx, now))

	events := evo.Events()
	require.Len(t, events, 1)
	require.Equal(t, evolution.TypeDecay, events[0].Type)
}

func TestEvolutionSweepJobSkipsBelowProbabilityFloor(t *testing.T) {
	library := patternlibrary.New(nil)
	evo := evolution.New(library)
	ctx := context.Background()
	now := time.Now()

	// 60 observations triggers only the mutation opportunity, at its base
	// probability of 0.1 (fitness is not below 0.5, so it is never doubled)
	// — below the sweep's 0.5 floor, so it must be left alone.
	p := &patternlibrary.Pattern{
		PatternID:        uuid.New(),
		LifecycleStage:   patternlibrary.StageNascent,
		FitnessScore:     0.5,
		ObservationCount: 60,
	}
	require.NoError(t, library.Store(ctx, p))

	job := EvolutionSweepJob(time.Hour, library, evo)
	require.NoError(t, job.Run(ctx, now))
	require.Empty(t, evo.Events())
}

func TestWisdomPromotionJobPreservesQualifyingPatternOnce(t *testing.T) {
	library := patternlibrary.New(nil)
	wisdomEngine := wisdom.New(nil)
	ctx := context.Background()
	now := time.Now()

	p := &patternlibrary.Pattern{
		PatternID:              uuid.New(),
		Name:                   "deep coherence",
		Taxonomy:               patternlibrary.TaxonomyWisdom,
		ConsciousnessSignature: 0.9,
		Description:            "consciousness and wisdom in service of the future",
		Structure:              patternlibrary.Structure{Components: []string{"dialogue", "pause"}},
	}
	require.NoError(t, library.Store(ctx, p))

	job := WisdomPromotionJob(time.Hour, library, wisdomEngine, 0.6)
	require.NoError(t, job.Run(ctx, now))

	stored := library.Find(patternlibrary.Query{Taxonomy: patternlibrary.TaxonomyWisdom})
	require.Len(t, stored, 1)
	require.Contains(t, stored[0].Tags, wisdomPromotedTag)

	// Second sweep must not re-preserve the already-tagged pattern.
	require.NoError(t, job.Run(ctx, now))
	stored2 := library.Find(patternlibrary.Query{Taxonomy: patternlibrary.TaxonomyWisdom})
	require.Len(t, stored2[0].Tags, 1)
}

func TestWisdomPromotionJobSkipsBelowThreshold(t *testing.T) {
	library := patternlibrary.New(nil)
	wisdomEngine := wisdom.New(nil)
	ctx := context.Background()
	now := time.Now()

	p := &patternlibrary.Pattern{
		PatternID:              uuid.New(),
		Taxonomy:               patternlibrary.TaxonomyWisdom,
		ConsciousnessSignature: 0.3,
	}
	require.NoError(t, library.Store(ctx, p))

	job := WisdomPromotionJob(time.Hour, library, wisdomEngine, 0.6)
	require.NoError(t, job.Run(ctx, now))

	stored := library.Find(patternlibrary.Query{Taxonomy: patternlibrary.TaxonomyWisdom})
	require.Empty(t, stored[0].Tags)
}

func TestFeedbackFlushJobDrainsPartialBatch(t *testing.T) {
	engine := correlation.New(correlation.Config{
		RingBufferCap: 100,
		WindowSize:    time.Hour,
		OverlapFactor: 0.3,
		LearningBatch: 50,
	}, anchor.NewMemoryStore(), monitoring.NewMetrics(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.AddFeedback(&scoring.Feedback{
			CorrelationID:    uuid.New(),
			IsMeaningful:     true,
			ConfidenceRating: 0.8,
		}))
	}

	job := FeedbackFlushJob(time.Hour, engine)
	require.NoError(t, job.Run(ctx, time.Now()))

	require.Len(t, engine.Thresholds().PerformanceHistory, 1)
	require.Len(t, engine.Thresholds().FeedbackHistory, 5)

	// A second flush with nothing queued must be a harmless no-op.
	require.NoError(t, job.Run(ctx, time.Now()))
	require.Len(t, engine.Thresholds().PerformanceHistory, 1)
}
