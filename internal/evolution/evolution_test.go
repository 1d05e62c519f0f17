package evolution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mallku/internal/patternlibrary"
)

func newEstablishedPattern(fitness float64) *patternlibrary.Pattern {
	return &patternlibrary.Pattern{
		PatternID:              uuid.New(),
		Taxonomy:               patternlibrary.TaxonomyConsciousness,
		PatternType:            patternlibrary.TypeConvergence,
		FitnessScore:           fitness,
		ConsciousnessSignature: 0.5,
		LifecycleStage:         patternlibrary.StageEstablished,
		BirthDate:              time.Now(),
		LastObserved:           time.Now(),
		ObservationCount:       10,
	}
}

func TestEvaluateFitnessAveragesFiveMetrics(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	now := time.Now()

	p := newEstablishedPattern(0.8)
	p.BreakthroughPotential = 0.6
	require.NoError(t, lib.Store(context.Background(), p))

	m := eng.EvaluateFitness(p, nil, now)
	require.InDelta(t, 0.8, m.Effectiveness, 0.001)
	require.Equal(t, 0.5, m.ConsciousnessAlignment)
	require.Equal(t, 0.6, m.EmergenceContribution)
	expectedOverall := (m.Effectiveness + m.Adaptability + m.SynergyPotential + m.ConsciousnessAlignment + m.EmergenceContribution) / 5
	require.InDelta(t, expectedOverall, m.Overall, 0.0001)
}

func TestEvaluateFitnessIsCachedForOneHour(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	now := time.Now()

	p := newEstablishedPattern(0.8)
	require.NoError(t, lib.Store(context.Background(), p))

	first := eng.EvaluateFitness(p, nil, now)

	p.FitnessScore = 0.1
	second := eng.EvaluateFitness(p, nil, now.Add(30*time.Minute))
	require.Equal(t, first, second)

	third := eng.EvaluateFitness(p, nil, now.Add(61*time.Minute))
	require.NotEqual(t, first.Effectiveness, third.Effectiveness)
}

func TestDetectOpportunityDecayFiresForDecliningPattern(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	now := time.Now()

	p := newEstablishedPattern(0.3)
	p.LifecycleStage = patternlibrary.StageDeclining
	require.NoError(t, lib.Store(context.Background(), p))

	metrics := eng.EvaluateFitness(p, nil, now)
	opportunities := eng.DetectOpportunity(p, metrics, now)

	require.NotEmpty(t, opportunities)
	require.Equal(t, TypeDecay, opportunities[0].Type)
	require.Equal(t, 0.8, opportunities[0].Probability)
}

func TestDetectOpportunityExtinctionOutranksDecay(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	now := time.Now()

	p := newEstablishedPattern(0.0)
	p.LifecycleStage = patternlibrary.StageDeclining
	p.ConsciousnessSignature = 0
	p.ObservationCount = 1
	p.LastObserved = now.Add(-60 * 24 * time.Hour)
	p.ContextRequirements = map[string]interface{}{"mode": "dialogue"}
	require.NoError(t, lib.Store(context.Background(), p))

	metrics := eng.EvaluateFitness(p, map[string]interface{}{"mode": "solo"}, now)
	require.Less(t, metrics.Overall, 0.2)

	opportunities := eng.DetectOpportunity(p, metrics, now)
	require.Equal(t, TypeExtinction, opportunities[0].Type)
	require.Equal(t, 0.9, opportunities[0].Probability)
}

func TestDetectOpportunityMutationDoublesProbabilityBelowThreshold(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	now := time.Now()

	weak := newEstablishedPattern(0.3)
	weak.ObservationCount = 51
	require.NoError(t, lib.Store(context.Background(), weak))

	metrics := eng.EvaluateFitness(weak, nil, now)
	opportunities := eng.DetectOpportunity(weak, metrics, now)

	var found bool
	for _, o := range opportunities {
		if o.Type == TypeMutation {
			found = true
			require.Equal(t, 0.2, o.Probability)
		}
	}
	require.True(t, found)
}

func TestEvolveAdaptationMergesContextAndAdvancesLifecycle(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	parent := newEstablishedPattern(0.8)
	parent.ContextRequirements = map[string]interface{}{"mode": "dialogue"}
	require.NoError(t, lib.Store(ctx, parent))

	child, err := eng.Evolve(ctx, parent.PatternID, TypeAdaptation, map[string]interface{}{"mode": "solo"}, nil, now)
	require.NoError(t, err)
	require.Equal(t, patternlibrary.StageEvolving, child.LifecycleStage)
	require.Equal(t, "solo", child.ContextRequirements["mode"])
	require.Contains(t, child.ParentPatterns, parent.PatternID)

	events := eng.Events()
	require.Len(t, events, 1)
	require.Equal(t, TypeAdaptation, events[0].Type)
}

func TestEvolveFusionAveragesConsciousnessAndDedupsIndicators(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	a := newEstablishedPattern(0.6)
	a.ConsciousnessSignature = 0.4
	a.Indicators = []patternlibrary.Indicator{{Type: "x", Weight: 1, Threshold: 0.5}}
	require.NoError(t, lib.Store(ctx, a))

	b := newEstablishedPattern(0.7)
	b.ConsciousnessSignature = 0.8
	b.Indicators = []patternlibrary.Indicator{{Type: "x", Weight: 1, Threshold: 0.5}, {Type: "y", Weight: 1, Threshold: 0.3}}
	require.NoError(t, lib.Store(ctx, b))

	child, err := eng.Evolve(ctx, a.PatternID, TypeFusion, nil, []uuid.UUID{b.PatternID}, now)
	require.NoError(t, err)
	require.InDelta(t, 0.6, child.ConsciousnessSignature, 0.0001)
	require.Len(t, child.Indicators, 2)
	require.Equal(t, patternlibrary.TypeSynthesis, child.PatternType)
	require.Contains(t, child.ParentPatterns, b.PatternID)
}

func TestEvolveFissionSplitsIndicatorsAcrossTwoChildren(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	parent := newEstablishedPattern(0.5)
	parent.LifecycleStage = patternlibrary.StageEvolving
	parent.Indicators = []patternlibrary.Indicator{
		{Type: "a", Weight: 1, Threshold: 0.1},
		{Type: "b", Weight: 1, Threshold: 0.2},
		{Type: "c", Weight: 1, Threshold: 0.3},
		{Type: "d", Weight: 1, Threshold: 0.4},
	}
	require.NoError(t, lib.Store(ctx, parent))

	first, err := eng.Evolve(ctx, parent.PatternID, TypeFission, nil, nil, now)
	require.NoError(t, err)
	require.Len(t, first.Indicators, 2)

	gotParent, err := lib.Retrieve(ctx, parent.PatternID)
	require.NoError(t, err)
	require.Len(t, gotParent.ChildPatterns, 2)

	events := eng.Events()
	require.Len(t, events, 1)
	require.Len(t, events[0].ChildIDs, 2)
}

func TestEvolveTranscendenceBoostsConsciousnessAndCapsIndicators(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	parent := newEstablishedPattern(0.75)
	parent.ConsciousnessSignature = 0.7
	parent.BreakthroughPotential = 0.6
	parent.Indicators = []patternlibrary.Indicator{
		{Type: "a", Weight: 0.1, Threshold: 0.1},
		{Type: "b", Weight: 0.9, Threshold: 0.2},
		{Type: "c", Weight: 0.5, Threshold: 0.3},
		{Type: "d", Weight: 0.7, Threshold: 0.4},
	}
	require.NoError(t, lib.Store(ctx, parent))

	child, err := eng.Evolve(ctx, parent.PatternID, TypeTranscendence, nil, nil, now)
	require.NoError(t, err)
	require.Equal(t, patternlibrary.StageEstablished, child.LifecycleStage)
	require.InDelta(t, 0.9, child.ConsciousnessSignature, 0.0001)
	require.Len(t, child.Indicators, 3)
	require.Equal(t, "b", child.Indicators[0].Type)
}

func TestEvolveDecayLowersFitnessAndStage(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	p := newEstablishedPattern(0.5)
	require.NoError(t, lib.Store(ctx, p))

	out, err := eng.Evolve(ctx, p.PatternID, TypeDecay, nil, nil, now)
	require.NoError(t, err)
	require.Equal(t, patternlibrary.StageDeclining, out.LifecycleStage)
	require.InDelta(t, 0.3, out.FitnessScore, 0.0001)
}

func TestEvolveExtinctionZeroesFitnessAndDormant(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()
	now := time.Now()

	p := newEstablishedPattern(0.4)
	require.NoError(t, lib.Store(ctx, p))

	out, err := eng.Evolve(ctx, p.PatternID, TypeExtinction, nil, nil, now)
	require.NoError(t, err)
	require.Equal(t, patternlibrary.StageDormant, out.LifecycleStage)
	require.Equal(t, 0.0, out.FitnessScore)
}

func TestEvolveUnknownTypeErrors(t *testing.T) {
	lib := patternlibrary.New(nil)
	eng := New(lib)
	ctx := context.Background()

	p := newEstablishedPattern(0.5)
	require.NoError(t, lib.Store(ctx, p))

	_, err := eng.Evolve(ctx, p.PatternID, Type("unknown"), nil, nil, time.Now())
	require.Error(t, err)
}
