package patternlibrary

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mallku/internal/store"
)

func newPattern(taxonomy Taxonomy, fitness float64) *Pattern {
	return &Pattern{
		PatternID:      uuid.New(),
		Taxonomy:       taxonomy,
		PatternType:    TypeConvergence,
		FitnessScore:   fitness,
		LifecycleStage: StageNascent,
		BirthDate:      time.Now(),
	}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	lib := New(nil)
	p := newPattern(TaxonomyConsciousness, 0.5)

	require.NoError(t, lib.Store(context.Background(), p))

	got, err := lib.Retrieve(context.Background(), p.PatternID)
	require.NoError(t, err)
	require.Equal(t, p.PatternID, got.PatternID)
}

func TestFindOrdersByFitnessThenObservationCount(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()

	low := newPattern(TaxonomyWisdom, 0.2)
	high := newPattern(TaxonomyWisdom, 0.9)
	tieA := newPattern(TaxonomyWisdom, 0.5)
	tieA.ObservationCount = 10
	tieB := newPattern(TaxonomyWisdom, 0.5)
	tieB.ObservationCount = 20

	for _, p := range []*Pattern{low, high, tieA, tieB} {
		require.NoError(t, lib.Store(ctx, p))
	}

	out := lib.Find(Query{Taxonomy: TaxonomyWisdom})
	require.Len(t, out, 4)
	require.Equal(t, high.PatternID, out[0].PatternID)
	require.Equal(t, tieB.PatternID, out[1].PatternID)
	require.Equal(t, tieA.PatternID, out[2].PatternID)
	require.Equal(t, low.PatternID, out[3].PatternID)
}

func TestFindEmergingFiltersByWindowAndBreakthrough(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()
	now := time.Now()

	fresh := newPattern(TaxonomyEmergence, 0.5)
	fresh.LifecycleStage = StageEmerging
	fresh.LastObserved = now
	fresh.BreakthroughPotential = 0.8
	require.NoError(t, lib.Store(ctx, fresh))

	stale := newPattern(TaxonomyEmergence, 0.5)
	stale.LifecycleStage = StageEmerging
	stale.LastObserved = now.Add(-48 * time.Hour)
	stale.BreakthroughPotential = 0.9
	require.NoError(t, lib.Store(ctx, stale))

	lowBreakthrough := newPattern(TaxonomyEmergence, 0.5)
	lowBreakthrough.LifecycleStage = StageEmerging
	lowBreakthrough.LastObserved = now
	lowBreakthrough.BreakthroughPotential = 0.1
	require.NoError(t, lib.Store(ctx, lowBreakthrough))

	out := lib.FindEmerging(now, 24*time.Hour, 0.5)
	require.Len(t, out, 1)
	require.Equal(t, fresh.PatternID, out[0].PatternID)
}

func TestUpdateObservationAppliesLifecyclePromotions(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()
	now := time.Now()

	p := newPattern(TaxonomyConsciousness, 0.6)
	require.NoError(t, lib.Store(ctx, p))

	for i := 0; i < 21; i++ {
		_, err := lib.UpdateObservation(ctx, p.PatternID, now, 0.0, nil)
		require.NoError(t, err)
	}
	got, err := lib.Retrieve(ctx, p.PatternID)
	require.NoError(t, err)
	require.Equal(t, StageEmerging, got.LifecycleStage)

	for i := 0; i < 80; i++ {
		_, err := lib.UpdateObservation(ctx, p.PatternID, now, 0.01, nil)
		require.NoError(t, err)
	}
	got, err = lib.Retrieve(ctx, p.PatternID)
	require.NoError(t, err)
	require.Equal(t, 101, got.ObservationCount)
	require.Greater(t, got.FitnessScore, 0.7)
	require.Equal(t, StageEstablished, got.LifecycleStage)
}

func TestUpdateObservationClampsFitness(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()
	p := newPattern(TaxonomyConsciousness, 0.95)
	require.NoError(t, lib.Store(ctx, p))

	got, err := lib.UpdateObservation(ctx, p.PatternID, time.Now(), 0.5, nil)
	require.NoError(t, err)
	require.Equal(t, 1.0, got.FitnessScore)
}

func TestEvolveCreatesWiredChild(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()
	now := time.Now()

	parent := newPattern(TaxonomyConsciousness, 0.5)
	parent.Version = 1
	require.NoError(t, lib.Store(ctx, parent))

	child, err := lib.Evolve(ctx, parent.PatternID, "mutation", map[string]interface{}{"k": "v"}, "scheduled", now)
	require.NoError(t, err)
	require.Equal(t, 2, child.Version)
	require.Equal(t, StageEvolving, child.LifecycleStage)
	require.Contains(t, child.ParentPatterns, parent.PatternID)
	require.Len(t, child.Mutations, 1)

	gotParent, err := lib.Retrieve(ctx, parent.PatternID)
	require.NoError(t, err)
	require.Contains(t, gotParent.ChildPatterns, child.PatternID)

	lineage := lib.TraceLineage(parent.PatternID)
	require.ElementsMatch(t, []uuid.UUID{parent.PatternID, child.PatternID}, lineage)
}

func TestFindSynergiesIncludesExplicitAndScoredCandidates(t *testing.T) {
	lib := New(nil)
	ctx := context.Background()

	primary := newPattern(TaxonomyConsciousness, 0.5)
	explicit := newPattern(TaxonomyConsciousness, 0.5)
	primary.SynergisticPatterns = []uuid.UUID{explicit.PatternID}
	compatible := newPattern(TaxonomyConsciousness, 0.6)
	compatible.LifecycleStage = StageEstablished
	incompatible := newPattern(TaxonomyDialogue, 0.9)

	for _, p := range []*Pattern{primary, explicit, compatible} {
		require.NoError(t, lib.Store(ctx, p))
	}
	require.NoError(t, lib.Store(ctx, incompatible))

	out, err := lib.FindSynergies(primary.PatternID, nil)
	require.NoError(t, err)

	var foundExplicit, foundIncompatible bool
	for _, s := range out {
		if s.PatternID == explicit.PatternID {
			foundExplicit = true
			require.Equal(t, 0.9, s.Score)
		}
		if s.PatternID == incompatible.PatternID {
			foundIncompatible = true
		}
	}
	require.True(t, foundExplicit)
	require.False(t, foundIncompatible)
}

// TestLibrarySurvivesRestartWithFullFieldFidelity proves a fresh Library
// constructed against the same backing store rehydrates Find's candidate
// set (the bug that made scheduler.EvolutionSweepJob/WisdomPromotionJob
// silent no-ops against a populated store after restart) and that every
// field patternToDocument/documentToPattern round-trips, not just the
// handful a partial conversion would carry.
func TestLibrarySurvivesRestartWithFullFieldFidelity(t *testing.T) {
	backing := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.CreateCollection(ctx, store.CollectionPatternLibrary, store.Policy{}))

	parent := newPattern(TaxonomyConsciousness, 0.7)
	parent.Name = "convergent breakthrough"
	parent.Description = "a pattern describing convergent breakthroughs"
	parent.Structure = Structure{
		Components:    []string{"a", "b"},
		Sequence:      []string{"a", "b"},
		Relationships: map[string]string{"a": "precedes-b"},
		Constraints:   []string{"within-window"},
	}
	parent.Indicators = []Indicator{{Type: "frequency", Weight: 0.5, Threshold: 0.3}}
	parent.ContextRequirements = map[string]interface{}{"locale": "andean"}
	parent.Tags = []string{"breakthrough", "convergence"}
	parent.SynergisticPatterns = []uuid.UUID{uuid.New()}

	first := New(backing)
	require.NoError(t, first.Store(ctx, parent))

	child, err := first.Evolve(ctx, parent.PatternID, "mutation", map[string]interface{}{"k": "v"}, "scheduled", time.Now())
	require.NoError(t, err)

	second := New(backing)

	found := second.Find(Query{Taxonomy: TaxonomyConsciousness, Limit: 1000})
	require.Len(t, found, 2, "Find must see patterns persisted by a prior Library instance")

	restoredParent, err := second.Retrieve(ctx, parent.PatternID)
	require.NoError(t, err)
	require.Equal(t, parent.Name, restoredParent.Name)
	require.Equal(t, parent.Description, restoredParent.Description)
	require.Equal(t, parent.Structure, restoredParent.Structure)
	require.Equal(t, parent.Indicators, restoredParent.Indicators)
	require.Equal(t, parent.ContextRequirements, restoredParent.ContextRequirements)
	require.Equal(t, parent.Tags, restoredParent.Tags)
	require.Equal(t, parent.SynergisticPatterns, restoredParent.SynergisticPatterns)
	require.Contains(t, restoredParent.ChildPatterns, child.PatternID)

	restoredChild, err := second.Retrieve(ctx, child.PatternID)
	require.NoError(t, err)
	require.Contains(t, restoredChild.ParentPatterns, parent.PatternID)
	require.Len(t, restoredChild.Mutations, 1)
	require.Equal(t, "mutation", restoredChild.Mutations[0].MutationType)

	lineage := second.TraceLineage(parent.PatternID)
	require.ElementsMatch(t, []uuid.UUID{parent.PatternID, child.PatternID}, lineage)
}
