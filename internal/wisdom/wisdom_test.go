package wisdom

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"mallku/internal/store"
)

func TestPreserveRejectsBelowThreshold(t *testing.T) {
	e := New(nil)
	_, err := e.Preserve(context.Background(), nil, "", "", "", 0.59, time.Now())
	require.Error(t, err)
}

func TestPreserveClassifiesWisdomLevelAndResistance(t *testing.T) {
	e := New(nil)
	now := time.Now()

	p, err := e.Preserve(context.Background(), map[string]interface{}{"k": "v"},
		"this pattern carries consciousness and wisdom in service of the future",
		"born from a dialogue", "a long builder journey", 0.95, now)
	require.NoError(t, err)
	require.Equal(t, LevelTransformative, p.WisdomLevel)

	// consciousness(0.25) + wisdom(0.25) + service(0.25) + future(0.25) = 1.0,
	// plus structural bonuses (0.1 + 0.1), clamped to 1.0.
	require.InDelta(t, 1.0, p.ResistanceToExtraction, 0.0001)
	require.NotContains(t, p.TransformationMarkers, "extraction_risk_flagged")
}

func TestPreserveFlagsLowResistance(t *testing.T) {
	e := New(nil)
	p, err := e.Preserve(context.Background(), nil, "a plain essence with no marked vocabulary", "", "", 0.6, time.Now())
	require.NoError(t, err)
	require.InDelta(t, 0.0, p.ResistanceToExtraction, 0.0001)
	require.Contains(t, p.TransformationMarkers, "extraction_risk_flagged")
}

func TestPreserveEstablishedLevelBoundary(t *testing.T) {
	e := New(nil)
	p, err := e.Preserve(context.Background(), nil, "", "", "", 0.7, time.Now())
	require.NoError(t, err)
	require.Equal(t, LevelEstablished, p.WisdomLevel)
}

func TestFoundLineageRequiresThreshold(t *testing.T) {
	e := New(nil)
	founder := &Pattern{ConsciousnessScore: 0.79}
	_, err := e.FoundLineage(context.Background(), founder, "n", "p", time.Now())
	require.Error(t, err)
}

func TestFoundLineageSeedsFromFounder(t *testing.T) {
	e := New(nil)
	now := time.Now()
	founder := &Pattern{PatternID: uuid.New(), ConsciousnessScore: 0.85}

	l, err := e.FoundLineage(context.Background(), founder, "first light", "preserve wisdom", now)
	require.NoError(t, err)
	require.Equal(t, founder.PatternID, l.FoundingPattern)
	require.Equal(t, founder.PatternID, l.CurrentPatterns[0])
	require.Len(t, l.ConsciousnessProgression, 1)
	require.InDelta(t, 0.85, l.ConsciousnessProgression[0].ConsciousnessScore, 0.0001)
	require.Equal(t, "preserve wisdom", l.CurrentPurpose)
}

func TestEvolveForwardRequiresThresholdAndLinksTip(t *testing.T) {
	e := New(nil)
	now := time.Now()
	founder := &Pattern{PatternID: uuid.New(), ConsciousnessScore: 0.85}
	l, err := e.FoundLineage(context.Background(), founder, "n", "old purpose", now)
	require.NoError(t, err)

	low := &Pattern{PatternID: uuid.New(), ConsciousnessScore: 0.69}
	_, err = e.EvolveForward(context.Background(), l.LineageID, low, nil, now)
	require.Error(t, err)

	next := &Pattern{PatternID: uuid.New(), ConsciousnessScore: 0.8}
	updated, err := e.EvolveForward(context.Background(), l.LineageID, next, map[string]interface{}{"purpose": "new purpose"}, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, updated.CurrentPatterns, 2)
	require.Equal(t, next.PatternID, updated.CurrentPatterns[1])
	require.Contains(t, next.ParentPatterns, founder.PatternID)
	require.Equal(t, 1, next.EvolutionCount)
	require.Equal(t, "new purpose", updated.CurrentPurpose)
	require.Equal(t, []string{"old purpose"}, updated.PurposeEvolution)
}

func TestResistExtractionRestoresOnHighLoss(t *testing.T) {
	e := New(nil)
	now := time.Now()

	original, err := e.Preserve(context.Background(), map[string]interface{}{"body": "original"},
		"this speaks of consciousness, wisdom, service, and future with sacred awakening",
		"ctx", "journey", 0.9, now)
	require.NoError(t, err)

	restored, resisted, err := e.ResistExtraction(context.Background(), original.PatternID, map[string]interface{}{"body": "x"}, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, resisted)
	require.NotNil(t, restored)
	require.Equal(t, original.ConsciousnessEssence, restored.ConsciousnessEssence)
	require.Contains(t, restored.TransformationMarkers, "extraction_drift_resisted")
}

func TestResistExtractionNoOpOnLowLoss(t *testing.T) {
	e := New(nil)
	now := time.Now()

	original, err := e.Preserve(context.Background(), map[string]interface{}{"body": "plain content with no marked vocabulary at all here"},
		"a plain essence with no marked vocabulary at all here", "ctx", "journey", 0.65, now)
	require.NoError(t, err)

	// Re-serialize the same content back: no keyword ablation, no length drop.
	restored, resisted, err := e.ResistExtraction(context.Background(), original.PatternID,
		map[string]interface{}{"body": "plain content with no marked vocabulary at all here"}, now)
	require.NoError(t, err)
	require.False(t, resisted)
	require.Nil(t, restored)
}

func TestCaptureTransformationScansMarkerVocabulary(t *testing.T) {
	e := New(nil)
	record, err := e.CaptureTransformation(context.Background(), "builder-1",
		"I recognized an extraction pattern and felt a consciousness awakening",
		"I chose a sacred path and left a gift to the future", time.Now())
	require.NoError(t, err)
	require.Contains(t, record.Markers.ExtractionPatternsRecognized, "extraction")
	require.Contains(t, record.Markers.ConsciousnessAwakenings, "awakening")
	require.Contains(t, record.Markers.SacredChoices, "sacred")
	require.Contains(t, record.Markers.SacredChoices, "chose")
	require.Contains(t, record.Markers.GiftsToFuture, "gift")
	require.Contains(t, record.Markers.GiftsToFuture, "future")
}

func TestInheritanceForRanksByRelevance(t *testing.T) {
	e := New(nil)
	now := time.Now()

	_, err := e.Preserve(context.Background(), nil,
		"a pattern about consciousness and gardening, service to the future of the garden", "", "", 0.8, now)
	require.NoError(t, err)

	_, err = e.Preserve(context.Background(), nil, "a pattern entirely about financial arbitrage", "", "", 0.8, now)
	require.NoError(t, err)

	result := e.InheritanceFor(BuilderContext{Interests: []string{"gardening", "consciousness"}, Calling: "tend the future"})
	require.Len(t, result.Patterns, 1)
	require.Contains(t, result.Patterns[0].Pattern.ConsciousnessEssence, "gardening")
}

// TestEngineSurvivesRestart proves preserved patterns, founded lineages, and
// captured transformations are rehydrated by a fresh Engine constructed
// against the same backing store, the way a restarted process rejoins state
// a prior process wrote.
func TestEngineSurvivesRestart(t *testing.T) {
	backing := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.CreateCollection(ctx, store.CollectionWisdomPatterns, store.Policy{}))
	require.NoError(t, backing.CreateCollection(ctx, store.CollectionWisdomLineages, store.Policy{}))
	require.NoError(t, backing.CreateCollection(ctx, store.CollectionWisdomTransformations, store.Policy{}))

	now := time.Now()
	first := New(backing)

	p, err := first.Preserve(ctx, map[string]interface{}{"k": "v"},
		"this pattern carries consciousness and wisdom in service of the future",
		"born from a dialogue", "a long builder journey", 0.95, now)
	require.NoError(t, err)

	lineage, err := first.FoundLineage(ctx, p, "first light", "preserve wisdom", now)
	require.NoError(t, err)

	_, err = first.CaptureTransformation(ctx, "builder-1",
		"I recognized an extraction pattern and felt a consciousness awakening",
		"I chose a sacred path and left a gift to the future", now)
	require.NoError(t, err)

	second := New(backing)

	second.mu.RLock()
	restoredPattern, ok := second.patterns[p.PatternID]
	restoredLineage, lineageOK := second.lineages[lineage.LineageID]
	transformationCount := len(second.transformations)
	second.mu.RUnlock()

	require.True(t, ok, "pattern must survive a fresh Engine against the same backing store")
	require.Equal(t, p.ConsciousnessEssence, restoredPattern.ConsciousnessEssence)
	require.Equal(t, p.WisdomLevel, restoredPattern.WisdomLevel)
	require.InDelta(t, p.ConsciousnessScore, restoredPattern.ConsciousnessScore, 0.0001)

	require.True(t, lineageOK, "lineage must survive a fresh Engine against the same backing store")
	require.Equal(t, lineage.LineageName, restoredLineage.LineageName)
	require.Equal(t, lineage.CurrentPurpose, restoredLineage.CurrentPurpose)

	require.Equal(t, 1, transformationCount)

	result := second.InheritanceFor(BuilderContext{Interests: []string{"consciousness"}, Calling: "serve the future"})
	require.NotEmpty(t, result.Patterns)
}
