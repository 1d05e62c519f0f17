package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreInsertGetRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateCollection(ctx, CollectionMemoryAnchors, StandardCollections()[CollectionMemoryAnchors]))

	key, err := s.InsertSecured(ctx, CollectionMemoryAnchors, Document{"anchor_id": "a1", "metadata": map[string]interface{}{"x": 1}})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	got, err := s.Get(ctx, CollectionMemoryAnchors, key)
	require.NoError(t, err)
	require.Equal(t, "a1", got["anchor_id"])

	n, err := s.Count(ctx, CollectionMemoryAnchors)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryStoreUpsertOverwrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, CollectionWisdomPatterns, Policy{}))

	key, err := s.Upsert(ctx, CollectionWisdomPatterns, Document{"pattern_id": "p1", "fitness": 0.5}, "pattern_id")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, CollectionWisdomPatterns, Document{"pattern_id": "p1", "fitness": 0.9}, "pattern_id")
	require.NoError(t, err)

	got, err := s.Get(ctx, CollectionWisdomPatterns, key)
	require.NoError(t, err)
	require.Equal(t, 0.9, got["fitness"])

	n, err := s.Count(ctx, CollectionWisdomPatterns)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestMemoryStoreGetMissingKeyErrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, CollectionDialoguePatterns, Policy{}))

	_, err := s.Get(ctx, CollectionDialoguePatterns, "does-not-exist")
	require.Error(t, err)
}

func TestMemoryStoreSecuredCollectionObfuscatesAtRest(t *testing.T) {
	s := NewMemoryStore().(*memoryStore)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, CollectionReciprocityAlerts, Policy{RequiresSecurity: true}))

	key, err := s.InsertSecured(ctx, CollectionReciprocityAlerts, Document{"_key": "k1", "severity": "high"})
	require.NoError(t, err)

	s.mu.RLock()
	raw := s.collections[CollectionReciprocityAlerts][key]
	s.mu.RUnlock()

	_, plainStillPresent := raw["severity"]
	require.False(t, plainStillPresent, "plaintext field name must not survive at rest in a secured collection")

	got, err := s.Get(ctx, CollectionReciprocityAlerts, key)
	require.NoError(t, err)
	require.Equal(t, "high", got["severity"])
}

func TestSecurityRegistryResolveIsDeterministicAndReversible(t *testing.T) {
	r := NewSecurityRegistry()

	a := r.ResolveField("reciprocity_alerts_secured", "severity")
	b := r.ResolveField("reciprocity_alerts_secured", "severity")
	require.Equal(t, a, b)

	other := r.ResolveField("reciprocity_alerts_secured", "activity_type")
	require.NotEqual(t, a, other)

	plain, ok := r.PlainField("reciprocity_alerts_secured", a)
	require.True(t, ok)
	require.Equal(t, "severity", plain)
}

func TestSecurityRegistryDeterministicAcrossInstances(t *testing.T) {
	a := NewSecurityRegistry().ResolveField("wisdom_lineages", "origin_moment")
	b := NewSecurityRegistry().ResolveField("wisdom_lineages", "origin_moment")
	require.Equal(t, a, b)
}

func TestMemoryStoreQueryOrdersAndLimits(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, CollectionWisdomPatterns, Policy{}))

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Upsert(ctx, CollectionWisdomPatterns, Document{"pattern_id": id}, "pattern_id")
		require.NoError(t, err)
	}

	out, err := s.Query(ctx, Query{Collection: CollectionWisdomPatterns, OrderBy: "pattern_id", Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0]["pattern_id"])
	require.Equal(t, "b", out[1]["pattern_id"])
}
