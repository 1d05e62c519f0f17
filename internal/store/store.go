// Package store implements the Secured Collection Store contract (spec §6):
// the single persistence boundary every domain module goes through —
// create_collection/insert_secured/upsert/get/query/count — with a Security
// Registry obfuscating sensitive field names to opaque UUIDs at rest.
// Grounded on the teacher's internal/repositories/*.go gorm-backed CRUD
// repositories (each wrapping one gorm.DB behind a narrow interface) and
// internal/retry/circuit.go (the CircuitBreaker guarding this exact
// boundary, per its own doc comment). MALLKU_SKIP_DATABASE=true selects the
// in-memory implementation in memory.go instead of the gorm-backed one in
// gorm_store.go.
package store

import (
	"context"
	"time"

	"mallku/internal/merrorkind"
)

// Policy describes how a collection must be created and guarded.
type Policy struct {
	RequiresSecurity  bool
	Schema            map[string]string
	AllowedModelTypes []string
}

// Document is an opaque, field-obfuscated record. Fields are keyed by their
// plain, caller-facing names; a Store implementation resolves them through
// the Security Registry before they touch the wire or disk.
type Document map[string]interface{}

// Query is an AQL-like filter: Binds are substituted into Filter by name,
// matching the teacher's parameterized `Where("col = ?", val)` style without
// tying callers to SQL syntax or gorm.
type Query struct {
	Collection string
	Filter     string
	Binds      map[string]interface{}
	OrderBy    string
	Limit      int
}

// Store is the full Secured Collection Store contract. Every domain module
// (pattern library, wisdom preservation, dialogue orchestrator) depends on
// this interface, never on a concrete database client.
type Store interface {
	CreateCollection(ctx context.Context, name string, policy Policy) error
	InsertSecured(ctx context.Context, collection string, doc Document) (string, error)
	Upsert(ctx context.Context, collection string, doc Document, keyField string) (string, error)
	Get(ctx context.Context, collection string, key string) (Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Count(ctx context.Context, collection string) (int64, error)
}

// Well-known collection names used by the core (spec §6).
const (
	CollectionMemoryAnchors           = "memory_anchors"
	CollectionReciprocityActivities   = "reciprocity_activities_secured"
	CollectionReciprocityPatterns     = "reciprocity_patterns_secured"
	CollectionReciprocityAlerts       = "reciprocity_alerts_secured"
	CollectionSystemHealth            = "system_health_secured"
	CollectionFireCircleReports       = "fire_circle_reports_secured"
	CollectionDialoguePatterns        = "dialogue_patterns"
	CollectionPatternLibrary          = "pattern_library"
	CollectionWisdomPatterns          = "wisdom_patterns"
	CollectionWisdomLineages          = "wisdom_lineages"
	CollectionWisdomTransformations   = "wisdom_transformations"
	CollectionConsciousnessBridgeMeta = "consciousness_bridge_metadata"
)

// StandardCollections returns the policy set the engine registers at
// startup: spec §6's enumeration plus the pattern_library and
// wisdom_transformations collections.
func StandardCollections() map[string]Policy {
	return map[string]Policy{
		CollectionMemoryAnchors: {
			RequiresSecurity: false,
			Schema:           map[string]string{"anchor_id": "uuid", "timestamp_iso": "string", "cursors": "object", "metadata": "object"},
		},
		CollectionReciprocityActivities:   {RequiresSecurity: true},
		CollectionReciprocityPatterns:     {RequiresSecurity: true},
		CollectionReciprocityAlerts:       {RequiresSecurity: true},
		CollectionSystemHealth:            {RequiresSecurity: true},
		CollectionFireCircleReports:       {RequiresSecurity: true},
		CollectionDialoguePatterns:        {RequiresSecurity: false},
		CollectionPatternLibrary:          {RequiresSecurity: false},
		CollectionWisdomPatterns:          {RequiresSecurity: false},
		CollectionWisdomLineages:          {RequiresSecurity: false},
		CollectionWisdomTransformations:   {RequiresSecurity: false},
		CollectionConsciousnessBridgeMeta: {RequiresSecurity: false},
	}
}

// errNotFound builds the error Get returns when no document exists under
// key.
func errNotFound(collection, key string) error {
	return merrorkind.Validation("store", "document not found: "+collection+"/"+key, nil)
}

// deterministicTimestampOffset is the fixed offset applied to timestamps
// before they are written at rest, per spec §6's "timestamps pass through a
// deterministic offset" requirement. It exists so stored timestamps never
// collide byte-for-byte with the caller's wall-clock value, while remaining
// perfectly reversible.
const deterministicTimestampOffset = 17 * time.Second

func offsetTimestamp(t time.Time) time.Time {
	return t.Add(deterministicTimestampOffset)
}

func unoffsetTimestamp(t time.Time) time.Time {
	return t.Add(-deterministicTimestampOffset)
}
