package patternlibrary

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
	"mallku/internal/store"
)

// Library is the Pattern Library: a read-mostly in-memory cache over the
// Secured Collection Store, guarded by a short-lived write lock per §5's
// concurrency model ("writes upsert via the store and update in-memory
// indices under a short-lived internal write lock").
type Library struct {
	mu sync.RWMutex

	byID       map[uuid.UUID]*Pattern
	byTaxonomy map[Taxonomy]map[uuid.UUID]struct{}
	lineage    map[uuid.UUID]map[uuid.UUID]struct{} // undirected adjacency: parent<->child

	backing store.Store
}

// New constructs a Library backed by s, hydrating its in-memory indices from
// whatever the backing store already holds so a freshly started process
// rejoins state a prior process persisted rather than presenting an empty
// cache in front of a populated store. s may be nil for pure in-memory
// operation (tests, MALLKU_SKIP_DATABASE=true callers who do not need
// cross-process durability).
func New(backing store.Store) *Library {
	l := &Library{
		byID:       make(map[uuid.UUID]*Pattern),
		byTaxonomy: make(map[Taxonomy]map[uuid.UUID]struct{}),
		lineage:    make(map[uuid.UUID]map[uuid.UUID]struct{}),
		backing:    backing,
	}
	l.hydrate(context.Background())
	return l
}

// hydrate reloads every persisted pattern into the in-memory indices. Called
// once at construction; errors are swallowed the same way a cold start with
// no backing store swallows them, since a hydration failure should degrade
// to an empty cache rather than block startup.
func (l *Library) hydrate(ctx context.Context) {
	if l.backing == nil {
		return
	}
	docs, err := l.backing.Query(ctx, store.Query{Collection: store.CollectionPatternLibrary, Limit: 1000})
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, doc := range docs {
		p, err := documentToPattern(doc)
		if err != nil {
			continue
		}
		l.byID[p.PatternID] = p
		l.indexTaxonomy(p)
		for _, parent := range p.ParentPatterns {
			l.linkLineage(parent, p.PatternID)
		}
		for _, child := range p.ChildPatterns {
			l.linkLineage(p.PatternID, child)
		}
	}
}

// Store upserts pattern by pattern_id, refreshes the taxonomy/lineage
// indices, and persists to the backing store if one is configured.
func (l *Library) Store(ctx context.Context, p *Pattern) error {
	if p.PatternID == uuid.Nil {
		return merrorkind.Validation("patternlibrary", "pattern_id must not be nil", nil)
	}
	stored := p.Clone()
	if stored.BirthDate.IsZero() {
		stored.BirthDate = time.Now()
	}
	if stored.LifecycleStage == "" {
		stored.LifecycleStage = StageNascent
	}

	l.mu.Lock()
	l.byID[stored.PatternID] = stored
	l.indexTaxonomy(stored)
	for _, parent := range stored.ParentPatterns {
		l.linkLineage(parent, stored.PatternID)
	}
	l.mu.Unlock()

	if l.backing != nil {
		doc := patternToDocument(stored)
		if _, err := l.backing.Upsert(ctx, store.CollectionPatternLibrary, doc, "pattern_id"); err != nil {
			return merrorkind.PersistenceUnavailable("patternlibrary", "store: backing upsert failed", err)
		}
	}
	return nil
}

func (l *Library) indexTaxonomy(p *Pattern) {
	set, ok := l.byTaxonomy[p.Taxonomy]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		l.byTaxonomy[p.Taxonomy] = set
	}
	set[p.PatternID] = struct{}{}
}

func (l *Library) linkLineage(a, b uuid.UUID) {
	if l.lineage[a] == nil {
		l.lineage[a] = make(map[uuid.UUID]struct{})
	}
	if l.lineage[b] == nil {
		l.lineage[b] = make(map[uuid.UUID]struct{})
	}
	l.lineage[a][b] = struct{}{}
	l.lineage[b][a] = struct{}{}
}

// Retrieve reads from the in-memory cache first, falling back to the
// backing store when configured and the pattern is not yet cached.
func (l *Library) Retrieve(ctx context.Context, id uuid.UUID) (*Pattern, error) {
	l.mu.RLock()
	p, ok := l.byID[id]
	l.mu.RUnlock()
	if ok {
		return p.Clone(), nil
	}

	if l.backing == nil {
		return nil, merrorkind.Validation("patternlibrary", "pattern not found: "+id.String(), nil)
	}
	doc, err := l.backing.Get(ctx, store.CollectionPatternLibrary, id.String())
	if err != nil {
		return nil, err
	}
	restored, err := documentToPattern(doc)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.byID[restored.PatternID] = restored
	l.indexTaxonomy(restored)
	l.mu.Unlock()

	return restored.Clone(), nil
}

// Query filters Find's candidate set, mirroring §4.F's find(query) filters.
type Query struct {
	Taxonomy         Taxonomy
	Type             Type
	Lifecycle        LifecycleStage
	MinFitness       float64
	MaxFitness       float64
	HasFitnessBounds bool
	MinObservations  int
	ActiveSince      time.Time
	Tags             []string
	Limit            int
}

// Find returns patterns matching q, ordered by fitness_score desc then
// observation_count desc (stable), bounded to at most 1000 results.
func (l *Library) Find(q Query) []*Pattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var candidates []*Pattern
	if q.Taxonomy != "" {
		for id := range l.byTaxonomy[q.Taxonomy] {
			candidates = append(candidates, l.byID[id])
		}
	} else {
		for _, p := range l.byID {
			candidates = append(candidates, p)
		}
	}

	out := make([]*Pattern, 0, len(candidates))
	for _, p := range candidates {
		if p == nil || !matchesQuery(p, q) {
			continue
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FitnessScore != out[j].FitnessScore {
			return out[i].FitnessScore > out[j].FitnessScore
		}
		return out[i].ObservationCount > out[j].ObservationCount
	})

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[:limit]
	}

	clones := make([]*Pattern, len(out))
	for i, p := range out {
		clones[i] = p.Clone()
	}
	return clones
}

func matchesQuery(p *Pattern, q Query) bool {
	if q.Type != "" && p.PatternType != q.Type {
		return false
	}
	if q.Lifecycle != "" && p.LifecycleStage != q.Lifecycle {
		return false
	}
	if q.HasFitnessBounds && (p.FitnessScore < q.MinFitness || p.FitnessScore > q.MaxFitness) {
		return false
	}
	if q.MinObservations > 0 && p.ObservationCount < q.MinObservations {
		return false
	}
	if !q.ActiveSince.IsZero() && p.LastObserved.Before(q.ActiveSince) {
		return false
	}
	if len(q.Tags) > 0 && !hasAnyTag(p.Tags, q.Tags) {
		return false
	}
	return true
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

// FindEmerging returns emerging patterns observed within window whose
// breakthrough_potential meets minBreakthrough.
func (l *Library) FindEmerging(now time.Time, window time.Duration, minBreakthrough float64) []*Pattern {
	cutoff := now.Add(-window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Pattern
	for _, p := range l.byID {
		if p.LifecycleStage != StageEmerging {
			continue
		}
		if p.LastObserved.Before(cutoff) {
			continue
		}
		if p.BreakthroughPotential < minBreakthrough {
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}

// TraceLineage performs a cycle-safe BFS over the undirected lineage
// adjacency map in both directions from id, returning every reachable
// pattern id including id itself.
func (l *Library) TraceLineage(id uuid.UUID) []uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	visited := map[uuid.UUID]struct{}{id: {}}
	queue := []uuid.UUID{id}
	order := []uuid.UUID{id}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for neighbor := range l.lineage[cur] {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			queue = append(queue, neighbor)
			order = append(order, neighbor)
		}
	}
	return order
}

// Synergy is one scored candidate returned by FindSynergies.
type Synergy struct {
	PatternID uuid.UUID
	Score     float64
}

// FindSynergies unions a pattern's explicit synergistic_patterns (scored
// 0.9) with other patterns in compatible taxonomies, scored by
// consciousness similarity, lifecycle complementarity, fitness product, and
// context requirement match.
func (l *Library) FindSynergies(id uuid.UUID, context map[string]interface{}) ([]Synergy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.byID[id]
	if !ok {
		return nil, merrorkind.Validation("patternlibrary", "pattern not found: "+id.String(), nil)
	}

	seen := make(map[uuid.UUID]struct{})
	var out []Synergy

	for _, sid := range p.SynergisticPatterns {
		if sid == id {
			continue
		}
		if _, dup := seen[sid]; dup {
			continue
		}
		seen[sid] = struct{}{}
		out = append(out, Synergy{PatternID: sid, Score: 0.9})
	}

	for oid, other := range l.byID {
		if oid == id {
			continue
		}
		if _, dup := seen[oid]; dup {
			continue
		}
		if !compatibleTaxonomy(p.Taxonomy, other.Taxonomy) {
			continue
		}
		score := synergyScore(p, other, context)
		if score <= 0 {
			continue
		}
		seen[oid] = struct{}{}
		out = append(out, Synergy{PatternID: oid, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// compatibleTaxonomy treats every taxonomy as compatible with itself, and
// dialogue/emergence as cross-compatible
// since both describe interaction-level dynamics, matching §4.F's loosely
// specified "compatible taxonomies" requirement.
func compatibleTaxonomy(a, b Taxonomy) bool {
	if a == b {
		return true
	}
	crossCompatible := map[Taxonomy]Taxonomy{
		TaxonomyDialogue:  TaxonomyEmergence,
		TaxonomyEmergence: TaxonomyDialogue,
	}
	return crossCompatible[a] == b
}

func synergyScore(a, b *Pattern, context map[string]interface{}) float64 {
	consciousnessSim := 1 - absFloat(a.ConsciousnessSignature-b.ConsciousnessSignature)
	lifecycleComplement := lifecycleComplementScore(a.LifecycleStage, b.LifecycleStage)
	fitnessProduct := a.FitnessScore * b.FitnessScore
	contextMatch := contextRequirementMatch(b.ContextRequirements, context)

	return clamp01((consciousnessSim + lifecycleComplement + fitnessProduct + contextMatch) / 4)
}

// lifecycleComplementScore rewards pairings where one pattern is still
// forming and the other already established, since that pairing is the one
// most likely to produce a synergistic effect (an emerging pattern drawing
// strength from an established one).
func lifecycleComplementScore(a, b LifecycleStage) float64 {
	forming := map[LifecycleStage]bool{StageNascent: true, StageEmerging: true}
	settled := map[LifecycleStage]bool{StageEstablished: true, StageEvolving: true}
	if (forming[a] && settled[b]) || (forming[b] && settled[a]) {
		return 1.0
	}
	if a == b {
		return 0.5
	}
	return 0.2
}

func contextRequirementMatch(requirements, context map[string]interface{}) float64 {
	if len(requirements) == 0 {
		return 0.5
	}
	if len(context) == 0 {
		return 0
	}
	var matched int
	for k, v := range requirements {
		if cv, ok := context[k]; ok && cv == v {
			matched++
		}
	}
	return float64(matched) / float64(len(requirements))
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// UpdateObservation increments observation_count, refreshes last_observed,
// clamps the post-delta fitness to [0,1], and applies the lifecycle
// promotion thresholds from §4.F.
func (l *Library) UpdateObservation(ctx context.Context, id uuid.UUID, now time.Time, deltaFitness float64, observationContext map[string]interface{}) (*Pattern, error) {
	l.mu.Lock()
	p, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return nil, merrorkind.Validation("patternlibrary", "pattern not found: "+id.String(), nil)
	}

	p.ObservationCount++
	p.LastObserved = now
	p.FitnessScore = clamp01(p.FitnessScore + deltaFitness)

	if p.ObservationCount > 100 && p.FitnessScore > 0.7 {
		p.LifecycleStage = StageEstablished
	} else if p.ObservationCount > 20 {
		p.LifecycleStage = StageEmerging
	}

	result := p.Clone()
	l.mu.Unlock()

	if l.backing != nil {
		doc := patternToDocument(result)
		if _, err := l.backing.Upsert(ctx, store.CollectionPatternLibrary, doc, "pattern_id"); err != nil {
			return result, merrorkind.PersistenceUnavailable("patternlibrary", "update_observation: backing upsert failed", err)
		}
	}
	return result, nil
}

// Evolve creates a child pattern from parent via evolve(id, mutation_type,
// changes, trigger): version = parent.version + 1, lifecycle = evolving,
// appends a PatternMutation record to the child, and wires parent/child
// links both ways.
func (l *Library) Evolve(ctx context.Context, id uuid.UUID, mutationType string, changes map[string]interface{}, trigger string, now time.Time) (*Pattern, error) {
	l.mu.Lock()
	parent, ok := l.byID[id]
	if !ok {
		l.mu.Unlock()
		return nil, merrorkind.Validation("patternlibrary", "pattern not found: "+id.String(), nil)
	}

	child := parent.Clone()
	child.PatternID = uuid.New()
	child.Version = parent.Version + 1
	child.LifecycleStage = StageEvolving
	child.ParentPatterns = append(child.ParentPatterns, parent.PatternID)
	child.ChildPatterns = nil
	child.BirthDate = now
	child.ObservationCount = 0
	child.Mutations = append(child.Mutations, Mutation{
		MutationType: mutationType,
		Changes:      changes,
		Trigger:      trigger,
		Timestamp:    now,
	})

	parent.ChildPatterns = append(parent.ChildPatterns, child.PatternID)

	l.byID[child.PatternID] = child
	l.indexTaxonomy(child)
	l.linkLineage(parent.PatternID, child.PatternID)

	result := child.Clone()
	l.mu.Unlock()

	if l.backing != nil {
		if _, err := l.backing.Upsert(ctx, store.CollectionPatternLibrary, patternToDocument(result), "pattern_id"); err != nil {
			return result, merrorkind.PersistenceUnavailable("patternlibrary", "evolve: backing upsert failed", err)
		}
		if _, err := l.backing.Upsert(ctx, store.CollectionPatternLibrary, patternToDocument(parent.Clone()), "pattern_id"); err != nil {
			return result, merrorkind.PersistenceUnavailable("patternlibrary", "evolve: parent re-upsert failed", err)
		}
	}
	return result, nil
}

// patternToDocument carries the full Pattern field set into the document
// shape. Slice/map/struct-valued fields (structure, indicators,
// context_requirements, mutations, lineage/synergy id lists, tags) are
// JSON-encoded into string fields rather than handed to the store as raw Go
// values, so the shape survives identically whether the backing store is the
// in-memory map (which keeps native Go types) or the gorm store (whose
// secured_documents row round-trips every document through json.Marshal),
// matching the json.RawMessage idiom internal/observability/metrics.go uses
// for its own structured label payload.
func patternToDocument(p *Pattern) store.Document {
	return store.Document{
		"pattern_id":              p.PatternID.String(),
		"name":                    p.Name,
		"description":             p.Description,
		"taxonomy":                string(p.Taxonomy),
		"pattern_type":            string(p.PatternType),
		"consciousness_signature": p.ConsciousnessSignature,
		"structure":               encodeJSON(p.Structure),
		"indicators":              encodeJSON(p.Indicators),
		"context_requirements":    encodeJSON(p.ContextRequirements),
		"version":                 strconv.Itoa(p.Version),
		"parent_patterns":         encodeJSON(p.ParentPatterns),
		"child_patterns":          encodeJSON(p.ChildPatterns),
		"mutations":               encodeJSON(p.Mutations),
		"lifecycle_stage":         string(p.LifecycleStage),
		"observation_count":       strconv.Itoa(p.ObservationCount),
		"fitness_score":           p.FitnessScore,
		"synergistic_patterns":    encodeJSON(p.SynergisticPatterns),
		"breakthrough_potential":  p.BreakthroughPotential,
		"tags":                    encodeJSON(p.Tags),
		"birth_date":              p.BirthDate,
		"last_observed":           p.LastObserved,
	}
}

func documentToPattern(doc store.Document) (*Pattern, error) {
	idStr, _ := doc["pattern_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, merrorkind.Invariant("patternlibrary", "backing document has malformed pattern_id", err)
	}
	p := &Pattern{
		PatternID:      id,
		Name:           stringField(doc, "name"),
		Description:    stringField(doc, "description"),
		Taxonomy:       Taxonomy(stringField(doc, "taxonomy")),
		PatternType:    Type(stringField(doc, "pattern_type")),
		LifecycleStage: LifecycleStage(stringField(doc, "lifecycle_stage")),
	}
	if v, ok := doc["consciousness_signature"].(float64); ok {
		p.ConsciousnessSignature = v
	}
	if v, ok := doc["fitness_score"].(float64); ok {
		p.FitnessScore = v
	}
	if v, ok := doc["breakthrough_potential"].(float64); ok {
		p.BreakthroughPotential = v
	}
	if v, ok := timeField(doc, "birth_date"); ok {
		p.BirthDate = v
	}
	if v, ok := timeField(doc, "last_observed"); ok {
		p.LastObserved = v
	}
	if v, ok := doc["version"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.Version = n
		}
	}
	if v, ok := doc["observation_count"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.ObservationCount = n
		}
	}
	decodeJSONField(doc, "structure", &p.Structure)
	decodeJSONField(doc, "indicators", &p.Indicators)
	decodeJSONField(doc, "context_requirements", &p.ContextRequirements)
	decodeJSONField(doc, "parent_patterns", &p.ParentPatterns)
	decodeJSONField(doc, "child_patterns", &p.ChildPatterns)
	decodeJSONField(doc, "mutations", &p.Mutations)
	decodeJSONField(doc, "synergistic_patterns", &p.SynergisticPatterns)
	decodeJSONField(doc, "tags", &p.Tags)
	return p, nil
}

// encodeJSON renders v as a JSON string, matching the empty string on a
// zero-value/nil v so an untouched field round-trips to its zero value
// instead of the literal "null".
func encodeJSON(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []uuid.UUID:
		if len(t) == 0 {
			return ""
		}
	case []Indicator:
		if len(t) == 0 {
			return ""
		}
	case []Mutation:
		if len(t) == 0 {
			return ""
		}
	case []string:
		if len(t) == 0 {
			return ""
		}
	case map[string]interface{}:
		if len(t) == 0 {
			return ""
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// decodeJSONField unmarshals doc[key]'s JSON-encoded string into target,
// leaving target at its zero value when the field is absent, empty, or
// malformed.
func decodeJSONField(doc store.Document, key string, target interface{}) {
	raw := stringField(doc, key)
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), target)
}

func stringField(doc store.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

// timeField reads a time.Time field that may have survived either as a
// native time.Time (an in-memory store, which never serializes a document)
// or as an RFC3339 string (the gorm store, whose secured_documents row
// round-trips every document through json.Marshal/Unmarshal).
func timeField(doc store.Document, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
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
