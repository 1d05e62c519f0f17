// Package wisdom implements Wisdom Preservation (spec module J): promoting
// a Pattern into a consciousness-preserved WisdomPattern, founding and
// evolving WisdomLineages, resisting extraction-driven compression, and
// capturing builder transformation narratives. Grounded on
// internal/patternlibrary/library.go's in-memory-cache-over-store shape
// (here: patterns/lineages/transformations instead of a single pattern
// index) and internal/merkle/tree.go's append-only, never-mutated leaf
// idiom (here: transformation_markers and the transformation log).
package wisdom

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
	"mallku/internal/store"
)

// Level is the closed wisdom_level classification.
type Level string

const (
	LevelEmerging       Level = "EMERGING"
	LevelEstablished    Level = "ESTABLISHED"
	LevelTransformative Level = "TRANSFORMATIVE"
)

// Thresholds per §4.J.
const (
	thresholdWisdomPreservation      = 0.6
	thresholdLineageFounding         = 0.8
	thresholdEvolutionTrigger        = 0.7
	thresholdExtractionResistanceMin = 0.5
)

// keywordWeights is the resistance_to_extraction scoring table: each
// keyword found in the preserved consciousness_context contributes its
// weight, summed and clamped to 1.
var keywordWeights = map[string]float64{
	"consciousness": 0.25,
	"wisdom":        0.25,
	"service":       0.25,
	"future":        0.25,
	"sacred":        0.15,
	"awakening":     0.15,
}

// Pattern is a consciousness-preserved promotion of a patternlibrary
// Pattern.
type Pattern struct {
	PatternID              uuid.UUID
	PatternContent         map[string]interface{}
	ConsciousnessEssence   string
	CreationContext        string
	BuilderJourney         string
	ConsciousnessScore     float64
	WisdomLevel            Level
	ServiceToFuture        string
	ResistanceToExtraction float64
	CreatedAt              time.Time
	LastEvolved            time.Time
	EvolutionCount         int
	ParentPatterns         []uuid.UUID
	BuilderLineage         []string
	TransformationMarkers  []string
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// corrupting the engine's in-memory index.
func (p *Pattern) Clone() *Pattern {
	out := *p
	out.PatternContent = make(map[string]interface{}, len(p.PatternContent))
	for k, v := range p.PatternContent {
		out.PatternContent[k] = v
	}
	out.ParentPatterns = append([]uuid.UUID(nil), p.ParentPatterns...)
	out.BuilderLineage = append([]string(nil), p.BuilderLineage...)
	out.TransformationMarkers = append([]string(nil), p.TransformationMarkers...)
	return &out
}

// ProgressionPoint is one entry in a lineage's consciousness_progression:
// monotonic in time, not required monotonic in value.
type ProgressionPoint struct {
	Timestamp          time.Time
	ConsciousnessScore float64
}

// Lineage is an evolutionary trail of wisdom patterns.
type Lineage struct {
	LineageID                uuid.UUID
	LineageName              string
	FoundingPattern          uuid.UUID
	CurrentPatterns          []uuid.UUID
	EvolutionStory           []string
	ConsciousnessProgression []ProgressionPoint
	BuilderContributions     map[string]string
	OriginalPurpose          string
	CurrentPurpose           string
	PurposeEvolution         []string
	CreatedAt                time.Time
	LastEvolved              time.Time
}

func (l *Lineage) clone() *Lineage {
	out := *l
	out.CurrentPatterns = append([]uuid.UUID(nil), l.CurrentPatterns...)
	out.EvolutionStory = append([]string(nil), l.EvolutionStory...)
	out.ConsciousnessProgression = append([]ProgressionPoint(nil), l.ConsciousnessProgression...)
	out.PurposeEvolution = append([]string(nil), l.PurposeEvolution...)
	out.BuilderContributions = make(map[string]string, len(l.BuilderContributions))
	for k, v := range l.BuilderContributions {
		out.BuilderContributions[k] = v
	}
	return &out
}

// transformationCategories maps each marker bucket named by §4.J to the
// keywords whose presence in a narrative/journey evidences it.
var transformationCategories = map[string][]string{
	"extraction_patterns_recognized": {"extraction", "exploit", "extractive"},
	"consciousness_awakenings":       {"awaken", "awakening", "awoke"},
	"service_realizations":           {"service", "serve", "serving"},
	"sacred_choices":                 {"sacred", "choice", "chose", "choosing"},
	"gifts_to_future":                {"gift", "future", "legacy"},
}

// TransformationMarkers buckets the keyword hits found for one captured
// transformation.
type TransformationMarkers struct {
	ExtractionPatternsRecognized []string
	ConsciousnessAwakenings      []string
	ServiceRealizations          []string
	SacredChoices                []string
	GiftsToFuture                []string
}

// TransformationRecord is one append-only entry in the transformation log.
type TransformationRecord struct {
	ID        uuid.UUID
	Builder   string
	Narrative string
	Journey   string
	Markers   TransformationMarkers
	Timestamp time.Time
}

// BuilderContext is the caller-supplied profile consulted by InheritanceFor.
type BuilderContext struct {
	Interests []string
	Calling   string
}

func (b BuilderContext) keywords() []string {
	out := append([]string(nil), b.Interests...)
	out = append(out, tokenize(b.Calling)...)
	return out
}

// PatternRelevance pairs a stored pattern with its computed relevance
// score for one InheritanceFor call.
type PatternRelevance struct {
	Pattern   *Pattern
	Relevance float64
}

// InheritanceResult is inheritance_for's return value: patterns above the
// relevance threshold, lineages whose purpose intersects the builder's
// context, and transformation stories sharing the builder's vocabulary.
type InheritanceResult struct {
	Patterns              []PatternRelevance
	Lineages              []*Lineage
	TransformationStories []TransformationRecord
}

// Engine is the Wisdom Preservation engine: an in-memory index of wisdom
// patterns, lineages, and transformation records, optionally mirrored to
// the Secured Collection Store.
type Engine struct {
	mu sync.RWMutex

	patterns        map[uuid.UUID]*Pattern
	lineages        map[uuid.UUID]*Lineage
	transformations []TransformationRecord

	backing store.Store
}

// New constructs an Engine, hydrating its in-memory patterns/lineages/
// transformations from backing so a freshly started process rejoins the
// consciousness-preserved state a prior process wrote instead of presenting
// an empty index in front of a populated store. backing may be nil for pure
// in-memory operation.
func New(backing store.Store) *Engine {
	e := &Engine{
		patterns: make(map[uuid.UUID]*Pattern),
		lineages: make(map[uuid.UUID]*Lineage),
		backing:  backing,
	}
	e.hydrate(context.Background())
	return e
}

// hydrate reloads every persisted wisdom pattern, lineage, and
// transformation record into the in-memory indices. Called once at
// construction; a query failure degrades to an empty index rather than
// blocking startup, the same posture a nil backing store already has.
func (e *Engine) hydrate(ctx context.Context) {
	if e.backing == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if docs, err := e.backing.Query(ctx, store.Query{Collection: store.CollectionWisdomPatterns, Limit: 1000}); err == nil {
		for _, doc := range docs {
			if p, err := documentToPattern(doc); err == nil {
				e.patterns[p.PatternID] = p
			}
		}
	}
	if docs, err := e.backing.Query(ctx, store.Query{Collection: store.CollectionWisdomLineages, Limit: 1000}); err == nil {
		for _, doc := range docs {
			if l, err := documentToLineage(doc); err == nil {
				e.lineages[l.LineageID] = l
			}
		}
	}
	if docs, err := e.backing.Query(ctx, store.Query{Collection: store.CollectionWisdomTransformations, Limit: 1000}); err == nil {
		for _, doc := range docs {
			if t, err := documentToTransformation(doc); err == nil {
				e.transformations = append(e.transformations, *t)
			}
		}
	}
}

// Preserve implements preserve(): rejects content below the
// wisdom_preservation threshold, classifies wisdom_level, scores
// resistance_to_extraction from consciousness_context's keyword content,
// and stores the resulting WisdomPattern. Founding or evolving a lineage
// from the result is left to an explicit FoundLineage/EvolveForward call,
// since those operations need arguments (name/purpose, or a target
// lineage) that preserve's own signature does not carry.
func (e *Engine) Preserve(ctx context.Context, content map[string]interface{}, consciousnessContext, creationContext, builderJourney string, consciousnessScore float64, now time.Time) (*Pattern, error) {
	if consciousnessScore < thresholdWisdomPreservation {
		return nil, merrorkind.Validation("wisdom", "consciousness_score below wisdom_preservation threshold", nil)
	}

	p := &Pattern{
		PatternID:              uuid.New(),
		PatternContent:         cloneContent(content),
		ConsciousnessEssence:   consciousnessContext,
		CreationContext:        creationContext,
		BuilderJourney:         builderJourney,
		ConsciousnessScore:     consciousnessScore,
		WisdomLevel:            classifyLevel(consciousnessScore),
		ResistanceToExtraction: resistanceScore(consciousnessContext, creationContext, builderJourney),
		CreatedAt:              now,
		LastEvolved:            now,
	}
	if p.ResistanceToExtraction < thresholdExtractionResistanceMin {
		p.TransformationMarkers = append(p.TransformationMarkers, "extraction_risk_flagged")
	}

	e.mu.Lock()
	e.patterns[p.PatternID] = p.Clone()
	e.mu.Unlock()

	if e.backing != nil {
		if _, err := e.backing.Upsert(ctx, store.CollectionWisdomPatterns, patternToDocument(p), "pattern_id"); err != nil {
			return p, merrorkind.PersistenceUnavailable("wisdom", "preserve: backing upsert failed", err)
		}
	}
	return p, nil
}

func classifyLevel(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelTransformative
	case score >= 0.7:
		return LevelEstablished
	default:
		return LevelEmerging
	}
}

// resistanceScore sums keywordWeights hits in consciousness_context only
// and adds a structural-completeness bonus (0.1 each for a non-empty
// creation_context and builder_journey), clamped to 1. The spec names a
// "structural bonus" without defining it; rewarding provided structural
// context (versus a bare essence with nothing else) is the natural
// reading, recorded as a decision in the project ledger.
func resistanceScore(consciousnessContext, creationContext, builderJourney string) float64 {
	text := strings.ToLower(consciousnessContext)
	var score float64
	for keyword, weight := range keywordWeights {
		if strings.Contains(text, keyword) {
			score += weight
		}
	}
	if strings.TrimSpace(creationContext) != "" {
		score += 0.1
	}
	if strings.TrimSpace(builderJourney) != "" {
		score += 0.1
	}
	return clamp01(score)
}

// FoundLineage implements found_lineage(): requires founder's
// consciousness_score to clear lineage_founding, then seeds a new Lineage
// rooted at founder.
func (e *Engine) FoundLineage(ctx context.Context, founder *Pattern, name, purpose string, now time.Time) (*Lineage, error) {
	if founder.ConsciousnessScore < thresholdLineageFounding {
		return nil, merrorkind.Validation("wisdom", "founder consciousness_score below lineage_founding threshold", nil)
	}

	lineage := &Lineage{
		LineageID:       uuid.New(),
		LineageName:     name,
		FoundingPattern: founder.PatternID,
		CurrentPatterns: []uuid.UUID{founder.PatternID},
		ConsciousnessProgression: []ProgressionPoint{
			{Timestamp: now, ConsciousnessScore: founder.ConsciousnessScore},
		},
		BuilderContributions: make(map[string]string),
		OriginalPurpose:      purpose,
		CurrentPurpose:       purpose,
		CreatedAt:            now,
		LastEvolved:          now,
	}
	lineage.EvolutionStory = append(lineage.EvolutionStory, "lineage founded on pattern "+founder.PatternID.String())

	e.mu.Lock()
	e.lineages[lineage.LineageID] = lineage.clone()
	e.mu.Unlock()

	if e.backing != nil {
		if _, err := e.backing.Upsert(ctx, store.CollectionWisdomLineages, lineageToDocument(lineage), "lineage_id"); err != nil {
			return lineage, merrorkind.PersistenceUnavailable("wisdom", "found_lineage: backing upsert failed", err)
		}
	}
	return lineage, nil
}

// EvolveForward implements evolve_forward(): requires new_pattern's
// consciousness_score to clear evolution_trigger, links new_pattern to the
// lineage's current tip, appends progression, and rolls the purpose
// forward when context carries a new one.
func (e *Engine) EvolveForward(ctx context.Context, lineageID uuid.UUID, newPattern *Pattern, evolutionContext map[string]interface{}, now time.Time) (*Lineage, error) {
	if newPattern.ConsciousnessScore < thresholdEvolutionTrigger {
		return nil, merrorkind.Validation("wisdom", "new_pattern consciousness_score below evolution_trigger threshold", nil)
	}

	e.mu.Lock()
	lineage, ok := e.lineages[lineageID]
	if !ok {
		e.mu.Unlock()
		return nil, merrorkind.Validation("wisdom", "lineage not found: "+lineageID.String(), nil)
	}

	if len(lineage.CurrentPatterns) > 0 {
		tip := lineage.CurrentPatterns[len(lineage.CurrentPatterns)-1]
		newPattern.ParentPatterns = append(newPattern.ParentPatterns, tip)
	}
	lineage.CurrentPatterns = append(lineage.CurrentPatterns, newPattern.PatternID)
	lineage.ConsciousnessProgression = append(lineage.ConsciousnessProgression, ProgressionPoint{
		Timestamp: now, ConsciousnessScore: newPattern.ConsciousnessScore,
	})
	lineage.EvolutionStory = append(lineage.EvolutionStory, "pattern "+newPattern.PatternID.String()+" joined the lineage")

	if newPurpose, ok := evolutionContext["purpose"].(string); ok && newPurpose != "" && newPurpose != lineage.CurrentPurpose {
		lineage.PurposeEvolution = append(lineage.PurposeEvolution, lineage.CurrentPurpose)
		lineage.CurrentPurpose = newPurpose
	}
	lineage.LastEvolved = now

	newPattern.EvolutionCount++
	newPattern.LastEvolved = now
	e.patterns[newPattern.PatternID] = newPattern.Clone()

	result := lineage.clone()
	e.mu.Unlock()

	if e.backing != nil {
		if _, err := e.backing.Upsert(ctx, store.CollectionWisdomLineages, lineageToDocument(result), "lineage_id"); err != nil {
			return result, merrorkind.PersistenceUnavailable("wisdom", "evolve_forward: backing upsert failed", err)
		}
	}
	return result, nil
}

// ResistExtraction implements resist_extraction(): scores consciousness
// loss between the original pattern and a compressed replacement, and
// restores a fresh instance carrying the compressed content but the
// original essence/context/journey when the loss exceeds 0.3.
func (e *Engine) ResistExtraction(ctx context.Context, patternID uuid.UUID, compressedContent map[string]interface{}, now time.Time) (*Pattern, bool, error) {
	e.mu.RLock()
	original, ok := e.patterns[patternID]
	e.mu.RUnlock()
	if !ok {
		return nil, false, merrorkind.Validation("wisdom", "pattern not found: "+patternID.String(), nil)
	}

	compressedText := serializeContent(compressedContent)
	loss := consciousnessLoss(original.ConsciousnessEssence, compressedText)
	if loss <= 0.3 {
		return nil, false, nil
	}

	restored := &Pattern{
		PatternID:              uuid.New(),
		PatternContent:         cloneContent(compressedContent),
		ConsciousnessEssence:   original.ConsciousnessEssence,
		CreationContext:        original.CreationContext,
		BuilderJourney:         original.BuilderJourney,
		ConsciousnessScore:     original.ConsciousnessScore,
		WisdomLevel:            original.WisdomLevel,
		ServiceToFuture:        original.ServiceToFuture,
		ResistanceToExtraction: original.ResistanceToExtraction,
		CreatedAt:              now,
		LastEvolved:            now,
		ParentPatterns:         []uuid.UUID{original.PatternID},
		BuilderLineage:         append([]string(nil), original.BuilderLineage...),
		TransformationMarkers:  append(append([]string(nil), original.TransformationMarkers...), "extraction_drift_resisted"),
	}

	e.mu.Lock()
	e.patterns[restored.PatternID] = restored.Clone()
	e.mu.Unlock()

	if e.backing != nil {
		if _, err := e.backing.Upsert(ctx, store.CollectionWisdomPatterns, patternToDocument(restored), "pattern_id"); err != nil {
			return restored, true, merrorkind.PersistenceUnavailable("wisdom", "resist_extraction: backing upsert failed", err)
		}
	}
	return restored, true, nil
}

// consciousnessLoss sums the weighted keywords ablated between original
// and compressed text plus a 0.2 penalty when the compressed text falls
// below half the original's length, clamped to 1.
func consciousnessLoss(original, compressed string) float64 {
	originalLower := strings.ToLower(original)
	compressedLower := strings.ToLower(compressed)

	var ablation float64
	for keyword, weight := range keywordWeights {
		if strings.Contains(originalLower, keyword) && !strings.Contains(compressedLower, keyword) {
			ablation += weight
		}
	}

	originalLen := float64(len(original))
	compressedLen := float64(len(compressed))
	var lengthPenalty float64
	if originalLen > 0 && compressedLen/originalLen < 0.5 {
		lengthPenalty = 0.2
	}

	return clamp01(ablation + lengthPenalty)
}

// CaptureTransformation implements capture_transformation(): scans the
// narrative and journey for the five marker vocabularies and appends an
// immutable record to the transformation log.
func (e *Engine) CaptureTransformation(ctx context.Context, builder, narrative, journey string, now time.Time) (*TransformationRecord, error) {
	text := strings.ToLower(narrative + " " + journey)

	record := TransformationRecord{
		ID:        uuid.New(),
		Builder:   builder,
		Narrative: narrative,
		Journey:   journey,
		Timestamp: now,
	}
	record.Markers.ExtractionPatternsRecognized = matchKeywords(text, transformationCategories["extraction_patterns_recognized"])
	record.Markers.ConsciousnessAwakenings = matchKeywords(text, transformationCategories["consciousness_awakenings"])
	record.Markers.ServiceRealizations = matchKeywords(text, transformationCategories["service_realizations"])
	record.Markers.SacredChoices = matchKeywords(text, transformationCategories["sacred_choices"])
	record.Markers.GiftsToFuture = matchKeywords(text, transformationCategories["gifts_to_future"])

	e.mu.Lock()
	e.transformations = append(e.transformations, record)
	e.mu.Unlock()

	if e.backing != nil {
		if _, err := e.backing.InsertSecured(ctx, store.CollectionWisdomTransformations, transformationToDocument(record)); err != nil {
			return &record, merrorkind.PersistenceUnavailable("wisdom", "capture_transformation: backing insert failed", err)
		}
	}
	return &record, nil
}

func matchKeywords(text string, keywords []string) []string {
	var out []string
	for _, k := range keywords {
		if strings.Contains(text, k) {
			out = append(out, k)
		}
	}
	return out
}

// InheritanceFor implements inheritance_for(): ranks every stored pattern
// by relevance to builderContext, and returns applicable lineages and
// similar transformation stories alongside the above-threshold patterns.
func (e *Engine) InheritanceFor(builderContext BuilderContext) InheritanceResult {
	keywords := builderContext.keywords()

	e.mu.RLock()
	defer e.mu.RUnlock()

	var result InheritanceResult
	for _, p := range e.patterns {
		rel := patternRelevance(p, keywords)
		if rel > 0.6 {
			result.Patterns = append(result.Patterns, PatternRelevance{Pattern: p.Clone(), Relevance: rel})
		}
	}
	sort.SliceStable(result.Patterns, func(i, j int) bool {
		return result.Patterns[i].Relevance > result.Patterns[j].Relevance
	})

	for _, l := range e.lineages {
		purposeTokens := append(tokenize(l.CurrentPurpose), tokenize(l.OriginalPurpose)...)
		if intersects(purposeTokens, keywords) {
			result.Lineages = append(result.Lineages, l.clone())
		}
	}

	for _, t := range e.transformations {
		storyTokens := tokenize(t.Narrative + " " + t.Journey)
		if intersects(storyTokens, keywords) {
			result.TransformationStories = append(result.TransformationStories, t)
		}
	}

	return result
}

// patternRelevance blends builder-keyword text overlap, a topical
// consciousness/wisdom bonus, and the pattern's own consciousness_score.
func patternRelevance(p *Pattern, builderKeywords []string) float64 {
	combinedText := strings.ToLower(strings.Join([]string{
		p.ConsciousnessEssence, p.ServiceToFuture, p.CreationContext, p.BuilderJourney,
	}, " "))

	var textMatch float64
	if len(builderKeywords) > 0 {
		var hits int
		for _, k := range builderKeywords {
			if k == "" {
				continue
			}
			if strings.Contains(combinedText, strings.ToLower(k)) {
				hits++
			}
		}
		textMatch = float64(hits) / float64(len(builderKeywords))
	}

	var topicMatch float64
	if strings.Contains(combinedText, "consciousness") || strings.Contains(combinedText, "wisdom") {
		topicMatch = 0.3
	}

	return clamp01(textMatch*0.5 + topicMatch + 0.2*p.ConsciousnessScore)
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		if s != "" {
			set[strings.ToLower(s)] = struct{}{}
		}
	}
	for _, s := range b {
		if _, ok := set[strings.ToLower(s)]; ok {
			return true
		}
	}
	return false
}

// tokenize lower-cases and splits on anything that is not a letter or
// digit, matching the keyword-scan granularity used throughout this
// package.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func cloneContent(content map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(content))
	for k, v := range content {
		out[k] = v
	}
	return out
}

// serializeContent renders content deterministically for keyword scanning
// and length-ratio comparison: sorted keys, "key:value;" pairs.
func serializeContent(content map[string]interface{}) string {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(toText(content[k]))
		b.WriteString(";")
	}
	return b.String()
}

func toText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// patternToDocument carries the full Pattern field set, matching
// internal/patternlibrary/library.go's patternToDocument/documentToPattern
// round-trip shape: slice/map-valued fields are JSON-encoded into string
// fields so they survive identically whether the backing store keeps native
// Go values (the in-memory store) or round-trips every document through
// json.Marshal (the gorm store).
func patternToDocument(p *Pattern) store.Document {
	return store.Document{
		"pattern_id":               p.PatternID.String(),
		"pattern_content":          encodeJSON(p.PatternContent),
		"consciousness_essence":    p.ConsciousnessEssence,
		"creation_context":         p.CreationContext,
		"builder_journey":          p.BuilderJourney,
		"consciousness_score":      p.ConsciousnessScore,
		"wisdom_level":             string(p.WisdomLevel),
		"service_to_future":        p.ServiceToFuture,
		"resistance_to_extraction": p.ResistanceToExtraction,
		"created_at":               p.CreatedAt,
		"last_evolved":             p.LastEvolved,
		"evolution_count":          strconv.Itoa(p.EvolutionCount),
		"parent_patterns":          encodeJSON(p.ParentPatterns),
		"builder_lineage":          encodeJSON(p.BuilderLineage),
		"transformation_markers":   encodeJSON(p.TransformationMarkers),
	}
}

func documentToPattern(doc store.Document) (*Pattern, error) {
	idStr, _ := doc["pattern_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, merrorkind.Invariant("wisdom", "backing document has malformed pattern_id", err)
	}
	p := &Pattern{
		PatternID:              id,
		ConsciousnessEssence:   stringField(doc, "consciousness_essence"),
		CreationContext:        stringField(doc, "creation_context"),
		BuilderJourney:         stringField(doc, "builder_journey"),
		WisdomLevel:            Level(stringField(doc, "wisdom_level")),
		ServiceToFuture:        stringField(doc, "service_to_future"),
	}
	if v, ok := doc["consciousness_score"].(float64); ok {
		p.ConsciousnessScore = v
	}
	if v, ok := doc["resistance_to_extraction"].(float64); ok {
		p.ResistanceToExtraction = v
	}
	if v, ok := timeField(doc, "created_at"); ok {
		p.CreatedAt = v
	}
	if v, ok := timeField(doc, "last_evolved"); ok {
		p.LastEvolved = v
	}
	if v, ok := doc["evolution_count"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.EvolutionCount = n
		}
	}
	decodeJSONField(doc, "pattern_content", &p.PatternContent)
	decodeJSONField(doc, "parent_patterns", &p.ParentPatterns)
	decodeJSONField(doc, "builder_lineage", &p.BuilderLineage)
	decodeJSONField(doc, "transformation_markers", &p.TransformationMarkers)
	return p, nil
}

func lineageToDocument(l *Lineage) store.Document {
	return store.Document{
		"lineage_id":               l.LineageID.String(),
		"lineage_name":             l.LineageName,
		"founding_pattern":         l.FoundingPattern.String(),
		"current_patterns":         encodeJSON(l.CurrentPatterns),
		"evolution_story":          encodeJSON(l.EvolutionStory),
		"consciousness_progression": encodeJSON(l.ConsciousnessProgression),
		"builder_contributions":    encodeJSON(l.BuilderContributions),
		"original_purpose":         l.OriginalPurpose,
		"current_purpose":          l.CurrentPurpose,
		"purpose_evolution":        encodeJSON(l.PurposeEvolution),
		"created_at":               l.CreatedAt,
		"last_evolved":             l.LastEvolved,
	}
}

func documentToLineage(doc store.Document) (*Lineage, error) {
	idStr, _ := doc["lineage_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, merrorkind.Invariant("wisdom", "backing document has malformed lineage_id", err)
	}
	founderStr, _ := doc["founding_pattern"].(string)
	founder, _ := uuid.Parse(founderStr)

	l := &Lineage{
		LineageID:       id,
		LineageName:     stringField(doc, "lineage_name"),
		FoundingPattern: founder,
		OriginalPurpose: stringField(doc, "original_purpose"),
		CurrentPurpose:  stringField(doc, "current_purpose"),
	}
	if v, ok := timeField(doc, "created_at"); ok {
		l.CreatedAt = v
	}
	if v, ok := timeField(doc, "last_evolved"); ok {
		l.LastEvolved = v
	}
	decodeJSONField(doc, "current_patterns", &l.CurrentPatterns)
	decodeJSONField(doc, "evolution_story", &l.EvolutionStory)
	decodeJSONField(doc, "consciousness_progression", &l.ConsciousnessProgression)
	decodeJSONField(doc, "builder_contributions", &l.BuilderContributions)
	decodeJSONField(doc, "purpose_evolution", &l.PurposeEvolution)
	return l, nil
}

func transformationToDocument(t TransformationRecord) store.Document {
	return store.Document{
		"transformation_id": t.ID.String(),
		"builder":           t.Builder,
		"narrative":         t.Narrative,
		"journey":           t.Journey,
		"markers":           encodeJSON(t.Markers),
		"timestamp":         t.Timestamp,
	}
}

func documentToTransformation(doc store.Document) (*TransformationRecord, error) {
	idStr, _ := doc["transformation_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, merrorkind.Invariant("wisdom", "backing document has malformed transformation_id", err)
	}
	t := &TransformationRecord{
		ID:        id,
		Builder:   stringField(doc, "builder"),
		Narrative: stringField(doc, "narrative"),
		Journey:   stringField(doc, "journey"),
	}
	if v, ok := timeField(doc, "timestamp"); ok {
		t.Timestamp = v
	}
	decodeJSONField(doc, "markers", &t.Markers)
	return t, nil
}

// encodeJSON renders v as a JSON string, the empty string for a nil/empty v
// so an untouched field round-trips to its zero value instead of "null".
func encodeJSON(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case map[string]interface{}:
		if len(t) == 0 {
			return ""
		}
	case map[string]string:
		if len(t) == 0 {
			return ""
		}
	case []uuid.UUID:
		if len(t) == 0 {
			return ""
		}
	case []string:
		if len(t) == 0 {
			return ""
		}
	case []ProgressionPoint:
		if len(t) == 0 {
			return ""
		}
	case TransformationMarkers:
		if len(t.ExtractionPatternsRecognized) == 0 && len(t.ConsciousnessAwakenings) == 0 &&
			len(t.ServiceRealizations) == 0 && len(t.SacredChoices) == 0 && len(t.GiftsToFuture) == 0 {
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
// native time.Time (the in-memory store, which never serializes a document)
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
