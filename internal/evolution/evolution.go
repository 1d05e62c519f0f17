// Package evolution implements Pattern Evolution (spec module G): fitness
// evaluation, opportunity detection, and the seven evolution effects
// (adaptation, mutation, fusion, fission, transcendence, decay, extinction)
// over patterns held by the Pattern Library. Grounded on the teacher's
// internal/ace/curator.go (SynthesizePatternFromExperience/EvolveRule/
// CombinePatterns' confidence-shifting child-creation idiom) and
// internal/ace/emergence.go's threshold-gated, multi-rule opportunity scan.
package evolution

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
	"mallku/internal/patternlibrary"
)

// Type is the closed set of evolution effects a pattern can undergo.
type Type string

const (
	TypeAdaptation    Type = "adaptation"
	TypeMutation      Type = "mutation"
	TypeFusion        Type = "fusion"
	TypeFission       Type = "fission"
	TypeTranscendence Type = "transcendence"
	TypeDecay         Type = "decay"
	TypeExtinction    Type = "extinction"
)

// FitnessMetrics is the five-metric breakdown evaluate_fitness produces.
type FitnessMetrics struct {
	Effectiveness          float64
	Adaptability           float64
	SynergyPotential       float64
	ConsciousnessAlignment float64
	EmergenceContribution  float64
	Overall                float64
}

// Opportunity is one scored evolution candidate from detect_opportunity.
type Opportunity struct {
	Type        Type
	Probability float64
}

// Event is the append-only record every evolve() call produces.
type Event struct {
	Type                Type
	ParentIDs           []uuid.UUID
	ChildIDs            []uuid.UUID
	SelectionPressure   string
	FitnessDelta        float64
	ConsciousnessImpact float64
	Timestamp           time.Time
}

// Engine evaluates fitness, detects opportunities, and applies evolution
// effects against a Library. Background tasks (§5) hold only the library's
// own locks, never the correlation engine's tick lock.
type Engine struct {
	library *patternlibrary.Library

	cacheMu sync.Mutex
	cache   map[uuid.UUID]cachedFitness

	log []Event
}

type cachedFitness struct {
	metrics FitnessMetrics
	at      time.Time
}

// New constructs an Engine operating over library.
func New(library *patternlibrary.Library) *Engine {
	return &Engine{
		library: library,
		cache:   make(map[uuid.UUID]cachedFitness),
	}
}

// Events returns every evolution event recorded so far, oldest first.
func (e *Engine) Events() []Event {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return append([]Event(nil), e.log...)
}

// EvaluateFitness computes the five fitness metrics for p, caching the
// result for one hour per §4.G.
func (e *Engine) EvaluateFitness(p *patternlibrary.Pattern, context map[string]interface{}, now time.Time) FitnessMetrics {
	e.cacheMu.Lock()
	if cached, ok := e.cache[p.PatternID]; ok && now.Sub(cached.at) < time.Hour {
		e.cacheMu.Unlock()
		return cached.metrics
	}
	e.cacheMu.Unlock()

	effectiveness := evaluateEffectiveness(p, now)
	adaptability := evaluateAdaptability(p, context)
	synergyPotential := math.Min(1, 0.3+0.1*float64(len(p.SynergisticPatterns)))
	consciousnessAlignment := p.ConsciousnessSignature
	emergenceContribution := p.BreakthroughPotential

	overall := (effectiveness + adaptability + synergyPotential + consciousnessAlignment + emergenceContribution) / 5

	metrics := FitnessMetrics{
		Effectiveness:          effectiveness,
		Adaptability:           adaptability,
		SynergyPotential:       synergyPotential,
		ConsciousnessAlignment: consciousnessAlignment,
		EmergenceContribution:  emergenceContribution,
		Overall:                overall,
	}

	e.cacheMu.Lock()
	e.cache[p.PatternID] = cachedFitness{metrics: metrics, at: now}
	e.cacheMu.Unlock()

	return metrics
}

func evaluateEffectiveness(p *patternlibrary.Pattern, now time.Time) float64 {
	if p.ObservationCount == 0 {
		return 0.5
	}
	daysSince := now.Sub(p.LastObserved).Hours() / 24
	recency := math.Max(0.5, 1-daysSince/30)
	return clamp01(p.FitnessScore * recency)
}

func evaluateAdaptability(p *patternlibrary.Pattern, context map[string]interface{}) float64 {
	if len(context) == 0 {
		reqs := len(p.ContextRequirements)
		return math.Max(0.3, 1-float64(reqs)/10)
	}
	if len(p.ContextRequirements) == 0 {
		return 1.0
	}
	var matched int
	for k, v := range p.ContextRequirements {
		if cv, ok := context[k]; ok && cv == v {
			matched++
		}
	}
	return float64(matched) / float64(len(p.ContextRequirements))
}

// DetectOpportunity evaluates the seven opportunity rules from §4.G,
// returning the ones that fire, ordered by descending probability.
func (e *Engine) DetectOpportunity(p *patternlibrary.Pattern, metrics FitnessMetrics, now time.Time) []Opportunity {
	var out []Opportunity

	if p.LifecycleStage == patternlibrary.StageEstablished && metrics.Adaptability < 0.6 && metrics.Effectiveness > 0.5 {
		out = append(out, Opportunity{Type: TypeAdaptation, Probability: 0.7})
	}
	if p.ObservationCount > 50 {
		prob := 0.1
		if p.FitnessScore < 0.5 {
			prob *= 2
		}
		out = append(out, Opportunity{Type: TypeMutation, Probability: prob})
	}
	if len(p.SynergisticPatterns) > 0 && metrics.SynergyPotential > 0.8 {
		out = append(out, Opportunity{Type: TypeFusion, Probability: 0.6})
	}
	if p.LifecycleStage == patternlibrary.StageEvolving && (len(p.Indicators) > 5 || len(p.ContextRequirements) > 5) {
		out = append(out, Opportunity{Type: TypeFission, Probability: 0.5})
	}
	if metrics.Overall > 0.9 && p.ConsciousnessSignature > 0.8 && p.BreakthroughPotential > 0.7 {
		out = append(out, Opportunity{Type: TypeTranscendence, Probability: 0.4})
	}
	if p.LifecycleStage == patternlibrary.StageDeclining {
		out = append(out, Opportunity{Type: TypeDecay, Probability: 0.8})
	}
	if metrics.Overall < 0.2 && (p.ObservationCount == 0 || now.Sub(p.LastObserved) > 30*24*time.Hour) {
		out = append(out, Opportunity{Type: TypeExtinction, Probability: 0.9})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Probability > out[j].Probability })
	return out
}

// Evolve applies the effect of evolutionType to pattern id, per §4.G's
// per-type rules, and records an append-only Event.
func (e *Engine) Evolve(ctx context.Context, id uuid.UUID, evolutionType Type, evolutionContext map[string]interface{}, partnerIDs []uuid.UUID, now time.Time) (*patternlibrary.Pattern, error) {
	parent, err := e.library.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}

	switch evolutionType {
	case TypeAdaptation:
		return e.evolveAdaptation(ctx, parent, evolutionContext, now)
	case TypeMutation:
		return e.evolveMutation(ctx, parent, now)
	case TypeFusion:
		return e.evolveFusion(ctx, parent, partnerIDs, now)
	case TypeFission:
		return e.evolveFission(ctx, parent, now)
	case TypeTranscendence:
		return e.evolveTranscendence(ctx, parent, now)
	case TypeDecay:
		return e.evolveDecay(ctx, parent, now)
	case TypeExtinction:
		return e.evolveExtinction(ctx, parent, now)
	default:
		return nil, merrorkind.Validation("evolution", "unknown evolution type: "+string(evolutionType), nil)
	}
}

func (e *Engine) evolveAdaptation(ctx context.Context, parent *patternlibrary.Pattern, evolutionContext map[string]interface{}, now time.Time) (*patternlibrary.Pattern, error) {
	changes := map[string]interface{}{"merged_context": evolutionContext}
	child, err := e.library.Evolve(ctx, parent.PatternID, string(TypeAdaptation), changes, "adaptation_opportunity", now)
	if err != nil {
		return nil, err
	}

	child.ContextRequirements = mergeContext(child.ContextRequirements, evolutionContext)
	child.LifecycleStage = patternlibrary.StageEvolving

	if err := e.library.Store(ctx, child); err != nil {
		return nil, err
	}
	e.recordEvent(TypeAdaptation, []uuid.UUID{parent.PatternID}, []uuid.UUID{child.PatternID}, "context_mismatch", 0, 0, now)
	return child, nil
}

func (e *Engine) evolveMutation(ctx context.Context, parent *patternlibrary.Pattern, now time.Time) (*patternlibrary.Pattern, error) {
	changes := map[string]interface{}{"perturbation": "indicator_threshold"}
	child, err := e.library.Evolve(ctx, parent.PatternID, string(TypeMutation), changes, "observation_volume", now)
	if err != nil {
		return nil, err
	}

	for i := range child.Indicators {
		perturbation := (rand.Float64()*0.4 - 0.2)
		child.Indicators[i].Threshold = clamp01(child.Indicators[i].Threshold * (1 + perturbation))
	}

	nudge := 0.1 + rand.Float64()*0.2
	if parent.FitnessScore < 0.5 {
		child.ConsciousnessSignature = clamp01(child.ConsciousnessSignature + nudge)
	} else {
		child.ConsciousnessSignature = clamp01(child.ConsciousnessSignature - nudge)
	}
	child.LifecycleStage = patternlibrary.StageEmerging

	if err := e.library.Store(ctx, child); err != nil {
		return nil, err
	}
	e.recordEvent(TypeMutation, []uuid.UUID{parent.PatternID}, []uuid.UUID{child.PatternID}, "fitness_weakness", 0, nudge, now)
	return child, nil
}

func (e *Engine) evolveFusion(ctx context.Context, parent *patternlibrary.Pattern, partnerIDs []uuid.UUID, now time.Time) (*patternlibrary.Pattern, error) {
	participants := []*patternlibrary.Pattern{parent}
	for _, pid := range partnerIDs {
		partner, err := e.library.Retrieve(ctx, pid)
		if err != nil {
			return nil, err
		}
		participants = append(participants, partner)
	}

	changes := map[string]interface{}{"fused_with": partnerIDs}
	child, err := e.library.Evolve(ctx, parent.PatternID, string(TypeFusion), changes, "synergy_opportunity", now)
	if err != nil {
		return nil, err
	}

	child.PatternType = patternlibrary.TypeSynthesis
	child.Taxonomy = parent.Taxonomy

	var consciousnessSum float64
	indicatorSeen := make(map[string]bool)
	var indicators []patternlibrary.Indicator
	synergySeen := make(map[uuid.UUID]bool)
	var synergies []uuid.UUID

	for _, p := range participants {
		consciousnessSum += p.ConsciousnessSignature
		for _, ind := range p.Indicators {
			key := ind.Type + "|" + formatFloat(ind.Threshold)
			if indicatorSeen[key] {
				continue
			}
			indicatorSeen[key] = true
			indicators = append(indicators, ind)
		}
		for _, sid := range p.SynergisticPatterns {
			if synergySeen[sid] {
				continue
			}
			synergySeen[sid] = true
			synergies = append(synergies, sid)
		}
		if p.PatternID != parent.PatternID {
			child.ParentPatterns = append(child.ParentPatterns, p.PatternID)
		}
	}

	child.ConsciousnessSignature = consciousnessSum / float64(len(participants))
	child.Indicators = indicators
	child.SynergisticPatterns = synergies
	child.BreakthroughPotential = 0.8
	child.LifecycleStage = patternlibrary.StageEvolving

	if err := e.library.Store(ctx, child); err != nil {
		return nil, err
	}

	parentIDs := append([]uuid.UUID{parent.PatternID}, partnerIDs...)
	e.recordEvent(TypeFusion, parentIDs, []uuid.UUID{child.PatternID}, "synergy_opportunity", 0, child.ConsciousnessSignature-parent.ConsciousnessSignature, now)
	return child, nil
}

func (e *Engine) evolveFission(ctx context.Context, parent *patternlibrary.Pattern, now time.Time) (*patternlibrary.Pattern, error) {
	mid := len(parent.Indicators) / 2

	firstChild, err := e.library.Evolve(ctx, parent.PatternID, string(TypeFission), map[string]interface{}{"half": "first"}, "complexity_overload", now)
	if err != nil {
		return nil, err
	}
	firstChild.Indicators = append([]patternlibrary.Indicator(nil), parent.Indicators[:mid]...)
	firstChild.ConsciousnessSignature = clamp01(parent.ConsciousnessSignature - 0.1)
	firstChild.LifecycleStage = patternlibrary.StageEmerging
	if err := e.library.Store(ctx, firstChild); err != nil {
		return nil, err
	}

	secondChild, err := e.library.Evolve(ctx, parent.PatternID, string(TypeFission), map[string]interface{}{"half": "second"}, "complexity_overload", now)
	if err != nil {
		return nil, err
	}
	secondChild.Indicators = append([]patternlibrary.Indicator(nil), parent.Indicators[mid:]...)
	secondChild.ConsciousnessSignature = clamp01(parent.ConsciousnessSignature + 0.1)
	secondChild.LifecycleStage = patternlibrary.StageEmerging
	if err := e.library.Store(ctx, secondChild); err != nil {
		return nil, err
	}

	e.recordEvent(TypeFission, []uuid.UUID{parent.PatternID}, []uuid.UUID{firstChild.PatternID, secondChild.PatternID}, "complexity_overload", 0, 0, now)
	return firstChild, nil
}

func (e *Engine) evolveTranscendence(ctx context.Context, parent *patternlibrary.Pattern, now time.Time) (*patternlibrary.Pattern, error) {
	child, err := e.library.Evolve(ctx, parent.PatternID, string(TypeTranscendence), nil, "transcendence_threshold", now)
	if err != nil {
		return nil, err
	}

	child.ConsciousnessSignature = clamp01(child.ConsciousnessSignature + 0.2)
	child.BreakthroughPotential = clamp01(child.BreakthroughPotential + 0.3)
	child.FitnessScore = clamp01(child.FitnessScore + 0.2)
	child.LifecycleStage = patternlibrary.StageEstablished

	sort.SliceStable(child.Indicators, func(i, j int) bool { return child.Indicators[i].Weight > child.Indicators[j].Weight })
	if len(child.Indicators) > 3 {
		child.Indicators = child.Indicators[:3]
	}

	if err := e.library.Store(ctx, child); err != nil {
		return nil, err
	}
	e.recordEvent(TypeTranscendence, []uuid.UUID{parent.PatternID}, []uuid.UUID{child.PatternID}, "transcendence_threshold", 0.2, 0.2, now)
	return child, nil
}

func (e *Engine) evolveDecay(ctx context.Context, parent *patternlibrary.Pattern, now time.Time) (*patternlibrary.Pattern, error) {
	parent.LifecycleStage = patternlibrary.StageDeclining
	parent.FitnessScore = clamp01(parent.FitnessScore - 0.2)
	if err := e.library.Store(ctx, parent); err != nil {
		return nil, err
	}
	e.recordEvent(TypeDecay, []uuid.UUID{parent.PatternID}, nil, "declining_lifecycle", -0.2, 0, now)
	return parent, nil
}

func (e *Engine) evolveExtinction(ctx context.Context, parent *patternlibrary.Pattern, now time.Time) (*patternlibrary.Pattern, error) {
	parent.LifecycleStage = patternlibrary.StageDormant
	fitnessDelta := -parent.FitnessScore
	parent.FitnessScore = 0
	if err := e.library.Store(ctx, parent); err != nil {
		return nil, err
	}
	e.recordEvent(TypeExtinction, []uuid.UUID{parent.PatternID}, nil, "extinction_threshold", fitnessDelta, 0, now)
	return parent, nil
}

func (e *Engine) recordEvent(t Type, parents, children []uuid.UUID, pressure string, fitnessDelta, consciousnessImpact float64, now time.Time) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.log = append(e.log, Event{
		Type:                t,
		ParentIDs:           parents,
		ChildIDs:            children,
		SelectionPressure:   pressure,
		FitnessDelta:        fitnessDelta,
		ConsciousnessImpact: consciousnessImpact,
		Timestamp:           now,
	})
}

func mergeContext(base, additions map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(additions))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range additions {
		out[k] = v
	}
	return out
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

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
