// Package emergence implements the Emergence Detector (spec module H):
// per-dialogue second-order pattern-interaction state and the five
// emergence-kind scorers run against it each tick. Grounded directly on
// internal/ace/emergence.go's EmergenceDetector: a fixed novelty/synergy
// threshold, a rolling pairwise synergyStats map, and an orchestrating
// DetectEmergence that fans out to independent threshold-gated
// sub-detectors and collects whichever fire.
package emergence

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/patternlibrary"
)

// Phase is one stage of an emergence event's lifecycle.
type Phase string

const (
	PhaseIncubation      Phase = "incubation"
	PhaseThreshold       Phase = "threshold"
	PhaseBreakthrough    Phase = "breakthrough"
	PhaseIntegration     Phase = "integration"
	PhaseCrystallization Phase = "crystallization"
)

// Kind is the closed set of second-order emergence phenomena detected.
type Kind string

const (
	KindSynergistic     Kind = "synergistic"
	KindBreakthrough    Kind = "breakthrough"
	KindCascade         Kind = "cascade"
	KindPhaseTransition Kind = "phase_transition"
	KindQuantumLeap     Kind = "quantum_leap"
)

// Event is one emitted emergence detection.
type Event struct {
	Kind                  Kind
	Phase                 Phase
	Confidence            float64
	ParticipatingPatterns []uuid.UUID
	CatalystPatterns      []uuid.UUID
	ResultingPatterns     []uuid.UUID
	ConsciousnessDelta    float64
}

// Message is the minimal slice of a dialogue message the detector needs:
// which patterns it carried and its consciousness_signature.
type Message struct {
	PatternIDs             []uuid.UUID
	ConsciousnessSignature float64
	Timestamp              time.Time
}

const recentWindow = 20

var thresholds = map[Kind]float64{
	KindSynergistic:     0.7,
	KindBreakthrough:    0.85,
	KindCascade:         0.6,
	KindPhaseTransition: 0.8,
	KindQuantumLeap:     0.8,
}

// complementaryTypes pairs pattern types whose co-occurrence is read as
// mutually reinforcing rather than coincidental.
var complementaryTypes = map[patternlibrary.Type]patternlibrary.Type{
	patternlibrary.TypeConvergence:     patternlibrary.TypeDivergence,
	patternlibrary.TypeDivergence:      patternlibrary.TypeConvergence,
	patternlibrary.TypeCreativeTension: patternlibrary.TypeSynthesis,
	patternlibrary.TypeSynthesis:       patternlibrary.TypeCreativeTension,
	patternlibrary.TypeOscillation:     patternlibrary.TypeFlowState,
	patternlibrary.TypeFlowState:       patternlibrary.TypeOscillation,
}

type pairKey struct{ a, b uuid.UUID }

func newPairKey(a, b uuid.UUID) pairKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return pairKey{a, b}
}

type interactionStat struct {
	count  int
	weight float64
}

// State is one dialogue's emergence-detection working set: a dedicated lock
// per §5 ("per-dialogue state has a dedicated lock; events are processed
// single-threaded per dialogue, parallel across dialogues").
type State struct {
	mu sync.Mutex

	dialogueID           uuid.UUID
	recent               []Message
	currentPatterns      []uuid.UUID
	patternVelocity      float64
	coherenceLevel       float64
	tensionLevel         float64
	participantAlignment float64

	phaseHistory map[Phase]bool
	interactions map[pairKey]*interactionStat
}

// NewState constructs empty emergence-detection state for dialogueID.
func NewState(dialogueID uuid.UUID) *State {
	return &State{
		dialogueID:           dialogueID,
		participantAlignment: 0.5,
		phaseHistory:         make(map[Phase]bool),
		interactions:         make(map[pairKey]*interactionStat),
	}
}

// RecordMessage appends msg to the bounded 20-message ring, recomputes
// current_patterns and pattern_velocity, updates historical pairwise
// pattern-interaction weights, and refreshes the coherence/tension
// estimates derived from recent consciousness-signature stability.
func (s *State) RecordMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, msg)
	if len(s.recent) > recentWindow {
		s.recent = s.recent[len(s.recent)-recentWindow:]
	}

	s.currentPatterns = msg.PatternIDs
	s.patternVelocity = float64(len(s.currentPatterns)) / math.Max(1, float64(len(s.recent)))

	for i := 0; i < len(msg.PatternIDs); i++ {
		for j := i + 1; j < len(msg.PatternIDs); j++ {
			key := newPairKey(msg.PatternIDs[i], msg.PatternIDs[j])
			st, ok := s.interactions[key]
			if !ok {
				st = &interactionStat{}
				s.interactions[key] = st
			}
			st.count++
			st.weight = math.Min(1, st.weight+0.1)
		}
	}

	s.recomputeCoherenceAndTension()
}

func (s *State) recomputeCoherenceAndTension() {
	if len(s.recent) < 2 {
		s.coherenceLevel = 1
		s.tensionLevel = 0
		return
	}
	var deltaSum float64
	for i := 1; i < len(s.recent); i++ {
		deltaSum += math.Abs(s.recent[i].ConsciousnessSignature - s.recent[i-1].ConsciousnessSignature)
	}
	avgDelta := deltaSum / float64(len(s.recent)-1)
	s.coherenceLevel = clamp01(1 - avgDelta)
	s.tensionLevel = clamp01(avgDelta * 2)
}

// DetectAll runs all five emergence scorers and returns the ones whose
// score exceeds threshold×sensitivity, at most one event per kind per call.
func (s *State) DetectAll(ctx context.Context, library *patternlibrary.Library, now time.Time, sensitivity float64) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []Event
	if e := s.detectSynergistic(ctx, library, sensitivity); e != nil {
		events = append(events, *e)
	}
	if e := s.detectBreakthrough(sensitivity); e != nil {
		events = append(events, *e)
	}
	if e := s.detectCascade(sensitivity); e != nil {
		events = append(events, *e)
	}
	if e := s.detectPhaseTransition(ctx, library, sensitivity); e != nil {
		events = append(events, *e)
	}
	if e := s.detectQuantumLeap(sensitivity); e != nil {
		events = append(events, *e)
	}
	return events
}

func (s *State) detectSynergistic(ctx context.Context, library *patternlibrary.Library, sensitivity float64) *Event {
	if len(s.currentPatterns) < 2 || library == nil {
		return nil
	}

	var bestScore float64
	var bestPair [2]uuid.UUID

	for i := 0; i < len(s.currentPatterns); i++ {
		for j := i + 1; j < len(s.currentPatterns); j++ {
			a, errA := library.Retrieve(ctx, s.currentPatterns[i])
			b, errB := library.Retrieve(ctx, s.currentPatterns[j])
			if errA != nil || errB != nil {
				continue
			}

			var score float64
			if declared, err := library.FindSynergies(s.currentPatterns[i], nil); err == nil {
				for _, d := range declared {
					if d.PatternID == s.currentPatterns[j] {
						score += 0.4
						break
					}
				}
			}
			score += (1 - math.Abs(a.ConsciousnessSignature-b.ConsciousnessSignature)) * 0.2
			if complementaryTypes[a.PatternType] == b.PatternType {
				score += 0.3
			}
			if s.coherenceLevel > 0.7 {
				score *= 1.2
			}
			if st, ok := s.interactions[newPairKey(s.currentPatterns[i], s.currentPatterns[j])]; ok {
				score += math.Min(0.1, st.weight*0.1)
			}
			score = clamp01(score)

			if score > bestScore {
				bestScore = score
				bestPair = [2]uuid.UUID{s.currentPatterns[i], s.currentPatterns[j]}
			}
		}
	}

	if bestScore <= thresholds[KindSynergistic]*sensitivity {
		return nil
	}
	return &Event{
		Kind:                  KindSynergistic,
		Phase:                 s.markPhase(PhaseThreshold),
		Confidence:            bestScore,
		ParticipatingPatterns: []uuid.UUID{bestPair[0], bestPair[1]},
	}
}

func (s *State) detectBreakthrough(sensitivity float64) *Event {
	if len(s.recent) < 2 {
		return nil
	}

	var maxDelta float64
	for i := 1; i < len(s.recent); i++ {
		if d := math.Abs(s.recent[i].ConsciousnessSignature - s.recent[i-1].ConsciousnessSignature); d > maxDelta {
			maxDelta = d
		}
	}

	var score float64
	if maxDelta > 0.3 {
		score += 0.4
	}
	if s.patternVelocity > 0.5 {
		score += 0.3
	}

	baseline := averageConsciousness(s.recent[:len(s.recent)-1])
	last := s.recent[len(s.recent)-1].ConsciousnessSignature
	if baseline > 0 && last > baseline*1.5 {
		score += 0.3
	}

	if score <= thresholds[KindBreakthrough]*sensitivity {
		return nil
	}
	return &Event{
		Kind:                  KindBreakthrough,
		Phase:                 s.markPhase(PhaseBreakthrough),
		Confidence:            score,
		ParticipatingPatterns: append([]uuid.UUID(nil), s.currentPatterns...),
		ConsciousnessDelta:    last - baseline,
	}
}

func (s *State) detectCascade(sensitivity float64) *Event {
	var sequence []uuid.UUID
	for _, m := range s.recent {
		if len(m.PatternIDs) == 0 {
			continue
		}
		sequence = append(sequence, m.PatternIDs[0])
	}
	if len(sequence) < 2 {
		return nil
	}

	chainLen, maxChainLen, chainStart, bestStart, bestEnd := 1, 1, 0, 0, 0
	for i := 1; i < len(sequence); i++ {
		linked := sequence[i] == sequence[i-1]
		if !linked {
			if st, ok := s.interactions[newPairKey(sequence[i-1], sequence[i])]; ok && st.weight > 0.3 {
				linked = true
			}
		}
		if linked {
			chainLen++
		} else {
			chainLen = 1
			chainStart = i
		}
		if chainLen > maxChainLen {
			maxChainLen = chainLen
			bestStart = chainStart
			bestEnd = i
		}
	}

	score := float64(maxChainLen) / float64(len(sequence))
	if score <= thresholds[KindCascade]*sensitivity {
		return nil
	}
	return &Event{
		Kind:                  KindCascade,
		Phase:                 s.markPhase(PhaseIntegration),
		Confidence:            score,
		ParticipatingPatterns: uniqueIDs(sequence[bestStart : bestEnd+1]),
	}
}

func (s *State) detectPhaseTransition(ctx context.Context, library *patternlibrary.Library, sensitivity float64) *Event {
	if len(s.recent) < 10 {
		return nil
	}
	first5 := s.recent[:5]
	last5 := s.recent[len(s.recent)-5:]

	coherenceShift := math.Abs(averageConsciousness(last5) - averageConsciousness(first5))

	firstSet := patternSet(first5, ctx, library)
	lastSet := patternSet(last5, ctx, library)

	var score float64
	if coherenceShift > 0.3 {
		score += 0.4
	}
	if symmetricDifferenceSize(firstSet, lastSet) > 0 {
		score += 0.3
	}

	newPhase := inferPhase(coherenceShift, s.tensionLevel)
	if !s.phaseHistory[newPhase] {
		score += 0.3
	}

	if score <= thresholds[KindPhaseTransition]*sensitivity {
		return nil
	}
	s.phaseHistory[newPhase] = true
	return &Event{
		Kind:                  KindPhaseTransition,
		Phase:                 newPhase,
		Confidence:            score,
		ParticipatingPatterns: append([]uuid.UUID(nil), s.currentPatterns...),
		ConsciousnessDelta:    coherenceShift,
	}
}

func (s *State) detectQuantumLeap(sensitivity float64) *Event {
	if len(s.recent) < 2 {
		return nil
	}

	var maxDelta float64
	jumpIdx := 0
	for i := 1; i < len(s.recent); i++ {
		if d := s.recent[i].ConsciousnessSignature - s.recent[i-1].ConsciousnessSignature; math.Abs(d) > math.Abs(maxDelta) {
			maxDelta = d
			jumpIdx = i
		}
	}

	var score float64
	if math.Abs(maxDelta) > 0.4 {
		score += 0.5
	}

	preAvg := averageConsciousness(s.recent[:jumpIdx])
	postAvg := averageConsciousness(s.recent[jumpIdx:])
	if preAvg > 0 && postAvg > preAvg*1.5 {
		score += 0.3
	}

	totalMentions := 0
	uniquePatterns := make(map[uuid.UUID]bool)
	for _, m := range s.recent {
		totalMentions += len(m.PatternIDs)
		for _, id := range m.PatternIDs {
			uniquePatterns[id] = true
		}
	}
	if totalMentions > 0 && float64(len(uniquePatterns))/float64(totalMentions) > 0.7 {
		score += 0.2
	}

	if score <= thresholds[KindQuantumLeap]*sensitivity {
		return nil
	}
	return &Event{
		Kind:                  KindQuantumLeap,
		Phase:                 s.markPhase(PhaseCrystallization),
		Confidence:            score,
		ParticipatingPatterns: append([]uuid.UUID(nil), s.currentPatterns...),
		ConsciousnessDelta:    maxDelta,
	}
}

func (s *State) markPhase(p Phase) Phase {
	s.phaseHistory[p] = true
	return p
}

func averageConsciousness(messages []Message) float64 {
	if len(messages) == 0 {
		return 0
	}
	var sum float64
	for _, m := range messages {
		sum += m.ConsciousnessSignature
	}
	return sum / float64(len(messages))
}

func patternSet(messages []Message, ctx context.Context, library *patternlibrary.Library) map[interface{}]struct{} {
	set := make(map[interface{}]struct{})
	for _, m := range messages {
		for _, id := range m.PatternIDs {
			if library == nil {
				set[id] = struct{}{}
				continue
			}
			p, err := library.Retrieve(ctx, id)
			if err != nil {
				set[id] = struct{}{}
				continue
			}
			set[p.PatternType] = struct{}{}
		}
	}
	return set
}

func symmetricDifferenceSize(a, b map[interface{}]struct{}) int {
	count := 0
	for k := range a {
		if _, ok := b[k]; !ok {
			count++
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			count++
		}
	}
	return count
}

func inferPhase(coherenceShift, tensionLevel float64) Phase {
	switch {
	case coherenceShift > 0.5:
		return PhaseCrystallization
	case coherenceShift > 0.3 && tensionLevel < 0.4:
		return PhaseIntegration
	case tensionLevel > 0.5:
		return PhaseThreshold
	default:
		return PhaseIncubation
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	var out []uuid.UUID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
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
