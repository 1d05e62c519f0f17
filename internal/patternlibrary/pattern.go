// Package patternlibrary implements the Pattern Library (spec module F):
// the typed taxonomy, lifecycle, lineage graph, and query surface over
// persisted Patterns. Grounded on internal/repositories/*.go's
// cache-then-store read path and internal/merkle/tree.go's adjacency/lineage
// idiom, generalized from a merkle audit chain to a parent/child pattern DAG.
package patternlibrary

import (
	"time"

	"github.com/google/uuid"
)

// Taxonomy is the closed hierarchical tag a Pattern is filed under.
type Taxonomy string

const (
	TaxonomyDialogue      Taxonomy = "dialogue"
	TaxonomyConsciousness Taxonomy = "consciousness"
	TaxonomyEmergence     Taxonomy = "emergence"
	TaxonomyWisdom        Taxonomy = "wisdom"
)

// Type is the closed set of pattern shapes the library recognizes.
type Type string

const (
	TypeConvergence      Type = "convergence"
	TypeDivergence       Type = "divergence"
	TypeOscillation      Type = "oscillation"
	TypeSpiral           Type = "spiral"
	TypeConsensus        Type = "consensus"
	TypeCreativeTension  Type = "creative_tension"
	TypeSynthesis        Type = "synthesis"
	TypeBreakthrough     Type = "breakthrough"
	TypeCoherenceSpike   Type = "coherence_spike"
	TypeExtractionDrift  Type = "extraction_drift"
	TypeFlowState        Type = "flow_state"
	TypeIntegration      Type = "integration"
	TypeNovelCombination Type = "novel_combination"
	TypeCascadeEffect    Type = "cascade_effect"
	TypePhaseTransition  Type = "phase_transition"
	TypeQuantumLeap      Type = "quantum_leap"
)

// LifecycleStage is the closed set of stages a Pattern transitions through.
// Transitions only ever happen along the edges named in §4.F/§4.G: nascent
// seeds a pattern at creation; emerging/established come from
// update_observation's promotion thresholds, and Pattern Evolution also
// stamps emerging on mutation/fission children and established on a
// transcendence child; evolving/declining/dormant come
// from Pattern Evolution's effects; transformed is reserved for a pattern
// fully replaced by a transcendence child.
type LifecycleStage string

const (
	StageNascent     LifecycleStage = "nascent"
	StageEmerging    LifecycleStage = "emerging"
	StageEstablished LifecycleStage = "established"
	StageEvolving    LifecycleStage = "evolving"
	StageDeclining   LifecycleStage = "declining"
	StageDormant     LifecycleStage = "dormant"
	StageTransformed LifecycleStage = "transformed"
)

// Structure is a pattern's recognized shape: its components, an optional
// ordering, relationships between them, and constraints on when it applies.
type Structure struct {
	Components    []string
	Sequence      []string
	Relationships map[string]string
	Constraints   []string
}

// Indicator is one weighted, thresholded recognition rule.
type Indicator struct {
	Type      string
	Weight    float64
	Threshold float64
}

// Mutation is one append-only entry in a pattern's evolution history.
type Mutation struct {
	MutationType string
	Changes      map[string]interface{}
	Trigger      string
	Timestamp    time.Time
}

// Pattern is the persisted typed entity the library stores, queries, and
// evolves (spec §3 Pattern entity).
type Pattern struct {
	PatternID              uuid.UUID
	Name                   string
	Description            string
	Taxonomy               Taxonomy
	PatternType            Type
	ConsciousnessSignature float64
	Structure              Structure
	Indicators             []Indicator
	ContextRequirements    map[string]interface{}
	Version                int
	ParentPatterns         []uuid.UUID
	ChildPatterns          []uuid.UUID
	Mutations              []Mutation
	BirthDate              time.Time
	LastObserved           time.Time
	ObservationCount       int
	FitnessScore           float64
	LifecycleStage         LifecycleStage
	SynergisticPatterns    []uuid.UUID
	BreakthroughPotential  float64
	Tags                   []string
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// corrupting the library's stored instance; slices/maps are copied one
// level deep, matching how the library hands out cached reads.
func (p *Pattern) Clone() *Pattern {
	out := *p
	out.Structure.Components = append([]string(nil), p.Structure.Components...)
	out.Structure.Sequence = append([]string(nil), p.Structure.Sequence...)
	out.Structure.Constraints = append([]string(nil), p.Structure.Constraints...)
	out.Structure.Relationships = cloneStringMap(p.Structure.Relationships)
	out.Indicators = append([]Indicator(nil), p.Indicators...)
	out.ContextRequirements = cloneAnyMap(p.ContextRequirements)
	out.ParentPatterns = append([]uuid.UUID(nil), p.ParentPatterns...)
	out.ChildPatterns = append([]uuid.UUID(nil), p.ChildPatterns...)
	out.Mutations = append([]Mutation(nil), p.Mutations...)
	out.SynergisticPatterns = append([]uuid.UUID(nil), p.SynergisticPatterns...)
	out.Tags = append([]string(nil), p.Tags...)
	return &out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
