package scheduler

import (
	"context"
	"strings"
	"time"

	"mallku/internal/correlation"
	"mallku/internal/evolution"
	"mallku/internal/patternlibrary"
	"mallku/internal/wisdom"
)

// wisdomPromotedTag marks a Pattern already handed to the Wisdom
// Preservation engine, so a later sweep does not re-preserve it every
// interval.
const wisdomPromotedTag = "wisdom_preserved"

// minEvolutionProbability is the floor an evolution sweep's top-ranked
// opportunity must clear before the maintenance lane applies it
// automatically; weaker opportunities are left for an operator-triggered
// evolve() call instead of firing unattended.
const minEvolutionProbability = 0.5

// EvolutionSweepJob builds a maintenance job that evaluates fitness and
// scans for evolution opportunities across the whole library on interval,
// applying the top-ranked opportunity for any pattern whose probability
// clears minEvolutionProbability. It touches only the library's own write
// lock (via Store, inside Evolve) and the evolution engine's fitness cache
// lock, never the correlation engine's tick lock.
func EvolutionSweepJob(interval time.Duration, library *patternlibrary.Library, evo *evolution.Engine) MaintenanceJob {
	return MaintenanceJob{
		Name:     "evolution_sweep",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			for _, p := range library.Find(patternlibrary.Query{Limit: 1000}) {
				metrics := evo.EvaluateFitness(p, nil, now)
				opportunities := evo.DetectOpportunity(p, metrics, now)
				if len(opportunities) == 0 {
					continue
				}
				top := opportunities[0]
				if top.Probability < minEvolutionProbability {
					continue
				}
				// A single pattern's evolution failing (e.g. a fusion whose
				// partner vanished) must not stall the rest of the sweep.
				_, _ = evo.Evolve(ctx, p.PatternID, top.Type, nil, nil, now)
			}
			return nil
		},
	}
}

// WisdomPromotionJob builds a maintenance job that graduates library
// patterns, whatever their lifecycle stage, into the Wisdom Preservation
// engine once their
// consciousness_signature clears threshold, provided they carry the
// wisdom or consciousness taxonomy. Promoted patterns are tagged so the
// next sweep skips them.
func WisdomPromotionJob(interval time.Duration, library *patternlibrary.Library, wisdomEngine *wisdom.Engine, threshold float64) MaintenanceJob {
	return MaintenanceJob{
		Name:     "wisdom_promotion",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			for _, p := range library.Find(patternlibrary.Query{Limit: 1000}) {
				if p.ConsciousnessSignature < threshold {
					continue
				}
				if p.Taxonomy != patternlibrary.TaxonomyWisdom && p.Taxonomy != patternlibrary.TaxonomyConsciousness {
					continue
				}
				if hasTag(p.Tags, wisdomPromotedTag) {
					continue
				}

				_, err := wisdomEngine.Preserve(ctx, patternContent(p), p.Description,
					structureSummary(p.Structure), strings.Join(p.Tags, ", "), p.ConsciousnessSignature, now)
				if err != nil {
					continue
				}

				p.Tags = append(p.Tags, wisdomPromotedTag)
				if err := library.Store(ctx, p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// FeedbackFlushJob builds a maintenance job that forces the correlation
// engine to fold any partially-filled feedback batch into its learners,
// so feedback trickling in below learning_batch still reaches the scorer
// and threshold controller within one interval instead of waiting for the
// batch to fill.
func FeedbackFlushJob(interval time.Duration, engine *correlation.Engine) MaintenanceJob {
	return MaintenanceJob{
		Name:     "feedback_flush",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) error {
			engine.FlushFeedback()
			return nil
		},
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func patternContent(p *patternlibrary.Pattern) map[string]interface{} {
	return map[string]interface{}{
		"pattern_id":              p.PatternID.String(),
		"name":                    p.Name,
		"pattern_type":            string(p.PatternType),
		"consciousness_signature": p.ConsciousnessSignature,
		"fitness_score":           p.FitnessScore,
	}
}

func structureSummary(s patternlibrary.Structure) string {
	if len(s.Components) == 0 {
		return ""
	}
	return strings.Join(s.Components, ", ")
}
