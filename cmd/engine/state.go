package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// stateExport is the document `engine export-state` prints to stdout: the
// adaptive threshold controller's full durable state plus the confidence
// scorer's current weight vector, so an operator can snapshot everything
// the system has learned without reaching into the store directly.
type stateExport struct {
	ExportedAt          time.Time          `json:"exported_at"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	FrequencyThreshold  int                `json:"frequency_threshold"`
	TemporalWindows     map[string]string  `json:"temporal_windows"`
	LearningRate        float64            `json:"learning_rate"`
	TargetPrecision     float64            `json:"target_precision"`
	TargetRecall        float64            `json:"target_recall"`
	ScorerWeights       map[string]float64 `json:"scorer_weights"`
	PerformanceSamples  int                `json:"performance_samples"`
	FeedbackSamples     int                `json:"feedback_samples"`
}

// runExportState implements `engine export-state`: dump the currently
// persisted (not in-memory-only) learning state as indented JSON on stdout.
func runExportState() error {
	st, err := buildStack()
	if err != nil {
		return err
	}

	th := st.engine.Thresholds()
	windows := make(map[string]string, len(th.TemporalWindows))
	for precision, d := range th.TemporalWindows {
		windows[string(precision)] = d.String()
	}

	export := stateExport{
		ExportedAt:          time.Now(),
		ConfidenceThreshold: th.ConfidenceThreshold,
		FrequencyThreshold:  th.FrequencyThreshold,
		TemporalWindows:     windows,
		LearningRate:        th.LearningRate,
		TargetPrecision:     th.TargetPrecision,
		TargetRecall:        th.TargetRecall,
		ScorerWeights:       st.engine.Scorer().Weights(),
		PerformanceSamples:  len(th.PerformanceHistory),
		FeedbackSamples:     len(th.FeedbackHistory),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "exported learning state")
	return nil
}

// runResetLearning implements `engine reset-learning`: discard every
// feedback-learned adjustment (scorer weights and adaptive thresholds
// alike) and persist the restored defaults, leaving pattern library,
// wisdom, and evolution state untouched.
func runResetLearning() error {
	st, err := buildStack()
	if err != nil {
		return err
	}

	st.engine.Scorer().ResetToDefault()
	st.engine.Thresholds().Reset()

	if err := st.saveThresholds(); err != nil {
		return err
	}
	st.log.Info("learning state reset to specification defaults")
	return nil
}
