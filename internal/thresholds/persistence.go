package thresholds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"mallku/internal/events"
	"mallku/internal/merrorkind"
)

// fileDoc mirrors the stable on-disk format exactly (spec §6). Scalar
// fields use decimal.Decimal so serialize→deserialize round-trips exactly,
// rather than drifting through float64's binary representation.
type fileDoc struct {
	ConfidenceThreshold decimal.Decimal  `json:"confidence_threshold"`
	FrequencyThreshold  int64            `json:"frequency_threshold"`
	TemporalWindows     map[string]int64 `json:"temporal_windows"`
	LearningRate        decimal.Decimal  `json:"learning_rate"`
	TargetPrecision     decimal.Decimal  `json:"target_precision"`
	TargetRecall        decimal.Decimal  `json:"target_recall"`
	LastUpdated         string           `json:"last_updated"`
}

func (s *State) toDoc() fileDoc {
	windows := make(map[string]int64, len(s.TemporalWindows))
	for precision, d := range s.TemporalWindows {
		windows[string(precision)] = int64(d.Seconds())
	}
	return fileDoc{
		ConfidenceThreshold: decimal.NewFromFloat(s.ConfidenceThreshold),
		FrequencyThreshold:  int64(s.FrequencyThreshold),
		TemporalWindows:     windows,
		LearningRate:        decimal.NewFromFloat(s.LearningRate),
		TargetPrecision:     decimal.NewFromFloat(s.TargetPrecision),
		TargetRecall:        decimal.NewFromFloat(s.TargetRecall),
		LastUpdated:         s.LastUpdated.UTC().Format(time.RFC3339Nano),
	}
}

func fromDoc(doc fileDoc) *State {
	s := NewState()

	if !doc.ConfidenceThreshold.IsZero() {
		s.ConfidenceThreshold, _ = doc.ConfidenceThreshold.Float64()
	}
	if doc.FrequencyThreshold != 0 {
		s.FrequencyThreshold = int(doc.FrequencyThreshold)
	}
	if len(doc.TemporalWindows) > 0 {
		windows := make(map[events.Precision]time.Duration, len(doc.TemporalWindows))
		for k, v := range doc.TemporalWindows {
			windows[events.Precision(k)] = time.Duration(v) * time.Second
		}
		s.TemporalWindows = windows
	}
	if !doc.LearningRate.IsZero() {
		s.LearningRate, _ = doc.LearningRate.Float64()
	}
	if !doc.TargetPrecision.IsZero() {
		s.TargetPrecision, _ = doc.TargetPrecision.Float64()
	}
	if !doc.TargetRecall.IsZero() {
		s.TargetRecall, _ = doc.TargetRecall.Float64()
	}
	if doc.LastUpdated != "" {
		if t, err := time.Parse(time.RFC3339Nano, doc.LastUpdated); err == nil {
			s.LastUpdated = t
		}
	}
	return s
}

// Save serializes s to path, creating parent directories as needed and
// writing via a temp-file-then-rename sequence for atomicity.
func (s *State) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return merrorkind.PersistenceUnavailable("thresholds", "cannot create state directory", err)
	}

	data, err := json.MarshalIndent(s.toDoc(), "", "  ")
	if err != nil {
		return merrorkind.Invariant("thresholds", "cannot marshal threshold state", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return merrorkind.PersistenceUnavailable("thresholds", "cannot write threshold state", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return merrorkind.PersistenceUnavailable("thresholds", "cannot finalize threshold state write", err)
	}
	return nil
}

// Load reads the state at path. A missing file yields a fresh default
// State rather than an error, matching "any missing key takes its
// documented default."
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, merrorkind.PersistenceUnavailable("thresholds", "cannot read threshold state", err)
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, merrorkind.Invariant("thresholds", "threshold state file is malformed", err)
	}
	return fromDoc(doc), nil
}
