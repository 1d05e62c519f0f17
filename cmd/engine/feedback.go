package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"mallku/internal/merrorkind"
	"mallku/internal/scoring"
)

// feedbackRecord is the on-disk shape of one CorrelationFeedback item (spec
// §3), accepted as either JSON or YAML depending on the file's extension.
type feedbackRecord struct {
	FeedbackID        string                 `json:"feedback_id" yaml:"feedback_id"`
	CorrelationID     string                 `json:"correlation_id" yaml:"correlation_id"`
	IsMeaningful      bool                   `json:"is_meaningful" yaml:"is_meaningful"`
	ConfidenceRating  float64                `json:"confidence_rating" yaml:"confidence_rating"`
	Explanation       string                 `json:"explanation" yaml:"explanation"`
	FeedbackTimestamp time.Time              `json:"feedback_timestamp" yaml:"feedback_timestamp"`
	UserContext       map[string]interface{} `json:"user_context" yaml:"user_context"`
	FeedbackSource    string                 `json:"feedback_source" yaml:"feedback_source"`
	ImplicitSignal    bool                   `json:"implicit_signal" yaml:"implicit_signal"`
}

// runFeedback implements `engine feedback <file>`: it loads a batch of
// CorrelationFeedback from disk, feeds every item to the correlation
// engine's add_feedback path, forces a learning flush regardless of batch
// size (a one-shot CLI run has no later tick to trigger it), and persists
// the resulting threshold state.
func runFeedback(path string) error {
	if path == "" {
		return merrorkind.Configuration("engine", "feedback requires a file path argument", nil)
	}

	records, err := loadFeedbackFile(path)
	if err != nil {
		return err
	}

	st, err := buildStack()
	if err != nil {
		return err
	}

	var ingested int
	for _, r := range records {
		f, err := r.toFeedback()
		if err != nil {
			st.log.Warn("skipping malformed feedback record", "error", err.Error())
			continue
		}
		if err := st.engine.AddFeedback(f); err != nil {
			st.log.Warn("add_feedback rejected record", "error", err.Error())
			continue
		}
		ingested++
	}

	st.engine.FlushFeedback()
	st.log.Info("feedback batch processed", "file", path, "records", len(records), "ingested", ingested)

	return st.saveThresholds()
}

func loadFeedbackFile(path string) ([]feedbackRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, merrorkind.Configuration("engine", "cannot read feedback file", err)
	}

	var records []feedbackRecord
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, merrorkind.Validation("engine", "feedback file does not match the expected schema", err)
	}
	return records, nil
}

func (r feedbackRecord) toFeedback() (*scoring.Feedback, error) {
	correlationID, err := uuid.Parse(r.CorrelationID)
	if err != nil {
		return nil, merrorkind.Validation("engine", "feedback record has an invalid correlation_id", err)
	}

	feedbackID := uuid.New()
	if r.FeedbackID != "" {
		if parsed, err := uuid.Parse(r.FeedbackID); err == nil {
			feedbackID = parsed
		}
	}

	timestamp := r.FeedbackTimestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &scoring.Feedback{
		FeedbackID:        feedbackID,
		CorrelationID:     correlationID,
		IsMeaningful:      r.IsMeaningful,
		ConfidenceRating:  r.ConfidenceRating,
		Explanation:       r.Explanation,
		FeedbackTimestamp: timestamp,
		UserContext:       r.UserContext,
		FeedbackSource:    r.FeedbackSource,
		ImplicitSignal:    r.ImplicitSignal,
	}, nil
}
