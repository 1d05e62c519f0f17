package thresholds

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewState()
	s.ConfidenceThreshold = 0.734567891
	s.FrequencyThreshold = 4
	s.LearningRate = 0.123456789

	path := filepath.Join(t.TempDir(), "thresholds.json")
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.InDelta(t, s.ConfidenceThreshold, loaded.ConfidenceThreshold, 1e-9)
	require.Equal(t, s.FrequencyThreshold, loaded.FrequencyThreshold)
	require.InDelta(t, s.LearningRate, loaded.LearningRate, 1e-9)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	require.Equal(t, NewState().ConfidenceThreshold, loaded.ConfidenceThreshold)
}

func TestShouldAcceptAppliesTypeMultiplier(t *testing.T) {
	s := NewState()
	s.ConfidenceThreshold = 0.6
	s.FrequencyThreshold = 3

	require.True(t, s.ShouldAccept(0.6, 3, "sequential"))
	require.False(t, s.ShouldAccept(0.6, 3, "concurrent")) // needs 0.66
	require.True(t, s.ShouldAccept(0.54, 3, "cyclical"))   // needs 0.54
}

func TestUpdateFromFeedbackRaisesConfidenceThresholdOnLowPrecision(t *testing.T) {
	s := NewState()
	s.ConfidenceThreshold = 0.6
	s.TargetPrecision = 0.8
	s.LearningRate = 0.1

	var batch []FeedbackOutcome
	for i := 0; i < 3; i++ {
		batch = append(batch, FeedbackOutcome{IsMeaningful: true, Confidence: 0.9})
	}
	for i := 0; i < 7; i++ {
		batch = append(batch, FeedbackOutcome{IsMeaningful: false, Confidence: 0.8})
	}

	require.NoError(t, s.UpdateFromFeedback(batch))
	require.InDelta(t, 0.65, s.ConfidenceThreshold, 1e-9) // 0.6 + 0.1*(0.8-0.3)
}

func TestUpdateFromFeedbackRequiresMinimumBatch(t *testing.T) {
	s := NewState()
	err := s.UpdateFromFeedback([]FeedbackOutcome{{IsMeaningful: true, Confidence: 0.9}})
	require.Error(t, err)
}

func TestThresholdsStayWithinBounds(t *testing.T) {
	s := NewState()
	s.ConfidenceThreshold = 0.89
	s.TargetPrecision = 1.0

	var batch []FeedbackOutcome
	for i := 0; i < 20; i++ {
		batch = append(batch, FeedbackOutcome{IsMeaningful: false, Confidence: 0.1})
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.UpdateFromFeedback(batch))
	}

	require.LessOrEqual(t, s.ConfidenceThreshold, maxConfidenceThreshold)
	require.GreaterOrEqual(t, s.FrequencyThreshold, minFrequencyThreshold)
}
