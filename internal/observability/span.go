package observability

import (
	"encoding/json"
	"log"
	"time"

	"gorm.io/gorm"
)

// TickSpan is one correlation-engine tick: the ring-buffer sweep every
// detector ran over, recorded for offline latency/yield analysis the same
// way a distributed-trace span records one unit of work.
type TickSpan struct {
	ID                   int64           `json:"id" gorm:"primaryKey"`
	TickID               string          `json:"tick_id" gorm:"not null;unique"`
	ServiceName          string          `json:"service_name" gorm:"not null"`
	StartTime            time.Time       `json:"start_time" gorm:"not null"`
	EndTime              time.Time       `json:"end_time"`
	DurationMs           int64           `json:"duration_ms"`
	DetectorsInvoked     json.RawMessage `json:"detectors_invoked,omitempty" gorm:"type:jsonb"`
	CorrelationsAccepted int             `json:"correlations_accepted"`
	Status               string          `json:"status,omitempty"` // ok, error, skipped
}

func (TickSpan) TableName() string {
	return "tick_spans"
}

// SpanRecorder persists one TickSpan per tick lane invocation.
type SpanRecorder struct {
	db          *gorm.DB
	serviceName string
}

// NewSpanRecorder constructs a SpanRecorder over db.
func NewSpanRecorder(db *gorm.DB, serviceName string) *SpanRecorder {
	return &SpanRecorder{db: db, serviceName: serviceName}
}

// RecordTick persists one tick's span: which detectors ran, how many
// correlations it accepted, and its wall-clock duration. Written
// asynchronously so a slow database never adds latency to the tick lane
// itself.
func (r *SpanRecorder) RecordTick(tickID string, start, end time.Time, detectorNames []string, accepted int, status string) {
	var detectorsJSON json.RawMessage
	if len(detectorNames) > 0 {
		data, err := json.Marshal(detectorNames)
		if err != nil {
			log.Printf("[OBSERVABILITY] warning: failed to marshal detector names: %v", err)
		} else {
			detectorsJSON = data
		}
	}

	span := TickSpan{
		TickID:               tickID,
		ServiceName:          r.serviceName,
		StartTime:            start,
		EndTime:              end,
		DurationMs:           end.Sub(start).Milliseconds(),
		DetectorsInvoked:     detectorsJSON,
		CorrelationsAccepted: accepted,
		Status:               status,
	}

	go func() {
		if err := r.db.Create(&span).Error; err != nil {
			log.Printf("[OBSERVABILITY] warning: failed to persist tick span: %v", err)
		}
	}()
}

// RecentTicks retrieves the most recently recorded tick spans, newest first.
func (r *SpanRecorder) RecentTicks(limit int) ([]TickSpan, error) {
	var spans []TickSpan
	err := r.db.Order("start_time DESC").Limit(limit).Find(&spans).Error
	return spans, err
}
