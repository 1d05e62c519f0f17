package observability

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	mallkulogger "mallku/internal/logger"
)

// EngineLogRecord is one persisted, trace-correlated audit log entry: every
// event the centralized logger.Logger decides is audit-worthy (invariant
// violations, configuration fallbacks, persistence degradation) lands here
// in addition to the console line logger.Logger always prints.
type EngineLogRecord struct {
	ID         int64           `json:"id" gorm:"primaryKey"`
	TraceID    *uuid.UUID      `json:"trace_id,omitempty" gorm:"type:uuid"`
	ServiceName string         `json:"service_name" gorm:"not null"`
	Level      string          `json:"level" gorm:"not null"`
	Message    string          `json:"message" gorm:"not null"`
	EventType  string          `json:"event_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty" gorm:"type:jsonb"`
	Timestamp  time.Time       `json:"timestamp" gorm:"default:now()"`
}

func (EngineLogRecord) TableName() string {
	return "engine_log_records"
}

// LogSink is a gorm-backed mallku/internal/logger.Sink: every record the
// centralized Logger decides to persist (every non-debug call, plus every
// LogEvent) is written here asynchronously, mirroring the teacher's
// fire-and-forget audit-write idiom without blocking the caller on the
// database.
type LogSink struct {
	db          *gorm.DB
	serviceName string
}

// NewLogSink constructs a LogSink over db. Passing it as the sink argument
// to mallku/internal/logger.New gives the centralized console logger a
// queryable, trace-correlated durable backing.
func NewLogSink(db *gorm.DB, serviceName string) *LogSink {
	return &LogSink{db: db, serviceName: serviceName}
}

// Write implements mallku/internal/logger.Sink.
func (s *LogSink) Write(service string, level mallkulogger.Level, message string, eventType string, data map[string]interface{}, at time.Time) error {
	var dataJSON json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Printf("[OBSERVABILITY] warning: failed to marshal log data: %v", err)
		} else {
			dataJSON = encoded
		}
	}

	record := EngineLogRecord{
		ServiceName: service,
		Level:       string(level),
		Message:     message,
		EventType:   eventType,
		Data:        dataJSON,
		Timestamp:   at,
	}

	go func() {
		if err := s.db.Create(&record).Error; err != nil {
			log.Printf("[OBSERVABILITY] warning: failed to persist log record: %v", err)
		}
	}()
	return nil
}

// QueryLogs retrieves persisted log records, newest first, optionally
// filtered by service, level, and/or event type.
func (s *LogSink) QueryLogs(ctx context.Context, service, level, eventType string, limit int) ([]EngineLogRecord, error) {
	var records []EngineLogRecord
	query := s.db.WithContext(ctx).Model(&EngineLogRecord{})

	if service != "" {
		query = query.Where("service_name = ?", service)
	}
	if level != "" {
		query = query.Where("level = ?", level)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	err := query.Order("timestamp DESC").Limit(limit).Find(&records).Error
	return records, err
}
