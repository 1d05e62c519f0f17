package logger

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// SystemLog is the durable record a gorm-backed Sink writes. It mirrors the
// teacher's system_logs table, retargeted at engine failure categories
// rather than trade/decision events.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey"`
	Service   string    `gorm:"size:50;index"`
	Level     string    `gorm:"size:20;index"`
	EventType string    `gorm:"size:50"`
	Message   string    `gorm:"type:text"`
	EventData string    `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"index"`
}

func (SystemLog) TableName() string { return "system_logs" }

// GormSink persists log records to the system_logs table. Failures to write
// are swallowed beyond a console line: logging must never become a source of
// cascading failure for the engine it observes.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink wraps db as a Sink.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Write(service string, level Level, message string, eventType string, data map[string]interface{}, at time.Time) error {
	eventJSON := ""
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			eventJSON = string(b)
		}
	}
	return s.db.Create(&SystemLog{
		Service:   service,
		Level:     string(level),
		EventType: eventType,
		Message:   message,
		EventData: eventJSON,
		CreatedAt: at,
	}).Error
}

// bus is the minimal subscription contract AuditLogger needs. It is
// satisfied by internal/bus.Bus; declared locally to avoid logger importing
// bus, which already imports logger for its own diagnostics.
type bus interface {
	Subscribe(topic string, handler func([]byte))
}

// AuditLogger listens on the engine's broadcast channel for occurrences
// worth a durable trail independent of the console — invariant violations,
// persistence degradation, and pattern-lifecycle milestones — and records
// them through a Logger so the status query can answer "what failure
// categories has this engine hit" without replaying the whole event log.
type AuditLogger struct {
	log    *Logger
	topics []string
}

// NewAuditLogger builds an AuditLogger that records through log whenever one
// of topics is published on the bus it is started with.
func NewAuditLogger(log *Logger, topics ...string) *AuditLogger {
	return &AuditLogger{log: log, topics: topics}
}

// Start subscribes to every configured topic. The underlying bus runs a
// dedicated delivery goroutine per subscription, so Start returns
// immediately.
func (al *AuditLogger) Start(b bus) {
	for _, topic := range al.topics {
		topic := topic
		b.Subscribe(topic, func(payload []byte) {
			al.handle(topic, payload)
		})
	}
}

func (al *AuditLogger) handle(topic string, payload []byte) {
	var data map[string]interface{}
	_ = json.Unmarshal(payload, &data)
	al.log.LogEvent(topic, data)
}
