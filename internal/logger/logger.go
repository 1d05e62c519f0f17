// Package logger is the centralized leveled logger used across the engine,
// mirroring the teacher's console-first, structured-keyval Logger.
package logger

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Level is the severity of a log message.
type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
)

// Sink receives every log record the Logger emits, in addition to the
// console line it always prints. GormSink (a `system_logs` table) and
// observability.LogSink implement it; tests can supply an in-memory one.
type Sink interface {
	Write(service string, level Level, message string, eventType string, data map[string]interface{}, at time.Time) error
}

// Logger is the centralized logger for the engine.
type Logger struct {
	service     string
	sink        Sink
	enableDebug bool
}

// New creates a Logger for service, optionally persisting records to sink.
func New(service string, sink Sink) *Logger {
	return &Logger{
		service:     service,
		sink:        sink,
		enableDebug: os.Getenv("LOG_LEVEL") == "DEBUG",
	}
}

func (l *Logger) Debug(message string, keyvals ...interface{}) {
	if !l.enableDebug {
		return
	}
	l.log(DEBUG, message, keyvals...)
}

func (l *Logger) Info(message string, keyvals ...interface{}) {
	l.log(INFO, message, keyvals...)
}

func (l *Logger) Warn(message string, keyvals ...interface{}) {
	l.log(WARN, message, keyvals...)
}

func (l *Logger) Error(message string, err error, keyvals ...interface{}) {
	if err != nil {
		keyvals = append(keyvals, "error", err.Error())
	}
	l.log(ERROR, message, keyvals...)
}

func (l *Logger) log(level Level, message string, keyvals ...interface{}) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	consoleMsg := fmt.Sprintf("[%s][%s][%s] %s", timestamp, l.service, level, message)
	if len(keyvals) > 0 {
		consoleMsg = fmt.Sprintf("%s %s", consoleMsg, formatKeyVals(keyvals...))
	}
	log.Println(consoleMsg)

	if l.sink != nil && level != DEBUG {
		data := keyvalsToMap(keyvals...)
		go func() {
			if err := l.sink.Write(l.service, level, message, "", data, time.Now()); err != nil {
				log.Printf("[LOGGER][ERROR] sink write failed: %v", err)
			}
		}()
	}
}

// LogEvent records a structured, named event (used for audit-worthy
// occurrences: invariant violations, configuration fallbacks, persistence
// degradation).
func (l *Logger) LogEvent(eventType string, data map[string]interface{}) {
	l.Info(fmt.Sprintf("event: %s", eventType), mapToKeyVals(data)...)
	if l.sink != nil {
		go func() {
			if err := l.sink.Write(l.service, INFO, fmt.Sprintf("event: %s", eventType), eventType, data, time.Now()); err != nil {
				log.Printf("[LOGGER][ERROR] sink event write failed: %v", err)
			}
		}()
	}
}

func formatKeyVals(keyvals ...interface{}) string {
	result := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		if i > 0 {
			result += " "
		}
		result += fmt.Sprintf("%v=%v", keyvals[i], keyvals[i+1])
	}
	return result
}

func keyvalsToMap(keyvals ...interface{}) map[string]interface{} {
	if len(keyvals) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		m[fmt.Sprintf("%v", keyvals[i])] = keyvals[i+1]
	}
	return m
}

func mapToKeyVals(data map[string]interface{}) []interface{} {
	result := make([]interface{}, 0, len(data)*2)
	for k, v := range data {
		result = append(result, k, v)
	}
	return result
}
