// Package events holds the atomic Event type and the sliding-window
// buffering that groups events for detection (spec module A).
package events

import (
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
)

// Type is the closed set of event categories a stream can emit.
type Type string

const (
	TypeActivity      Type = "activity"
	TypeStorage       Type = "storage"
	TypeEnvironmental Type = "environmental"
	TypeCommunication Type = "communication"
	TypeLocation      Type = "location"
)

func validType(t Type) bool {
	switch t {
	case TypeActivity, TypeStorage, TypeEnvironmental, TypeCommunication, TypeLocation:
		return true
	}
	return false
}

// Event is an atomic observation ingested from an activity source.
type Event struct {
	EventID          uuid.UUID
	Timestamp        time.Time
	EventType        Type
	StreamID         string
	Content          map[string]interface{}
	Context          map[string]interface{}
	CorrelationTags  []string
}

// clockTolerance bounds how far into the future an event's timestamp may
// sit relative to wall clock, per the data model.
const clockTolerance = 5 * time.Second

// Validate enforces the Event invariants: non-empty stream id, timestamp
// not unreasonably in the future, and non-nil content/context maps.
func (e *Event) Validate(now time.Time) error {
	if e.StreamID == "" {
		return merrorkind.Invariant("events", "event stream_id must be non-empty", nil)
	}
	if !validType(e.EventType) {
		return merrorkind.Invariant("events", "event_type not in closed set", nil)
	}
	if e.Timestamp.After(now.Add(clockTolerance)) {
		return merrorkind.Invariant("events", "event timestamp is too far in the future", nil)
	}
	if e.Content == nil {
		e.Content = map[string]interface{}{}
	}
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	return nil
}

// NewEvent constructs an Event with a freshly allocated identifier.
func NewEvent(eventType Type, streamID string, timestamp time.Time, content, context map[string]interface{}, tags ...string) *Event {
	return &Event{
		EventID:         uuid.New(),
		Timestamp:       timestamp,
		EventType:       eventType,
		StreamID:        streamID,
		Content:         content,
		Context:         context,
		CorrelationTags: tags,
	}
}
