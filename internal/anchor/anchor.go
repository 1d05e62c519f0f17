// Package anchor defines the Memory Anchor egress contract: the engine's
// one-way call into an external anchor service whenever a correlation is
// accepted (spec §6, Memory Anchor contract).
package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cursor is one stream's position within an anchor, keyed by
// "event_type:stream_id" by the caller.
type Cursor struct {
	Timestamp time.Time
	Content   map[string]interface{}
}

// Anchor is the document the engine asks the external service to persist.
type Anchor struct {
	AnchorID      uuid.UUID
	Timestamp     time.Time
	Cursors       map[string]Cursor
	PredecessorID *uuid.UUID
	Metadata      map[string]interface{}
}

// Store is the narrow contract the Correlation Engine depends on. A real
// implementation talks to the external anchor HTTP/WebSocket surface; the
// in-memory implementation below supports MALLKU_SKIP_DATABASE=true and
// tests.
type Store interface {
	Create(ctx context.Context, a *Anchor) (uuid.UUID, error)
}

// memoryStore records anchors in-process without ever leaving the engine.
type memoryStore struct {
	created []*Anchor
}

// NewMemoryStore constructs a Store that never leaves the process, used
// when persistence is disabled or unavailable.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (m *memoryStore) Create(ctx context.Context, a *Anchor) (uuid.UUID, error) {
	m.created = append(m.created, a)
	return a.AnchorID, nil
}
