package events

import (
	"sync"

	"github.com/google/uuid"
)

// RingBuffer is a fixed-capacity FIFO event store. Once full, inserting a
// new event evicts the oldest.
type RingBuffer struct {
	mu       sync.RWMutex
	capacity int
	items    []*Event
	index    map[uuid.UUID]struct{}
}

// NewRingBuffer constructs a RingBuffer of the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		capacity: capacity,
		items:    make([]*Event, 0, capacity),
		index:    make(map[uuid.UUID]struct{}, capacity),
	}
}

// Append inserts e, evicting the oldest entry if the buffer is at capacity.
func (b *RingBuffer) Append(e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		oldest := b.items[0]
		delete(b.index, oldest.EventID)
		b.items = b.items[1:]
	}
	b.items = append(b.items, e)
	b.index[e.EventID] = struct{}{}
}

// Len reports the current occupancy.
func (b *RingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Contains reports whether id is still resident in the buffer.
func (b *RingBuffer) Contains(id uuid.UUID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[id]
	return ok
}

// Snapshot returns a copy of the buffer's current contents, oldest first.
func (b *RingBuffer) Snapshot() []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Event, len(b.items))
	copy(out, b.items)
	return out
}
