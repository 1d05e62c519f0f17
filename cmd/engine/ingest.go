package main

import (
	"sync"

	"mallku/internal/events"
)

// ingestQueue buffers events.Event items arriving from POST /events between
// ticks. The periodic tick driver drains it wholesale on every fire; a
// request handler never calls Process directly, since process() is a
// scheduled, one-engine-wide operation rather than something a single HTTP
// request should trigger ad hoc.
type ingestQueue struct {
	mu    sync.Mutex
	items []*events.Event
}

func newIngestQueue() *ingestQueue {
	return &ingestQueue{}
}

func (q *ingestQueue) push(items []*events.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

func (q *ingestQueue) drain() []*events.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
