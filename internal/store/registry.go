package store

import (
	"sync"

	"github.com/google/uuid"
)

// SecurityRegistry maps sensitive field names to stable, opaque UUIDs and
// back, so a secured collection's documents never carry plaintext field
// names at rest. The mapping is deterministic (a UUIDv5, i.e. SHA-1, of
// collection+field) so independent processes and restarts resolve the same
// name to the same opaque identifier without a shared sequence counter.
// Grounded on internal/glassbox/hasher.go's canonical-string-then-hash idiom,
// repurposed from span integrity hashing to name obfuscation.
type SecurityRegistry struct {
	mu       sync.RWMutex
	toOpaque map[string]string
	toPlain  map[string]string
}

// NewSecurityRegistry constructs an empty registry; ResolveField populates
// it lazily as fields are first seen.
func NewSecurityRegistry() *SecurityRegistry {
	return &SecurityRegistry{
		toOpaque: make(map[string]string),
		toPlain:  make(map[string]string),
	}
}

// ResolveField returns the opaque at-rest name for (collection, field),
// assigning one deterministically on first use.
func (r *SecurityRegistry) ResolveField(collection, field string) string {
	cacheKey := collection + "\x00" + field

	r.mu.RLock()
	if opaque, ok := r.toOpaque[cacheKey]; ok {
		r.mu.RUnlock()
		return opaque
	}
	r.mu.RUnlock()

	opaque := deterministicFieldUUID(collection, field).String()

	r.mu.Lock()
	r.toOpaque[cacheKey] = opaque
	r.toPlain[collection+"\x00"+opaque] = field
	r.mu.Unlock()

	return opaque
}

// PlainField reverses ResolveField: given a collection and an opaque at-rest
// name, it returns the caller-facing field name, or ok=false if the registry
// has never seen that pair.
func (r *SecurityRegistry) PlainField(collection, opaque string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	field, ok := r.toPlain[collection+"\x00"+opaque]
	return field, ok
}

// ObfuscateDocument rewrites every key of doc through ResolveField, returning
// a new document safe to hand to a secured collection's storage layer.
func (r *SecurityRegistry) ObfuscateDocument(collection string, doc Document) Document {
	out := make(Document, len(doc))
	for field, val := range doc {
		out[r.ResolveField(collection, field)] = val
	}
	return out
}

// ClarifyDocument reverses ObfuscateDocument for fields this registry has
// already resolved; unknown opaque keys pass through unchanged rather than
// being silently dropped, since the caller may still need them for a
// diagnostic dump.
func (r *SecurityRegistry) ClarifyDocument(collection string, doc Document) Document {
	out := make(Document, len(doc))
	for opaque, val := range doc {
		if field, ok := r.PlainField(collection, opaque); ok {
			out[field] = val
			continue
		}
		out[opaque] = val
	}
	return out
}

// deterministicFieldUUID derives a stable UUID from collection+field using
// UUIDv5 (SHA-1 based per RFC 4122) over the DNS namespace, so the same
// input always resolves to the same opaque name across process restarts.
func deterministicFieldUUID(collection, field string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(collection+":"+field))
}
