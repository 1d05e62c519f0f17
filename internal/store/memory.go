package store

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// memoryStore is the MALLKU_SKIP_DATABASE=true implementation: every
// collection lives in a process-local map, still routed through the same
// SecurityRegistry obfuscation as the gorm-backed store, so callers observe
// identical semantics regardless of which Store they were handed. Grounded
// on internal/anchor's memoryStore shape, generalized from one fixed
// document type to named collections of arbitrary documents.
type memoryStore struct {
	mu          sync.RWMutex
	policies    map[string]Policy
	collections map[string]map[string]Document
	registry    *SecurityRegistry
}

// NewMemoryStore constructs a Store that never leaves the process.
func NewMemoryStore() Store {
	return &memoryStore{
		policies:    make(map[string]Policy),
		collections: make(map[string]map[string]Document),
		registry:    NewSecurityRegistry(),
	}
}

func (s *memoryStore) CreateCollection(ctx context.Context, name string, policy Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[name] = policy
	if s.collections[name] == nil {
		s.collections[name] = make(map[string]Document)
	}
	return nil
}

func (s *memoryStore) InsertSecured(ctx context.Context, collection string, doc Document) (string, error) {
	key, ok := doc["_key"].(string)
	if !ok || key == "" {
		key = uuid.New().String()
		doc = cloneDoc(doc)
		doc["_key"] = key
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.securedCopy(collection, doc)
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][key] = stored
	return key, nil
}

func (s *memoryStore) Upsert(ctx context.Context, collection string, doc Document, keyField string) (string, error) {
	keyVal, ok := doc[keyField]
	if !ok {
		return "", errNotFound(collection, keyField)
	}
	key := toKeyString(keyVal)

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.securedCopy(collection, doc)
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}
	s.collections[collection][key] = stored
	return key, nil
}

func (s *memoryStore) Get(ctx context.Context, collection string, key string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, ok := s.collections[collection]
	if !ok {
		return nil, errNotFound(collection, key)
	}
	doc, ok := docs[key]
	if !ok {
		return nil, errNotFound(collection, key)
	}
	return s.clarifiedCopy(collection, doc), nil
}

// Query is a minimal in-memory AQL-like filter: it ignores q.Filter/q.Binds
// (exact predicate matching is the gorm-backed store's job, grounded on its
// parameterized Where clauses) and instead returns every document in the
// collection, ordered by q.OrderBy's field name if present, bounded by
// q.Limit. Good enough for MALLKU_SKIP_DATABASE=true and tests, where
// collections are small and callers filter results themselves if needed.
func (s *memoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	s.mu.RLock()
	docs, ok := s.collections[q.Collection]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, s.clarifiedCopy(q.Collection, d))
	}
	s.mu.RUnlock()

	if q.OrderBy != "" {
		sort.Slice(out, func(i, j int) bool {
			return toKeyString(out[i][q.OrderBy]) < toKeyString(out[j][q.OrderBy])
		})
	}

	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memoryStore) Count(ctx context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collections[collection])), nil
}

func (s *memoryStore) securedCopy(collection string, doc Document) Document {
	policy := s.policies[collection]
	if !policy.RequiresSecurity {
		return cloneDoc(doc)
	}
	return s.registry.ObfuscateDocument(collection, doc)
}

func (s *memoryStore) clarifiedCopy(collection string, doc Document) Document {
	policy := s.policies[collection]
	if !policy.RequiresSecurity {
		return cloneDoc(doc)
	}
	return s.registry.ClarifyDocument(collection, doc)
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func toKeyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case uuid.UUID:
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
