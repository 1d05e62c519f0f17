package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mallku/internal/merrorkind"
	"mallku/internal/retry"
)

// securedDocumentRow is the single gorm table backing every collection: a
// generic (collection, key) -> obfuscated JSON blob row, matching the
// teacher's one-model-per-repository shape but folded into one table since
// the specification's collections share an identical document contract
// (insert_secured/upsert/get/query/count) rather than distinct schemas.
type securedDocumentRow struct {
	Collection string `gorm:"primaryKey;column:collection"`
	Key        string `gorm:"primaryKey;column:doc_key"`
	Body       []byte `gorm:"column:body"`
	StoredAt   time.Time
}

func (securedDocumentRow) TableName() string { return "secured_documents" }

// gormStore is the durable Secured Collection Store implementation.
// Grounded on internal/repositories/settings_repository.go and
// internal/repositories/memory_repository.go's thin gorm.DB wrapper idiom,
// generalized to named collections. A CircuitBreaker (grounded on
// internal/retry/circuit.go, whose own doc comment names this exact
// boundary) and retry.Do (exponential backoff per spec §5/§7) guard every
// call; once the breaker opens, every operation fails fast with
// merrorkind.PersistenceUnavailable instead of blocking the caller on a dead
// database.
type gormStore struct {
	db       *gorm.DB
	registry *SecurityRegistry
	breaker  *retry.CircuitBreaker
	policies map[string]Policy
}

// NewGormStore constructs a durable Store over db. AutoMigrate is the
// caller's responsibility (matching the teacher's migrations/ convention) —
// this constructor assumes the secured_documents table already exists.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{
		db:       db,
		registry: NewSecurityRegistry(),
		breaker:  retry.NewCircuitBreaker(retry.CircuitBreakerConfig{Name: "secured_collection_store"}),
		policies: make(map[string]Policy),
	}
}

func (s *gormStore) guard(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !s.breaker.Allow() {
		return merrorkind.PersistenceUnavailable("store", op+": circuit open", nil)
	}
	err := retry.Do(ctx, retry.DefaultConfig(), "store", op, fn)
	s.breaker.Record(err)
	if err != nil && merrorkind.IsKind(err, merrorkind.KindTransient) {
		return merrorkind.PersistenceUnavailable("store", op+": store unreachable after retries", err)
	}
	return err
}

func (s *gormStore) CreateCollection(ctx context.Context, name string, policy Policy) error {
	s.policies[name] = policy
	return nil
}

func (s *gormStore) InsertSecured(ctx context.Context, collection string, doc Document) (string, error) {
	key, ok := doc["_key"].(string)
	if !ok || key == "" {
		key = uuid.New().String()
		doc = cloneDoc(doc)
		doc["_key"] = key
	}

	body, err := s.encode(collection, doc)
	if err != nil {
		return "", merrorkind.Validation("store", "insert_secured: encode failed", err)
	}

	err = s.guard(ctx, "insert_secured", func(ctx context.Context) error {
		row := securedDocumentRow{Collection: collection, Key: key, Body: body, StoredAt: offsetTimestamp(time.Now())}
		return s.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *gormStore) Upsert(ctx context.Context, collection string, doc Document, keyField string) (string, error) {
	keyVal, ok := doc[keyField]
	if !ok {
		return "", merrorkind.Validation("store", "upsert: missing key field "+keyField, nil)
	}
	key := toKeyString(keyVal)

	body, err := s.encode(collection, doc)
	if err != nil {
		return "", merrorkind.Validation("store", "upsert: encode failed", err)
	}

	err = s.guard(ctx, "upsert", func(ctx context.Context) error {
		row := securedDocumentRow{Collection: collection, Key: key, Body: body, StoredAt: offsetTimestamp(time.Now())}
		return s.db.WithContext(ctx).Save(&row).Error
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *gormStore) Get(ctx context.Context, collection string, key string) (Document, error) {
	var row securedDocumentRow
	notFound := false
	err := s.guard(ctx, "get", func(ctx context.Context) error {
		err := s.db.WithContext(ctx).
			Where("collection = ? AND doc_key = ?", collection, key).
			First(&row).Error
		if err == gorm.ErrRecordNotFound {
			notFound = true
			return nil
		}
		return err
	})
	if notFound {
		return nil, errNotFound(collection, key)
	}
	if err != nil {
		if merrorkind.IsKind(err, merrorkind.KindPersistenceUnavailable) {
			return nil, err
		}
		return nil, errNotFound(collection, key)
	}
	return s.decode(collection, row.Body)
}

func (s *gormStore) Query(ctx context.Context, q Query) ([]Document, error) {
	var rows []securedDocumentRow
	err := s.guard(ctx, "query", func(ctx context.Context) error {
		tx := s.db.WithContext(ctx).Where("collection = ?", q.Collection)
		if q.Filter != "" {
			tx = tx.Where(q.Filter, bindsToArgs(q.Binds)...)
		}
		if q.OrderBy != "" {
			tx = tx.Order(q.OrderBy)
		}
		if q.Limit > 0 {
			tx = tx.Limit(q.Limit)
		}
		return tx.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		doc, err := s.decode(q.Collection, r.Body)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *gormStore) Count(ctx context.Context, collection string) (int64, error) {
	var n int64
	err := s.guard(ctx, "count", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&securedDocumentRow{}).
			Where("collection = ?", collection).Count(&n).Error
	})
	return n, err
}

func (s *gormStore) encode(collection string, doc Document) ([]byte, error) {
	policy := s.policies[collection]
	stored := doc
	if policy.RequiresSecurity {
		stored = s.registry.ObfuscateDocument(collection, doc)
	}
	return json.Marshal(stored)
}

func (s *gormStore) decode(collection string, body []byte) (Document, error) {
	var stored Document
	if err := json.Unmarshal(body, &stored); err != nil {
		return nil, merrorkind.Invariant("store", "decode: malformed document body", err)
	}
	policy := s.policies[collection]
	if policy.RequiresSecurity {
		return s.registry.ClarifyDocument(collection, stored), nil
	}
	return stored, nil
}

// bindsToArgs orders a named-bind map into gorm's positional ? arguments.
// Callers are expected to name binds b0, b1, ... matching Filter's ? order,
// mirroring the teacher repositories' convention of positional `Where(...)`
// calls rather than AQL's native @name binds.
func bindsToArgs(binds map[string]interface{}) []interface{} {
	if len(binds) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(binds))
	for i := 0; ; i++ {
		key := "b" + strconv.Itoa(i)
		v, ok := binds[key]
		if !ok {
			break
		}
		args = append(args, v)
	}
	return args
}
