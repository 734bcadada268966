package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Record is the cached outcome of the first request seen for a key.
type Record struct {
	Fingerprint string              `json:"fingerprint"`
	Status      int                 `json:"status"`
	Header      map[string][]string `json:"header,omitempty"`
	Body        []byte              `json:"body"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ErrNotFound is returned when no record exists for a key.
var ErrNotFound = errors.New("idempotency record not found")

// Store abstracts the record cache so the guard works against an in-process
// map or a shared external cache interchangeably.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error
}

// RedisStore keeps records in Redis, sharing them across replicas.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "idem:"}
}

// Get retrieves a record by key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	rec := &Record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return rec, nil
}

// Set stores a record with a TTL.
func (s *RedisStore) Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

// MemoryStore is the in-process fallback. Expired entries are evicted lazily
// on the next access to the same key; maxKeys bounds total growth by evicting
// the oldest records first.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memoryEntry
	maxKeys int
}

type memoryEntry struct {
	rec       *Record
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxKeys records.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryStore{items: make(map[string]memoryEntry), maxKeys: maxKeys}
}

// Get retrieves a record, evicting it when expired.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.items, key)
		return nil, ErrNotFound
	}
	return entry.rec, nil
}

// Set stores a record with a TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.maxKeys {
		s.evictOldest()
	}
	s.items[key] = memoryEntry{rec: rec, expiresAt: time.Now().Add(ttl)}
	return nil
}

// SweepExpired removes all expired records and reports how many were evicted.
// Called by the maintenance worker.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	removed := 0
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) evictOldest() {
	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(s.items))
	for key, entry := range s.items {
		entries = append(entries, aged{key: key, at: entry.rec.CreatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	// Drop the oldest tenth to avoid evicting one key per insert under load.
	drop := len(entries)/10 + 1
	for i := 0; i < drop && i < len(entries); i++ {
		delete(s.items, entries[i].key)
	}
}
