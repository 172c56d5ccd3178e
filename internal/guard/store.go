package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultStoreCapacity bounds the in-memory store.
const DefaultStoreCapacity = 100_000

var (
	// ErrStoreConflict is returned when an atomic update could not be applied
	// after repeated concurrent modification.
	ErrStoreConflict = errors.New("guard store: concurrent update conflict")
	// ErrInvalidCapacity is returned for a non-positive store capacity.
	ErrInvalidCapacity = errors.New("guard store: capacity must be positive")
)

// UpdateFunc receives the current value of a key and returns the new one.
// Returning a nil slice deletes the key.
type UpdateFunc func(cur []byte, found bool) ([]byte, error)

// Store holds guard records keyed by string. Implementations must run each
// Update atomically with respect to other operations on the same key.
type Store interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// Scan calls fn for every live key with the given prefix until fn returns false.
	Scan(ctx context.Context, prefix string, fn func(key string, val []byte) bool) error
	// Sweep drops expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

type memEntry struct {
	val     []byte
	expires time.Time
}

// MemoryStore is a bounded, TTL-aware LRU store for single-instance
// deployments. When full, the least recently used identity is evicted.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memEntry]
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most capacity keys.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	cache, err := lru.New[string, memEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

func (s *MemoryStore) live(key string) ([]byte, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		s.cache.Remove(key)
		return nil, false
	}
	return e.val, true
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.live(key)
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	if next == nil {
		s.cache.Remove(key)
		return nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	s.cache.Add(key, memEntry{val: next, expires: expires})
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.live(key)
	return val, ok, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Scan implements Store.
func (s *MemoryStore) Scan(_ context.Context, prefix string, fn func(key string, val []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, key := range s.cache.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		e, ok := s.cache.Peek(key)
		if !ok || (!e.expires.IsZero() && now.After(e.expires)) {
			continue
		}
		if !fn(key, e.val) {
			return nil
		}
	}
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, key := range s.cache.Keys() {
		e, ok := s.cache.Peek(key)
		if ok && !e.expires.IsZero() && now.After(e.expires) {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored keys, expired or not.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// updateRecord decodes the stored JSON record into a fresh T, lets mutate
// change it and writes it back. mutate reports whether the record should be
// persisted.
func updateRecord[T any](ctx context.Context, store Store, key string, ttl time.Duration, mutate func(rec *T, found bool) (bool, error)) error {
	return store.Update(ctx, key, ttl, func(cur []byte, found bool) ([]byte, error) {
		var rec T
		if found {
			if err := json.Unmarshal(cur, &rec); err != nil {
				// A corrupt record is replaced rather than wedging the identity.
				found = false
				rec = *new(T)
			}
		}
		save, err := mutate(&rec, found)
		if err != nil {
			return nil, err
		}
		if !save {
			return cur, nil
		}
		return json.Marshal(rec)
	})
}

func getRecord[T any](ctx context.Context, store Store, key string) (T, bool, error) {
	var rec T
	raw, found, err := store.Get(ctx, key)
	if err != nil || !found {
		return rec, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, true, nil
}
