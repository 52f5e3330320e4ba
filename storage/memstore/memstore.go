// Package memstore implements storage.Store in process memory. It backs
// tests and single-process deployments that do not need durability.
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kart-io/sendflow/storage"
)

// Store keeps all values in maps guarded by one mutex. Expiries are checked
// lazily on read.
type Store struct {
	mu       sync.Mutex
	strings  map[string]string
	lists    map[string][]string
	hashes   map[string]map[string]string
	expiries map[string]time.Time
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		strings:  make(map[string]string),
		lists:    make(map[string][]string),
		hashes:   make(map[string]map[string]string),
		expiries: make(map[string]time.Time),
		now:      time.Now,
	}
}

// NewWithClock creates a store with a fixed clock, for tests
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// ListAppend appends value to the list at key
func (s *Store) ListAppend(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], value)
	return nil
}

// ListRange returns a copy of the list at key, oldest first
func (s *Store) ListRange(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// ListSet overwrites the element at index in the list at key
func (s *Store) ListSet(_ context.Context, key string, index int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[key]
	if !ok || index < 0 || index >= int64(len(list)) {
		return storage.ErrNotFound
	}
	list[index] = value
	return nil
}

// Get returns the string at key
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", storage.ErrNotFound
	}
	value, ok := s.strings[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

// Set writes the string at key with an optional TTL
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expiries[key] = s.now().Add(ttl)
	} else {
		delete(s.expiries, key)
	}
	return nil
}

// IncrBy atomically adds delta to the integer at key
func (s *Store) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		delete(s.strings, key)
		delete(s.expiries, key)
	}
	current, _ := strconv.ParseInt(s.strings[key], 10, 64)
	current += delta
	s.strings[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// HIncrBy atomically adds delta to field in the hash at key
func (s *Store) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string)
		s.hashes[key] = hash
	}
	current, _ := strconv.ParseInt(hash[field], 10, 64)
	current += delta
	hash[field] = strconv.FormatInt(current, 10)
	return current, nil
}

// HGetAll returns a copy of the hash at key
func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		out[field] = value
	}
	return out, nil
}

// ExpireAt sets an absolute expiry on key
func (s *Store) ExpireAt(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiries[key] = at
	return nil
}

// ExpiryOf reports the expiry set on key, for tests
func (s *Store) ExpiryOf(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.expiries[key]
	return at, ok
}

func (s *Store) expired(key string) bool {
	at, ok := s.expiries[key]
	return ok && !s.now().Before(at)
}
