// Package storage declares the key-value store contract the dispatch
// subsystem depends on. The redisstore subpackage provides the Redis-backed
// implementation; tests substitute in-memory fakes.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or hash field does not exist
var ErrNotFound = errors.New("storage: key not found")

// Store is the narrow key-value surface used for envelope lists, daily
// counters, token caching and scheduled-task status records.
type Store interface {
	// ListAppend appends value to the list at key (creating it if absent)
	ListAppend(ctx context.Context, key, value string) error

	// ListRange returns every element of the list at key, oldest first.
	// A missing list yields a nil slice and no error.
	ListRange(ctx context.Context, key string) ([]string, error)

	// ListSet overwrites the element at index in the list at key
	ListSet(ctx context.Context, key string, index int64, value string) error

	// Get returns the string at key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set writes the string at key; ttl <= 0 means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// IncrBy atomically adds delta to the integer at key and returns the result
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// HIncrBy atomically adds delta to the integer at field in the hash at key
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// HGetAll returns every field of the hash at key; empty map when absent
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// ExpireAt sets an absolute expiry on key
	ExpireAt(ctx context.Context, key string, at time.Time) error
}
