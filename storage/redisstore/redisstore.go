// Package redisstore implements storage.Store on top of Redis
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/sendflow/storage"
)

// Config contains Redis connection configuration
type Config struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DefaultConfig returns a localhost connection configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:     "localhost:6379",
		Password: "",
		DB:       0,
	}
}

// Store implements storage.Store using a Redis client
type Store struct {
	client         *redis.Client
	externalClient bool
}

var _ storage.Store = (*Store)(nil)

// New creates a Store with an internally managed connection
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %v", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client.
// The caller stays responsible for the client lifecycle.
func NewWithClient(client *redis.Client) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &Store{client: client, externalClient: true}, nil
}

// Client exposes the underlying Redis client for collaborators that need it
// directly (the distributed lock service shares the connection).
func (s *Store) Client() *redis.Client {
	return s.client
}

// ListAppend appends value to the list at key
func (s *Store) ListAppend(ctx context.Context, key, value string) error {
	return s.client.RPush(ctx, key, value).Err()
}

// ListRange returns the full list at key, oldest first
func (s *Store) ListRange(ctx context.Context, key string) ([]string, error) {
	values, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list range %s: %v", key, err)
	}
	return values, nil
}

// ListSet overwrites the element at index in the list at key
func (s *Store) ListSet(ctx context.Context, key string, index int64, value string) error {
	return s.client.LSet(ctx, key, index, value).Err()
}

// Get returns the string at key, mapping redis.Nil to storage.ErrNotFound
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %v", key, err)
	}
	return value, nil
}

// Set writes the string at key with an optional TTL
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

// IncrBy atomically adds delta to the integer at key
func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

// HIncrBy atomically adds delta to field in the hash at key
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

// HGetAll returns every field of the hash at key
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// ExpireAt sets an absolute expiry on key
func (s *Store) ExpireAt(ctx context.Context, key string, at time.Time) error {
	return s.client.ExpireAt(ctx, key, at).Err()
}

// Close closes the connection when it is internally managed
func (s *Store) Close() error {
	if s.externalClient {
		return nil
	}
	return s.client.Close()
}
