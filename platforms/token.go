package platforms

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/storage"
)

// TokenCache shares provider access tokens across workers so every task does
// not re-authenticate. Tokens live in the Store under per-account keys and
// expire with the TTL the provider granted.
type TokenCache struct {
	store storage.Store
	keys  *idgen.Generator
}

// NewTokenCache creates a token cache over the shared store
func NewTokenCache(store storage.Store, keys *idgen.Generator) *TokenCache {
	return &TokenCache{store: store, keys: keys}
}

// Get returns the cached token for the account, or empty when absent
func (c *TokenCache) Get(ctx context.Context, provider string, account int64) (string, error) {
	token, err := c.store.Get(ctx, c.keys.TokenKey(provider, account))
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// Put caches the token for ttl
func (c *TokenCache) Put(ctx context.Context, provider string, account int64, token string, ttl time.Duration) error {
	return c.store.Set(ctx, c.keys.TokenKey(provider, account), token, ttl)
}
