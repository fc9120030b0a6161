// Package cache stores serialized responses with a TTL. Entries go to a
// distributed Redis store while it is reachable and to an in-process store
// while it is not.
package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RemoteStore is a Store reached over the network. Clear and Count only see
// the store's own keys.
type RemoteStore interface {
	Store
	Ping(ctx context.Context) error
	Clear(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
}
