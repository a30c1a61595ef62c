// Package kv is the short-lived key/value storage behind the built-in
// backend: OAuth handshake state, freshly exchanged credentials and cached
// load results.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// Store is a key/value store with per-key expiry. A zero TTL means the key
// does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Take returns the value and deletes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
