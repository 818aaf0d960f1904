package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Backend.Get when no live value exists for a key.
var ErrNotFound = errors.New("cache: key not found")

// Backend is the key/value storage a TieredStore writes through to.
// Implementations must enforce the supplied TTL on their own (expired keys
// are never returned by Get or List) and provide single-key atomicity.
// Multi-key transactions are not assumed.
type Backend interface {
	// Get returns the stored value, or ErrNotFound when the key is absent
	// or its TTL has lapsed.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key with the given TTL. A zero TTL means the
	// value never expires on the backend side (the store's own expiry
	// checks still apply).
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live keys beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
