package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value      string
	expiration time.Time // zero means no backend-side expiry
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// MemoryBackend is an in-process Backend implementation with TTL support.
// Capacity limits are not enforced here; the TieredStore owns eviction.
type MemoryBackend struct {
	items  map[string]memoryItem
	mu     sync.RWMutex
	stopCh chan struct{}
}

// NewMemoryBackend creates an in-memory backend and starts its expiry sweep.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{
		items:  make(map[string]memoryItem),
		stopCh: make(chan struct{}),
	}

	go b.cleanup()

	return b
}

// Get retrieves a value, honoring its TTL.
func (b *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.RLock()
	item, exists := b.items[key]
	b.mu.RUnlock()

	if !exists {
		return "", ErrNotFound
	}

	if item.expired(time.Now()) {
		b.mu.Lock()
		delete(b.items, key)
		b.mu.Unlock()
		return "", ErrNotFound
	}

	return item.value, nil
}

// Put stores a value with the given TTL.
func (b *MemoryBackend) Put(_ context.Context, key, value string, ttl time.Duration) error {
	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}

	b.mu.Lock()
	b.items[key] = memoryItem{value: value, expiration: expiration}
	b.mu.Unlock()

	return nil
}

// Delete removes a key. Absent keys are not an error.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
	return nil
}

// List returns all live keys beginning with prefix.
func (b *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	now := time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0)
	for key, item := range b.items {
		if !strings.HasPrefix(key, prefix) || item.expired(now) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Close stops the expiry sweep.
func (b *MemoryBackend) Close() error {
	close(b.stopCh)
	return nil
}

// cleanup periodically removes expired items.
func (b *MemoryBackend) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.cleanupExpired()
		case <-b.stopCh:
			return
		}
	}
}

func (b *MemoryBackend) cleanupExpired() {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for key, item := range b.items {
		if item.expired(now) {
			delete(b.items, key)
		}
	}
}
