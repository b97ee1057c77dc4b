// Package localstore holds session-scoped key/value state for anonymous shoppers.
package localstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnavailable marks failures of the backing key/value service.
var ErrUnavailable = errors.New("localstore: unavailable")

// Store is the session-scoped key/value contract. Values are opaque strings, normally JSON.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Keyspace derives the keys that hold one session's cart, wishlist and cached cart count.
type Keyspace struct {
	Prefix string
}

// CartKey returns the key of the anonymous cart for session.
func (k Keyspace) CartKey(session string) string {
	return k.join("cart", session)
}

// WishlistKey returns the key of the anonymous wishlist for session.
func (k Keyspace) WishlistKey(session string) string {
	return k.join("wishlist", session)
}

// CartCountKey returns the key caching the cart item count for session.
func (k Keyspace) CartCountKey(session string) string {
	return k.join("cart-count", session)
}

// IdempotencyKey returns the key holding a replayable response for digest.
func (k Keyspace) IdempotencyKey(digest string) string {
	return k.join("idem", digest)
}

func (k Keyspace) join(kind, session string) string {
	prefix := strings.TrimSpace(k.Prefix)
	if prefix == "" {
		prefix = "irya"
	}
	return prefix + ":" + kind + ":" + strings.TrimSpace(session)
}

// Memory is an in-process Store. It never fails and never expires keys.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value stored at key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

// Set stores value at key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Remove deletes key. Removing a missing key succeeds.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

var _ Store = (*Memory)(nil)
