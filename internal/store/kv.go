package store

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by operations that require an existing key.
var ErrKeyNotFound = errors.New("store: key not found")

// KV is the minimal key-value contract the verification flow needs from its
// expiring store: plain get/set with TTL, set-if-absent for dedup, atomic
// counters for the rate window, and delete. Backed by Redis in production and
// by an in-memory map in tests.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetTTL stores value under key. ttl == 0 means no expiry.
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent; reports whether it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Del removes the given keys; missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
}
