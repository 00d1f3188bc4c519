// Package kv abstracts the shared key-value store used by every agentmesh
// component: the gateway's route table, the orchestrator's job records and
// idempotency locks, and the rate limiter's per-client counters. A single
// Redis deployment backs all three in production; an in-memory
// implementation backs tests and single-process deployments.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: key not found")

// Store abstracts a key-value store with the primitives the mesh needs:
// plain get/set/delete, hash operations for the route table, and an atomic
// set-if-absent for idempotency locking. All operations are safe for
// concurrent use.
type Store interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores a value only if key does not already exist, with the
	// given TTL. Returns true if the key was set by this call.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals
	// expected. Returns true if the key was deleted by this call. Used to
	// release a lock only if the caller still holds it.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Incr increments the integer stored at key by 1, creating it at 1 if
	// absent, and sets its TTL only on creation (fixed-window semantics).
	// Returns the value after the increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes a key. It is not an error to delete a key that does
	// not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// HSet sets a field within a hash key.
	HSet(ctx context.Context, key, field string, value []byte) error

	// HGet retrieves a field within a hash key.
	// Returns ErrNotFound if the hash or field does not exist.
	HGet(ctx context.Context, key, field string) ([]byte, error)

	// HDel removes a field within a hash key.
	HDel(ctx context.Context, key, field string) error

	// HGetAll retrieves every field/value pair within a hash key.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the implementation.
	Close() error
}
