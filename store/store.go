// Package store defines the key-value store abstraction used by conjcache.
//
// A Store must be safe for concurrent use. It is expected to be shared by many
// processes (e.g. a Redis server), so every operation is a network round-trip
// from conjcache's point of view.
//
// Important: the keyspaces "schemes:" and "conj:" are owned by conjcache.
// External code MUST NOT write under these prefixes.
package store

import (
	"context"
	"time"
)

// Store is the minimal command set the invalidation protocol needs.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically increments an integer key (missing => 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// SUnion returns the union of the given sets. Empty keys => empty result.
	SUnion(ctx context.Context, keys ...string) ([]string, error)

	// Del removes keys and reports how many existed. Empty keys => no-op.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Keys lists keys matching a Redis-style glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// FlushAll removes every key in the store.
	FlushAll(ctx context.Context) error

	// Exec runs the batch atomically (MULTI/EXEC) without watching anything.
	Exec(ctx context.Context, b *Batch) error

	// RunOptimistic watches the given keys and runs the batch atomically only
	// if none of them changed in between. A conflict is reported as
	// committed=false with a nil error; the batch may be run again as is.
	RunOptimistic(ctx context.Context, watch []string, b *Batch) (committed bool, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}
