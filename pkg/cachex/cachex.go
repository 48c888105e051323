// Package cachex defines the shared cache service port. Sessions, CSRF
// validation results and rate-limit windows all coordinate through it so
// state survives process restarts and is correct across server instances.
package cachex

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key does not exist.
var ErrMiss = errors.New("cachex: key not found")

// ErrUnavailable is returned when the cache service cannot be reached.
// Callers decide their own degraded-mode behavior (fail open, fall back
// to the durable store, or validate directly).
var ErrUnavailable = errors.New("cachex: service unavailable")

// Cache is the key/value + sorted-set surface consumed by the IAM module.
type Cache interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key with the given TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes one or more keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Increment atomically increments the counter at key and applies ttl
	// when the counter is created. Returns the new value.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SortedAdd adds a member with the given score to the sorted set at key.
	SortedAdd(ctx context.Context, key string, score float64, member string) error

	// SortedRemoveRangeByScore removes members with score in [min, max].
	SortedRemoveRangeByScore(ctx context.Context, key string, min, max float64) error

	// SortedCount returns the cardinality of the sorted set at key.
	SortedCount(ctx context.Context, key string) (int64, error)

	// Expire refreshes the TTL of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
