// Package cache provides the shared key/value cache that persists price bars
// and indicator values across backtest requests. All operations degrade
// silently: a broken cache backend behaves like an empty cache and never
// fails the caller, because every consumer has a recompute path.
package cache

import (
	"context"
	"time"
)

// Item is one entry for a batch write. TTL of zero means no expiry; entries
// without expiry live until the next scheduled purge.
type Item struct {
	Key   string
	Value string
	TTL   time.Duration
}

// Stats describes the cache backend state.
type Stats struct {
	Entries   int64 `json:"entries"`
	SizeBytes int64 `json:"sizeBytes"`
	Available bool  `json:"available"`
}

// Store is the cache contract used by the fetch pipeline.
type Store interface {
	// Get returns the value for key, or ok=false on miss, expiry or outage.
	Get(ctx context.Context, key string) (string, bool)
	// MGet returns the present, unexpired subset of keys.
	MGet(ctx context.Context, keys []string) map[string]string
	// Set writes one entry. Returns false when the write was dropped.
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	// MSet writes a batch of entries. Returns false when the batch was dropped.
	MSet(ctx context.Context, items []Item) bool
	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) bool
	// FlushAll removes every entry. Called by the scheduled purge.
	FlushAll(ctx context.Context) error
	// Stats reports entry count and backend size.
	Stats(ctx context.Context) Stats
	// Available reports whether the backend currently accepts operations.
	Available() bool
}
