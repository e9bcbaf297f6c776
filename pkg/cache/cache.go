// Package cache implements the portal's read-through cache: JSON payloads
// stored in a key-value store with a per-entity TTL, prefix invalidation
// after mutations, and a full clear on logout. Caching is strictly a
// best-effort optimization; storage failures degrade to "fetch from the
// network" and are never surfaced to callers.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/classloop/portal-go/pkg/kvstore"
	"github.com/rs/zerolog"
)

// namespace prefixes every cache entry in the store, keeping cache data
// separate from the session snapshot and device identifier.
const namespace = "cache:"

// Entry is the stored form of one cached payload.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt int64           `json:"storedAt"` // unix milliseconds
	TTLMs    int64           `json:"ttlMs"`
}

// expired reports whether the entry is past its TTL at time now.
func (e Entry) expired(now time.Time) bool {
	return now.UnixMilli()-e.StoredAt > e.TTLMs
}

// FetchFunc loads a payload from the backend on a cache miss.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Config holds configuration for the cache.
type Config struct {
	// MaxKeysPerPrefix bounds how many live entries a single entity prefix
	// may hold. Paginated and filtered listings otherwise grow the key space
	// without bound; past the limit the oldest entry for that entity is
	// evicted. Defaults to 32.
	MaxKeysPerPrefix int
}

// Cache is a TTL cache over a kvstore.Store. Instances are cheap; construct
// one per store rather than sharing process-wide state.
//
// There is deliberately no per-key fetch coalescing: two near-simultaneous
// misses for the same key may both hit the network and both store the result.
// Payloads are idempotent snapshots, so last write wins is safe.
type Cache struct {
	store   kvstore.Store
	maxKeys int
	logger  zerolog.Logger
}

// New creates a Cache over the given store.
func New(cfg *Config, store kvstore.Store, logger zerolog.Logger) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	maxKeys := 32
	if cfg != nil && cfg.MaxKeysPerPrefix > 0 {
		maxKeys = cfg.MaxKeysPerPrefix
	}
	return &Cache{
		store:   store,
		maxKeys: maxKeys,
		logger:  logger.With().Str("component", "Cache").Logger(),
	}, nil
}

// Lookup returns the cached payload for key if present and unexpired. An
// expired or unreadable entry is deleted before reporting absence. Lookup
// never fails: any storage error is treated as a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (json.RawMessage, bool) {
	raw, err := c.store.Get(ctx, namespace+key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed; treating as miss.")
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry; purging.")
		c.remove(ctx, key)
		return nil, false
	}

	if entry.expired(time.Now()) {
		c.logger.Debug().Str("key", key).Msg("Cache entry expired; purging.")
		c.remove(ctx, key)
		return nil, false
	}

	c.logger.Debug().Str("key", key).Msg("Cache hit.")
	return entry.Payload, true
}

// Store writes a payload under key with the given TTL, unconditionally
// overwriting any previous entry. Failures are logged and swallowed: a full
// or unwritable store must never fail the caller's request.
func (c *Cache) Store(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) {
	entry := Entry{
		Payload:  payload,
		StoredAt: time.Now().UnixMilli(),
		TTLMs:    ttl.Milliseconds(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache entry; skipping write.")
		return
	}
	if err := c.store.Set(ctx, namespace+key, string(raw)); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed; continuing without caching.")
	}
}

// GetOrFetch returns the cached payload for the entity and params, fetching
// and storing it on a miss. Fetch errors propagate to the caller and nothing
// is stored, so the cache never masks a backend failure or holds a poisoned
// entry.
func (c *Cache) GetOrFetch(ctx context.Context, entity Entity, params Params, fetch FetchFunc) (json.RawMessage, error) {
	key := Key(entity.Name, params)

	if payload, ok := c.Lookup(ctx, key); ok {
		return payload, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.Store(ctx, key, payload, entity.TTL)
	c.enforceBound(ctx, entity.Name)
	return payload, nil
}

// Invalidate deletes every cached entry whose key begins with prefix. Called
// after any create/update/delete mutation of the underlying entity; passing
// the entity name drops all of its pages and filter combinations at once.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	keys, err := c.store.Keys(ctx, namespace+prefix)
	if err != nil {
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("Cache invalidation scan failed.")
		return
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("Failed to delete cache entry during invalidation.")
		}
	}
	c.logger.Debug().Str("prefix", prefix).Int("removed", len(keys)).Msg("Cache invalidated.")
}

// Clear deletes the entire cache namespace. Called on logout so a different
// user on the same client never observes the previous session's data.
func (c *Cache) Clear(ctx context.Context) {
	c.Invalidate(ctx, "")
}

// remove is best-effort deletion used by read-time purging.
func (c *Cache) remove(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, namespace+key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to purge cache entry.")
	}
}

// enforceBound evicts the oldest entries for an entity prefix once the number
// of live keys exceeds the configured bound.
func (c *Cache) enforceBound(ctx context.Context, entityName string) {
	keys, err := c.store.Keys(ctx, namespace+entityName)
	if err != nil || len(keys) <= c.maxKeys {
		return
	}

	type aged struct {
		key      string
		storedAt int64
	}
	entries := make([]aged, 0, len(keys))
	for _, k := range keys {
		raw, err := c.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Unreadable entries go first.
			entries = append(entries, aged{key: k, storedAt: 0})
			continue
		}
		entries = append(entries, aged{key: k, storedAt: entry.StoredAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].storedAt < entries[j].storedAt })

	for i := 0; i < len(entries)-c.maxKeys; i++ {
		if err := c.store.Delete(ctx, entries[i].key); err != nil {
			c.logger.Warn().Err(err).Str("key", entries[i].key).Msg("Failed to evict cache entry.")
		}
	}
}
