// Package cache implements the tiered response cache of the offline kit.
//
// Values are serialized and placed by size: small payloads go to the
// small-object tier (with a "cache/obj/" key prefix), large ones to the
// file-backed tier. Per-key Metadata lives in an in-memory index that is
// persisted as a single blob under MetadataKey, so placement and expiry
// survive restarts. Expiry is lazy: entries are dropped when a read finds
// them stale, or in bulk via CleanupExpired.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/eventlog"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/storage"
)

// Operation constants for consistent error reporting
const (
	opSet        = "cache.Set"
	opGet        = "cache.Get"
	opInvalidate = "cache.Invalidate"
	opClear      = "cache.ClearAll"
	opLoadIndex  = "cache.LoadIndex"
	opSaveIndex  = "cache.SaveIndex"
)

const (
	// MetadataKey is the small-tier key holding the serialized index.
	MetadataKey = "cache/metadata"

	// objPrefix namespaces small-tier value keys.
	objPrefix = "cache/obj/"

	// DefaultSizeThreshold is the serialized size, in bytes, at which a
	// value moves to the file tier.
	DefaultSizeThreshold = 100_000
)

// DataType categorizes cached entries for bulk invalidation and statistics.
type DataType string

const (
	DataOrders    DataType = "orders"
	DataProducts  DataType = "products"
	DataDashboard DataType = "dashboard"
	DataOther     DataType = "other"
)

// Metadata describes one cached entry.
type Metadata struct {
	Key       string     `json:"key"`
	Size      int64      `json:"size"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	DataType  DataType   `json:"dataType"`
}

// Expired reports whether the entry is past its expiry at the given time.
// Entries without an expiry never expire.
func (m Metadata) Expired(at time.Time) bool {
	return m.ExpiresAt != nil && at.After(*m.ExpiresAt)
}

// Stats summarizes the cache, computed from the metadata index alone.
type Stats struct {
	TotalSize      int64              `json:"totalSize"`
	TotalEntries   int                `json:"totalEntries"`
	ValidEntries   int                `json:"validEntries"`
	ExpiredEntries int                `json:"expiredEntries"`
	SizeByType     map[DataType]int64 `json:"sizeByType"`
}

// Config holds configuration options for the Cache.
type Config struct {
	// Store is the small-object tier. It also holds the metadata index.
	// Required.
	Store storage.Store

	// FileStore is the large-object tier. Required.
	FileStore storage.Store

	// SizeThreshold is the serialized size, in bytes, at or above which a
	// value goes to the file tier. Defaults to DefaultSizeThreshold.
	SizeThreshold int

	// Events receives cache_cleared entries. Optional.
	Events *eventlog.Log

	// Logger defaults to the package logger with a "cache" component.
	Logger *logging.Logger

	// Now overrides the clock used for expiry decisions. Defaults to
	// time.Now.
	Now func() time.Time
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.SizeThreshold <= 0 {
		c.SizeThreshold = DefaultSizeThreshold
	}
	if c.Logger == nil {
		c.Logger = logging.WithComponent(logging.Component("cache"))
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Cache is a tiered key-value cache with per-key metadata.
//
// Reads take the read lock; every mutation, including lazy-expiry
// invalidation, takes the write lock, so tier bytes and the index stay
// consistent with each other.
type Cache struct {
	store     storage.Store
	fileStore storage.Store
	threshold int
	events    *eventlog.Log
	logger    *logging.Logger
	now       func() time.Time

	mu    sync.RWMutex
	index map[string]Metadata
}

// New creates a Cache and loads the persisted metadata index. A corrupt
// index is logged and replaced with an empty one; a failing store is an
// error.
func New(config *Config) (*Cache, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Store == nil {
		return nil, syncErrors.NewValidationError(opLoadIndex, fmt.Errorf("Store is required"))
	}
	if config.FileStore == nil {
		return nil, syncErrors.NewValidationError(opLoadIndex, fmt.Errorf("FileStore is required"))
	}
	config.setDefaults()

	c := &Cache{
		store:     config.Store,
		fileStore: config.FileStore,
		threshold: config.SizeThreshold,
		events:    config.Events,
		logger:    config.Logger,
		now:       config.Now,
		index:     make(map[string]Metadata),
	}

	if err := c.loadIndex(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadIndex(ctx context.Context) error {
	data, err := c.store.Get(ctx, MetadataKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return syncErrors.WrapOpComponent(err, opLoadIndex, "cache")
	}

	var index map[string]Metadata
	if err := json.Unmarshal(data, &index); err != nil {
		c.logger.Warn("Cache metadata index corrupt, starting empty",
			slog.String("error", err.Error()),
		)
		return nil
	}
	c.index = index
	return nil
}

// persistIndexLocked writes the index blob. Callers hold the write lock.
func (c *Cache) persistIndexLocked(ctx context.Context) error {
	data, err := json.Marshal(c.index)
	if err != nil {
		return syncErrors.NewSerializationError(opSaveIndex, err)
	}
	if err := c.store.Set(ctx, MetadataKey, data); err != nil {
		return syncErrors.WrapOpComponent(err, opSaveIndex, "cache")
	}
	return nil
}

// Set serializes value and stores it under key. A ttl of zero means the
// entry never expires. Serialization and storage errors surface to the
// caller.
func (c *Cache) Set(ctx context.Context, key string, value any, dt DataType, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return syncErrors.NewSerializationError(opSet, err)
	}
	return c.SetBytes(ctx, key, data, dt, ttl)
}

// SetBytes stores an already serialized value under key.
func (c *Cache) SetBytes(ctx context.Context, key string, data []byte, dt DataType, ttl time.Duration) error {
	if dt == "" {
		dt = DataOther
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	meta := Metadata{
		Key:       key,
		Size:      int64(len(data)),
		CreatedAt: c.now(),
		DataType:  dt,
	}
	if ttl > 0 {
		expires := meta.CreatedAt.Add(ttl)
		meta.ExpiresAt = &expires
	}

	// An entry lives in exactly one tier; writing one side clears the other.
	if len(data) >= c.threshold {
		if err := c.fileStore.Set(ctx, key, data); err != nil {
			return syncErrors.WrapOpComponent(err, opSet, "cache")
		}
		if err := c.store.Delete(ctx, objPrefix+key); err != nil {
			return syncErrors.WrapOpComponent(err, opSet, "cache")
		}
	} else {
		if err := c.store.Set(ctx, objPrefix+key, data); err != nil {
			return syncErrors.WrapOpComponent(err, opSet, "cache")
		}
		if err := c.fileStore.Delete(ctx, key); err != nil {
			return syncErrors.WrapOpComponent(err, opSet, "cache")
		}
	}

	c.index[key] = meta

	if err := c.persistIndexLocked(ctx); err != nil {
		return err
	}

	c.logger.Debug("Cache entry stored",
		slog.String("key", key),
		slog.Int64("size", meta.Size),
		slog.String("data_type", string(dt)),
		slog.Bool("file_tier", meta.Size >= int64(c.threshold)),
	)
	return nil
}

// Get reads the entry under key into dest. It returns false without an
// error when the key is absent, expired or unreadable; the error return is
// reserved for storage failures.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, meta, ok, err := c.getBytes(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// Undecodable values are dropped, not surfaced; the caller falls
		// back to a fresh fetch.
		c.logger.Warn("Cached value undecodable, dropping entry",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if dropErr := c.dropStale(ctx, key, meta); dropErr != nil {
			return false, dropErr
		}
		return false, nil
	}
	return true, nil
}

// GetBytes is Get without deserialization.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, _, ok, err := c.getBytes(ctx, key)
	return data, ok, err
}

func (c *Cache) getBytes(ctx context.Context, key string) ([]byte, Metadata, bool, error) {
	c.mu.RLock()
	meta, ok := c.index[key]
	if !ok {
		c.mu.RUnlock()
		return nil, Metadata{}, false, nil
	}
	if meta.Expired(c.now()) {
		c.mu.RUnlock()
		if err := c.dropStale(ctx, key, meta); err != nil {
			return nil, Metadata{}, false, err
		}
		return nil, Metadata{}, false, nil
	}

	data, err := c.readValue(ctx, key)
	c.mu.RUnlock()

	if errors.Is(err, storage.ErrNotFound) {
		// Metadata without bytes in either tier: drop the orphan.
		if dropErr := c.dropStale(ctx, key, meta); dropErr != nil {
			return nil, Metadata{}, false, dropErr
		}
		return nil, Metadata{}, false, nil
	}
	if err != nil {
		return nil, Metadata{}, false, syncErrors.WrapOpComponent(err, opGet, "cache")
	}
	return data, meta, true, nil
}

// readValue tries the small tier first, then the file tier, so entries stay
// reachable even if the size threshold changed since they were written.
func (c *Cache) readValue(ctx context.Context, key string) ([]byte, error) {
	data, err := c.store.Get(ctx, objPrefix+key)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return c.fileStore.Get(ctx, key)
}

// dropStale removes key if its metadata still matches what the caller saw
// before upgrading to the write lock. A concurrent Set wins the race.
func (c *Cache) dropStale(ctx context.Context, key string, seen Metadata) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.index[key]
	if !ok || !cur.CreatedAt.Equal(seen.CreatedAt) || cur.Size != seen.Size {
		return nil
	}
	return c.removeEntryLocked(ctx, key)
}

// deleteValueLocked removes the entry's bytes from both tiers.
func (c *Cache) deleteValueLocked(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, objPrefix+key); err != nil {
		return syncErrors.WrapOpComponent(err, opInvalidate, "cache")
	}
	if err := c.fileStore.Delete(ctx, key); err != nil {
		return syncErrors.WrapOpComponent(err, opInvalidate, "cache")
	}
	return nil
}

func (c *Cache) removeEntryLocked(ctx context.Context, key string) error {
	if err := c.deleteValueLocked(ctx, key); err != nil {
		return err
	}
	delete(c.index, key)
	return c.persistIndexLocked(ctx)
}

// Invalidate removes a single entry, bytes and metadata both. Invalidating
// an absent key is not an error.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeEntryLocked(ctx, key)
}

// InvalidateType removes every entry of the given data type.
func (c *Cache) InvalidateType(ctx context.Context, dt DataType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key, meta := range c.index {
		if meta.DataType == dt {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	for _, key := range keys {
		if err := c.deleteValueLocked(ctx, key); err != nil {
			return err
		}
		delete(c.index, key)
	}

	if err := c.persistIndexLocked(ctx); err != nil {
		return err
	}

	c.logger.Info("Cache entries invalidated",
		slog.String("data_type", string(dt)),
		slog.Int("count", len(keys)),
	)
	return nil
}

// ClearAll wipes both tiers and the index. Tier contents are enumerated
// directly so orphaned values without metadata are removed too.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	objKeys, err := c.store.List(ctx, objPrefix)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opClear, "cache")
	}
	for _, k := range objKeys {
		if err := c.store.Delete(ctx, k); err != nil {
			return syncErrors.WrapOpComponent(err, opClear, "cache")
		}
	}

	fileKeys, err := c.fileStore.List(ctx, "")
	if err != nil {
		return syncErrors.WrapOpComponent(err, opClear, "cache")
	}
	for _, k := range fileKeys {
		if err := c.fileStore.Delete(ctx, k); err != nil {
			return syncErrors.WrapOpComponent(err, opClear, "cache")
		}
	}

	c.index = make(map[string]Metadata)
	if err := c.persistIndexLocked(ctx); err != nil {
		return err
	}

	if c.events != nil {
		c.events.Record(eventlog.CacheCleared, "all cache entries removed", true, "")
	}
	c.logger.Info("Cache cleared",
		slog.Int("objects_removed", len(objKeys)+len(fileKeys)),
	)
	return nil
}

// CleanupExpired sweeps every expired entry and returns how many were
// removed. Reads do not depend on it; expiry is also enforced lazily.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, meta := range c.index {
		if meta.Expired(now) {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	for _, key := range expired {
		if err := c.deleteValueLocked(ctx, key); err != nil {
			return removed, err
		}
		delete(c.index, key)
		removed++
	}

	if err := c.persistIndexLocked(ctx); err != nil {
		return removed, err
	}

	c.logger.Info("Expired cache entries removed", slog.Int("count", removed))
	return removed, nil
}

// Stats aggregates the index in one pass; no running counters are kept.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{SizeByType: make(map[DataType]int64)}
	now := c.now()
	for _, meta := range c.index {
		stats.TotalEntries++
		stats.TotalSize += meta.Size
		stats.SizeByType[meta.DataType] += meta.Size
		if meta.Expired(now) {
			stats.ExpiredEntries++
		} else {
			stats.ValidEntries++
		}
	}
	return stats
}
