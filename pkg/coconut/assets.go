package coconut

import (
	"context"
	"errors"
	"time"
)

const (
	metricNamespaceImage = "image"
	metricNamespaceMeta  = "meta"
	tierMemory           = "memory"
	tierStorage          = "storage"
)

// AssetCache is the two-tier recipe asset cache: an in-memory LRU in front of
// durable Storage.
//
// The cache is strictly an optimisation. Read failures are logged and reported
// as a miss; write failures are logged and swallowed. Absence of an entry is
// always a legal state that callers handle by fetching again.
type AssetCache struct {
	hot     *LRUCache
	storage Storage
	logger  Logger
	metrics Metrics
}

// AssetCacheOption configures an AssetCache.
type AssetCacheOption func(*AssetCache)

// WithHotTier sets the in-memory tier. Passing nil disables it.
func WithHotTier(hot *LRUCache) AssetCacheOption {
	return func(c *AssetCache) { c.hot = hot }
}

// WithCacheLogger sets the logger used for absorbed storage errors.
func WithCacheLogger(logger Logger) AssetCacheOption {
	return func(c *AssetCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheMetrics sets the metrics recorder.
func WithCacheMetrics(metrics Metrics) AssetCacheOption {
	return func(c *AssetCache) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// NewAssetCache creates a cache over storage with a default hot tier.
func NewAssetCache(storage Storage, opts ...AssetCacheOption) (*AssetCache, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	c := &AssetCache{
		hot:     NewLRUCache(0, 0),
		storage: storage,
		logger:  &NoopLogger{},
		metrics: &NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetImage returns the cached image for id.
func (c *AssetCache) GetImage(ctx context.Context, id RecipeID) (ImageAsset, bool) {
	if c.hot != nil {
		if asset, ok := c.hot.GetImage(id); ok {
			c.metrics.RecordCacheHit(metricNamespaceImage, tierMemory)
			return asset, true
		}
	}

	start := time.Now()
	asset, err := c.storage.GetImage(ctx, id)
	c.metrics.RecordStorageOperation("get_image", time.Since(start), ignoreNotFound(err))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("image cache read failed", recipeField(id), errField(err))
		}
		c.metrics.RecordCacheMiss(metricNamespaceImage)
		return "", false
	}

	c.metrics.RecordCacheHit(metricNamespaceImage, tierStorage)
	if c.hot != nil {
		c.hot.SetImage(id, asset)
	}
	return asset, true
}

// SaveImage persists asset for id. Invalid assets are not cached.
func (c *AssetCache) SaveImage(ctx context.Context, id RecipeID, asset ImageAsset) {
	if !asset.Valid() {
		c.logger.Warn("refusing to cache invalid image", recipeField(id))
		return
	}

	start := time.Now()
	written, err := c.storage.SaveImage(ctx, id, asset)
	c.metrics.RecordStorageOperation("save_image", time.Since(start), err)
	if err != nil {
		c.logger.Warn("image cache write failed", recipeField(id), errField(err))
	}
	if c.hot == nil {
		return
	}
	if err == nil && !written {
		// storage kept an older entry; let the next read pick it up
		c.hot.InvalidateImage(id)
		return
	}
	c.hot.SetImage(id, asset)
}

// GetMeta returns the cached metadata for id.
func (c *AssetCache) GetMeta(ctx context.Context, id RecipeID) (*Meta, bool) {
	if c.hot != nil {
		if meta, ok := c.hot.GetMeta(id); ok {
			c.metrics.RecordCacheHit(metricNamespaceMeta, tierMemory)
			return meta, true
		}
	}

	start := time.Now()
	meta, err := c.storage.GetMeta(ctx, id)
	c.metrics.RecordStorageOperation("get_meta", time.Since(start), ignoreNotFound(err))
	if err != nil || meta == nil {
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Warn("meta cache read failed", recipeField(id), errField(err))
		}
		c.metrics.RecordCacheMiss(metricNamespaceMeta)
		return nil, false
	}

	c.metrics.RecordCacheHit(metricNamespaceMeta, tierStorage)
	if c.hot != nil {
		c.hot.SetMeta(id, meta)
	}
	return meta, true
}

// SaveMeta persists meta for id. Records with negative values are not cached.
func (c *AssetCache) SaveMeta(ctx context.Context, id RecipeID, meta *Meta) {
	if meta == nil {
		return
	}
	if err := meta.Nutrition.Validate(); err != nil {
		c.logger.Warn("refusing to cache invalid nutrition", recipeField(id), errField(err))
		return
	}

	start := time.Now()
	written, err := c.storage.SaveMeta(ctx, id, meta)
	c.metrics.RecordStorageOperation("save_meta", time.Since(start), err)
	if err != nil {
		c.logger.Warn("meta cache write failed", recipeField(id), errField(err))
	}
	if c.hot == nil {
		return
	}
	if err == nil && !written {
		c.hot.InvalidateMeta(id)
		return
	}
	c.hot.SetMeta(id, meta)
}

// Stats returns hot tier statistics.
func (c *AssetCache) Stats() CacheStats {
	if c.hot == nil {
		return CacheStats{}
	}
	return c.hot.Stats()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
