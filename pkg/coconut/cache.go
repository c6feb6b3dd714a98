package coconut

import (
	"sync"
	"time"
)

// CacheStats holds cache performance statistics
type CacheStats struct {
	ImageHits   int64
	ImageMisses int64
	MetaHits    int64
	MetaMisses  int64
	Evictions   int64
	Size        int
}

// cacheEntry wraps a cached value with its access time for LRU
type cacheEntry struct {
	value      interface{}
	accessTime time.Time
	sequence   int64 // For tiebreaking when access times are equal
}

// LRUCache is the in-memory hot tier of the asset cache.
// Assets never expire; entries only leave through LRU eviction.
type LRUCache struct {
	images      map[RecipeID]*cacheEntry
	meta        map[RecipeID]*cacheEntry
	maxImages   int
	maxMeta     int
	mu          sync.Mutex
	imageHits   int64
	imageMisses int64
	metaHits    int64
	metaMisses  int64
	evictions   int64
	sequence    int64
}

// NewLRUCache creates a new LRU cache with specified maximum sizes
func NewLRUCache(maxImages, maxMeta int) *LRUCache {
	if maxImages <= 0 {
		maxImages = 64 // images are large
	}
	if maxMeta <= 0 {
		maxMeta = 1000
	}

	return &LRUCache{
		images:    make(map[RecipeID]*cacheEntry, maxImages),
		meta:      make(map[RecipeID]*cacheEntry, maxMeta),
		maxImages: maxImages,
		maxMeta:   maxMeta,
	}
}

func (c *LRUCache) GetImage(id RecipeID) (ImageAsset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.images[id]
	if !exists {
		c.imageMisses++
		return "", false
	}
	c.touchLocked(entry)
	c.imageHits++
	asset, ok := entry.value.(ImageAsset)
	return asset, ok
}

// SetImage stores an image unless one is already cached.
func (c *LRUCache) SetImage(id RecipeID, asset ImageAsset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.images, c.maxImages, id, asset)
}

func (c *LRUCache) InvalidateImage(id RecipeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, id)
}

func (c *LRUCache) GetMeta(id RecipeID) (*Meta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.meta[id]
	if !exists {
		c.metaMisses++
		return nil, false
	}
	c.touchLocked(entry)
	c.metaHits++
	meta, ok := entry.value.(Meta)
	if !ok {
		return nil, false
	}
	// Return a copy to prevent external modifications
	return &meta, true
}

// SetMeta stores a metadata record unless one is already cached.
func (c *LRUCache) SetMeta(id RecipeID, meta *Meta) {
	if meta == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.meta, c.maxMeta, id, *meta)
}

func (c *LRUCache) InvalidateMeta(id RecipeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, id)
}

func (c *LRUCache) touchLocked(entry *cacheEntry) {
	entry.accessTime = time.Now()
	entry.sequence = c.sequence
	c.sequence++
}

func (c *LRUCache) setLocked(m map[RecipeID]*cacheEntry, limit int, id RecipeID, value interface{}) {
	if _, exists := m[id]; exists {
		return
	}

	// Evict least recently used (oldest accessTime, then oldest sequence)
	if len(m) >= limit {
		var oldestKey RecipeID
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for key, entry := range m {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = key
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if !first {
			delete(m, oldestKey)
			c.evictions++
		}
	}

	seq := c.sequence
	c.sequence++
	m[id] = &cacheEntry{
		value:      value,
		accessTime: time.Now(),
		sequence:   seq,
	}
}

func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = make(map[RecipeID]*cacheEntry, c.maxImages)
	c.meta = make(map[RecipeID]*cacheEntry, c.maxMeta)
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		ImageHits:   c.imageHits,
		ImageMisses: c.imageMisses,
		MetaHits:    c.metaHits,
		MetaMisses:  c.metaMisses,
		Evictions:   c.evictions,
		Size:        len(c.images) + len(c.meta),
	}
}
