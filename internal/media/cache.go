package media

import (
	"container/list"
	"log/slog"

	"github.com/mesmerkit/mesmerd/internal/observability"
)

// ReleaseFunc is invoked when an evicted entry holds a GPU texture handle.
// The render layer owns the GPU resource; the cache only signals release.
type ReleaseFunc func(path string, textureID uint32)

// CachedImage wraps decoded image data with LRU bookkeeping and an optional
// GPU texture handle owned by the render layer.
type CachedImage struct {
	Data       *ImageData
	TextureID  uint32
	HasTexture bool

	element *list.Element
}

// ImageCache is a fixed-capacity LRU cache of decoded images keyed by path.
// Misses fire an async load request and return nil; the caller retries on a
// later tick. Confined to the tick thread, so no locking.
type ImageCache struct {
	capacity int
	entries  map[string]*CachedImage
	order    *list.List // front = most recently used
	loader   *AsyncImageLoader
	release  ReleaseFunc
	logger   *slog.Logger

	// requested tracks paths with a load requested but not yet completed,
	// so a miss retried every tick issues one request, not sixty.
	requested map[string]bool
}

// NewImageCache creates a cache with the given capacity (minimum 1) backed
// by the shared loader.
func NewImageCache(capacity int, loader *AsyncImageLoader, logger *slog.Logger) *ImageCache {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageCache{
		capacity:  capacity,
		entries:   make(map[string]*CachedImage),
		order:     list.New(),
		loader:    loader,
		logger:    observability.WithComponent(logger, "image_cache"),
		requested: make(map[string]bool),
	}
}

// WithReleaseFunc sets the GPU handle release callback.
func (c *ImageCache) WithReleaseFunc(release ReleaseFunc) *ImageCache {
	c.release = release
	return c
}

// GetImage returns the decoded image on a hit (touching LRU order) or nil
// on a miss after firing an async load. Non-blocking.
func (c *ImageCache) GetImage(path string) *ImageData {
	if entry, ok := c.entries[path]; ok {
		c.order.MoveToFront(entry.element)
		return entry.Data
	}

	if !c.requested[path] {
		if c.loader != nil && c.loader.RequestLoad(path) {
			c.requested[path] = true
		}
	}
	return nil
}

// GetImageSync decodes the path on the calling thread when it must not
// return empty-handed. Logged as a performance warning: this blocks the
// tick thread and is the exception, not the rule.
func (c *ImageCache) GetImageSync(path string) (*ImageData, error) {
	if entry, ok := c.entries[path]; ok {
		c.order.MoveToFront(entry.element)
		return entry.Data, nil
	}

	c.logger.Warn("synchronous image decode on tick thread",
		slog.String("path", path))

	data, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	c.insert(path, data)
	return data, nil
}

// Prefetch fires an async load without expecting a result this tick.
// Returns false when the request was not accepted.
func (c *ImageCache) Prefetch(path string) bool {
	if _, ok := c.entries[path]; ok {
		return false
	}
	if c.requested[path] {
		return false
	}
	if c.loader != nil && c.loader.RequestLoad(path) {
		c.requested[path] = true
		return true
	}
	return false
}

// Ingest inserts completed loads that belong to this cache. Paths this
// cache never requested are left for sibling caches and returned untaken.
// A failed load only clears the pending mark; the next miss issues a fresh
// request.
func (c *ImageCache) Ingest(loaded []LoadedImage) []LoadedImage {
	var rest []LoadedImage
	for _, li := range loaded {
		if !c.requested[li.Path] {
			rest = append(rest, li)
			continue
		}
		delete(c.requested, li.Path)
		if li.Err != nil {
			c.logger.Debug("load did not complete, clearing pending mark",
				slog.String("path", li.Path),
				slog.String("error", li.Err.Error()))
			continue
		}
		c.insert(li.Path, li.Data)
	}
	return rest
}

// SetTexture records a GPU texture handle for a cached path.
func (c *ImageCache) SetTexture(path string, textureID uint32) {
	if entry, ok := c.entries[path]; ok {
		entry.TextureID = textureID
		entry.HasTexture = true
	}
}

// Len returns the number of cached entries.
func (c *ImageCache) Len() int {
	return len(c.entries)
}

// Capacity returns the configured capacity.
func (c *ImageCache) Capacity() int {
	return c.capacity
}

// PendingRequests returns the number of loads requested and not yet ingested.
func (c *ImageCache) PendingRequests() int {
	return len(c.requested)
}

// Clear evicts everything, releasing GPU handles.
func (c *ImageCache) Clear() {
	for path, entry := range c.entries {
		c.releaseEntry(path, entry)
	}
	c.entries = make(map[string]*CachedImage)
	c.order.Init()
	c.requested = make(map[string]bool)
}

func (c *ImageCache) insert(path string, data *ImageData) {
	if entry, ok := c.entries[path]; ok {
		entry.Data = data
		c.order.MoveToFront(entry.element)
		return
	}

	entry := &CachedImage{Data: data}
	entry.element = c.order.PushFront(path)
	c.entries[path] = entry

	for len(c.entries) > c.capacity {
		c.evictLRU()
	}
}

func (c *ImageCache) evictLRU() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	path := oldest.Value.(string)
	entry := c.entries[path]

	c.order.Remove(oldest)
	delete(c.entries, path)
	c.releaseEntry(path, entry)
}

func (c *ImageCache) releaseEntry(path string, entry *CachedImage) {
	if entry.HasTexture && c.release != nil {
		c.release(path, entry.TextureID)
	}
}
