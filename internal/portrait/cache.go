package portrait

import (
	"image"
	"log/slog"
	"sync"

	"github.com/corona10/goimagehash"
)

// Cache remembers analyses by perceptual hash so re-uploading the same photo
// skips the model calls.
type Cache struct {
	mu          sync.Mutex
	entries     []cacheEntry
	maxSize     int
	maxDistance int
}

type cacheEntry struct {
	hash      *goimagehash.ImageHash
	reference bool
	analysis  Analysis
}

// NewCache creates a cache holding at most maxSize analyses.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{maxSize: maxSize, maxDistance: MaxHashDistance}
}

// Hash computes the perceptual hash used as cache key.
func Hash(img image.Image) (*goimagehash.ImageHash, error) {
	return goimagehash.PerceptionHash(img)
}

// Get returns the analysis of a photo within MaxHashDistance of hash.
func (c *Cache) Get(hash *goimagehash.ImageHash, reference bool) (Analysis, bool) {
	if hash == nil {
		return Analysis{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.reference != reference {
			continue
		}
		dist, err := e.hash.Distance(hash)
		if err != nil {
			continue
		}
		if dist <= c.maxDistance {
			slog.Debug("analysis cache hit", "distance", dist)
			return e.analysis, true
		}
	}
	return Analysis{}, false
}

// Put stores an analysis, evicting the oldest entry when full.
func (c *Cache) Put(hash *goimagehash.ImageHash, reference bool, a Analysis) {
	if hash == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, cacheEntry{hash: hash, reference: reference, analysis: a})
	if len(c.entries) > c.maxSize {
		c.entries = c.entries[len(c.entries)-c.maxSize:]
	}
}

// Len returns the number of cached analyses.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
