// Package cache provides a bounded-by-bytes LRU cache for extractor raw
// chunk arrays, keyed by document ID, to support cheap reprocessing
// (spec §5: "A bounded cache (LRU by bytes) holds extractor raw-chunk
// arrays keyed by document_id"). hashicorp/golang-lru/v2 bounds by entry
// count, not bytes, so this wraps it with byte accounting and an eviction
// callback.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// RawChunkCache is a byte-bounded LRU cache of a document's raw extractor
// chunks.
type RawChunkCache struct {
	mu        sync.Mutex
	maxBytes  int64
	curBytes  int64
	sizes     map[uuid.UUID]int64
	inner     *lru.Cache[uuid.UUID, []*repository.RawChunk]
}

// NewRawChunkCache creates a cache bounded to maxBytes total. The
// underlying count-bounded lru.Cache is sized generously (effectively
// unbounded by count) since eviction here is driven by the byte
// accounting, not entry count.
func NewRawChunkCache(maxBytes int64) (*RawChunkCache, error) {
	c := &RawChunkCache{
		maxBytes: maxBytes,
		sizes:    make(map[uuid.UUID]int64),
	}
	inner, err := lru.NewWithEvict[uuid.UUID, []*repository.RawChunk](1<<20, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.inner = inner
	return c, nil
}

func (c *RawChunkCache) onEvict(key uuid.UUID, _ []*repository.RawChunk) {
	// Called with c.mu already held by the caller of the mutating lru
	// operation (Add/Remove); golang-lru invokes this synchronously.
	if sz, ok := c.sizes[key]; ok {
		c.curBytes -= sz
		delete(c.sizes, key)
	}
}

// Put stores the raw chunks for a document, evicting the oldest entries
// until the cache fits within maxBytes.
func (c *RawChunkCache) Put(documentID uuid.UUID, chunks []*repository.RawChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sz := chunkSetBytes(chunks)

	if old, ok := c.sizes[documentID]; ok {
		c.curBytes -= old
		delete(c.sizes, documentID)
	}

	c.inner.Add(documentID, chunks)
	c.sizes[documentID] = sz
	c.curBytes += sz

	for c.curBytes > c.maxBytes {
		oldestKey, _, ok := c.inner.GetOldest()
		if !ok {
			break
		}
		c.inner.Remove(oldestKey)
	}
}

// Get retrieves the cached raw chunks for a document, if present.
func (c *RawChunkCache) Get(documentID uuid.UUID) ([]*repository.RawChunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(documentID)
}

// Remove evicts a document's cached raw chunks, e.g. on explicit reprocess.
func (c *RawChunkCache) Remove(documentID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(documentID)
}

// Bytes returns the cache's current total byte size.
func (c *RawChunkCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func chunkSetBytes(chunks []*repository.RawChunk) int64 {
	var total int64
	for _, rc := range chunks {
		total += int64(len(rc.Content))
		for _, h := range rc.HeadingPath {
			total += int64(len(h))
		}
		total += int64(len(rc.BBoxes)) * 32
	}
	return total
}
