package bufferpool

import (
	"sync"

	"github.com/gojodb/storagecore/core/storage/page"
)

// hashIndex maps (volume, page-id) to a frame index, sharded into
// buckets each guarded by its own mutex so lookups on pages that hash
// to different buckets never contend, rather than a single table-wide
// mutex.
type hashIndex struct {
	buckets []bucket
	mask    uint64
}

type bucket struct {
	mu      sync.Mutex
	entries map[page.Key]uint32
}

// newHashIndex builds a table with numBuckets rounded up to a power of
// two so key-to-bucket routing is a mask, not a modulo.
func newHashIndex(numBuckets int) *hashIndex {
	n := 1
	for n < numBuckets {
		n <<= 1
	}
	h := &hashIndex{buckets: make([]bucket, n), mask: uint64(n - 1)}
	for i := range h.buckets {
		h.buckets[i].entries = make(map[page.Key]uint32)
	}
	return h
}

func (h *hashIndex) bucketFor(k page.Key) *bucket {
	return &h.buckets[fnv64(uint64(k))&h.mask]
}

// Lookup returns the frame index currently holding key, if any.
func (h *hashIndex) Lookup(k page.Key) (uint32, bool) {
	b := h.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.entries[k]
	return f, ok
}

// Insert installs key -> frame. Callers must already hold the frame's
// latch exclusively and must not call Insert for a key already present
// (check with Lookup first under the same bucket discipline the buffer
// pool's fix path uses: Lookup miss, then Insert, racing other misses
// resolved by retry in the caller).
func (h *hashIndex) Insert(k page.Key, frame uint32) {
	b := h.bucketFor(k)
	b.mu.Lock()
	b.entries[k] = frame
	b.mu.Unlock()
}

// Remove deletes key from the index. A no-op if absent.
func (h *hashIndex) Remove(k page.Key) {
	b := h.bucketFor(k)
	b.mu.Lock()
	delete(b.entries, k)
	b.mu.Unlock()
}

// LookupOrInsert atomically checks for key and, if absent, installs it
// mapped to frame, all under one bucket-lock acquisition. Returns the
// frame that ended up owning the key and whether it was already there.
// This closes the race window a separate Lookup-then-Insert would leave
// open between two threads racing to install the same page.
func (h *hashIndex) LookupOrInsert(k page.Key, frame uint32) (uint32, bool) {
	b := h.bucketFor(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.entries[k]; ok {
		return existing, true
	}
	b.entries[k] = frame
	return frame, false
}

func fnv64(x uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < 8; i++ {
		h ^= x & 0xff
		h *= prime64
		x >>= 8
	}
	return h
}
