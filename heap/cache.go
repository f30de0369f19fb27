package heap

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/stats"
)

// CacheSlots is the capacity of the thread metadata cache.
const CacheSlots = 8

// Cache is a bounded lock-free pool of metadata blocks recycled across thread
// start and stop. Every operation is a bounded scan of single-word atomics.
type Cache struct {
	slots [CacheSlots]atomic.Pointer[Block]
	os    OS
	stats *stats.Stats
	log   *slog.Logger
}

func newCache(os OS, st *stats.Stats, log *slog.Logger) *Cache {
	return &Cache{os: os, stats: st, log: log}
}

// Acquire takes a block from the cache, or maps a new one from the OS.
// A cached block is returned in its freshly mapped state.
func (c *Cache) Acquire() (*Block, error) {
	for i := range c.slots {
		if c.slots[i].Load() == nil {
			continue
		}
		if b := c.slots[i].Swap(nil); b != nil {
			b.reset()
			c.stats.MetaCacheHits.Add(1)
			return b, nil
		}
	}
	c.stats.MetaCacheMisses.Add(1)

	page, err := c.alloc()
	if err != nil {
		// one retry before reporting failure
		page, err = c.alloc()
		if err != nil {
			return nil, fmt.Errorf("%w (%d bytes): %w", ErrOutOfMemory, c.blockSize(), err)
		}
	}
	return newBlock(page), nil
}

// Release returns b to the cache, or to the OS when every slot is taken.
// The main block is never released.
func (c *Cache) Release(b *Block) {
	if b == nil || b.page == nil {
		return
	}
	for i := range c.slots {
		if c.slots[i].CompareAndSwap(nil, b) {
			return
		}
	}
	c.free(b)
}

// Drain empties every slot, returning the cached blocks to the OS.
func (c *Cache) Drain() {
	for i := range c.slots {
		if c.slots[i].Load() == nil {
			continue
		}
		if b := c.slots[i].Swap(nil); b != nil {
			c.free(b)
		}
	}
}

// Len returns the number of cached blocks. Diagnostics only.
func (c *Cache) Len() int {
	n := 0
	for i := range c.slots {
		if c.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

func (c *Cache) blockSize() int {
	size := c.os.PageSize()
	if need := int(unsafe.Sizeof(blockLayout{})); size < need {
		size = need
	}
	return size
}

func (c *Cache) alloc() ([]byte, error) {
	size := c.blockSize()
	page, err := c.os.AllocPages(size)
	if err != nil {
		return nil, err
	}
	if len(page) < size {
		_ = c.os.FreePages(page)
		return nil, fmt.Errorf("short mapping: got %d bytes, want %d", len(page), size)
	}
	c.stats.MetaOSAllocs.Add(int64(len(page)))
	return page, nil
}

func (c *Cache) free(b *Block) {
	page := b.page
	b.page, b.mem = nil, nil
	// detach from the page before it is unmapped
	b.heap = Heap{st: new(heapState)}
	b.data = ThreadData{st: new(threadState)}
	if err := c.os.FreePages(page); err != nil {
		c.log.Warn("heap: unable to free thread metadata", "bytes", len(page), "err", err)
		return
	}
	c.stats.MetaOSFrees.Add(int64(len(page)))
}
