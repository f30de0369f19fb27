package heap

import (
	"time"

	"github.com/joshuapare/heapkit/internal/prng"
)

// OS is the low-level OS layer consumed by the lifecycle core.
//
// Implementations:
//   - osmem.System: mmap-backed pages, getrandom entropy, gettid thread ids
type OS interface {
	prng.Source

	// Init probes static OS parameters such as the page size.
	Init()

	// PageSize returns the OS page size in bytes.
	PageSize() int

	// AllocPages maps size bytes of zeroed memory.
	AllocPages(size int) ([]byte, error)

	// FreePages returns memory from AllocPages to the OS.
	FreePages(mem []byte) error

	// DetectCPU probes CPU features once.
	DetectCPU()

	// ThreadID returns the calling OS thread's id, or 0 if unknown.
	ThreadID() uint64

	// ReserveHugePagesAt reserves 1GiB pages on one NUMA node, returning how many succeeded.
	ReserveHugePagesAt(pages, numaNode int, timeout time.Duration) (int, error)

	// ReserveHugePagesInterleave reserves 1GiB pages spread across NUMA nodes.
	ReserveHugePagesInterleave(pages, numaNodes int, timeout time.Duration) (int, error)

	// ReserveRegion reserves a fixed block of OS memory for later use.
	ReserveRegion(size int, commit, allowLarge bool) error
}

// Options is the read side of the option store.
type Options interface {
	// Init reads option values from the environment. Called once by Load.
	Init()

	IsEnabled(name string) bool
	Get(name string) int64
	GetClamp(name string, lo, hi int64) int64
}

// Segments is the segment and page manager. It owns the pages behind every
// heap; the lifecycle core only tells it when heaps go away.
type Segments interface {
	// DeleteHeap hands the pages of a non-backing heap to its backing heap.
	DeleteHeap(h *Heap)

	// Abandon transfers the still-live pages of h to the shared reclaimable pool.
	Abandon(h *Heap)

	// DestroyPages frees every page of h regardless of live blocks.
	DestroyPages(h *Heap)

	// Collect returns free memory of h to the OS; force also abandons live pages.
	Collect(h *Heap, force bool)
}
