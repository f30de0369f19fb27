// Package osmem provides the OS layer used by the allocator core: page
// mapping, entropy, CPU feature probing, huge page and region reservation, and
// OS thread identity.
package osmem

import (
	"errors"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/prng"
)

const (
	// standardPageSize is the typical OS page size (4KB), used until Init runs.
	standardPageSize = 4096

	// largePageSize is the transparent huge page size (2MiB).
	largePageSize = 2 << 20

	// hugePageSize is the size of one reserved huge OS page (1GiB).
	hugePageSize = 1 << 30
)

var (
	// ErrUnsupported indicates the platform lacks the requested facility.
	ErrUnsupported = errors.New("osmem: not supported on this platform")

	// ErrTimeout indicates a reservation ran out of time before completing.
	ErrTimeout = errors.New("osmem: reservation timed out")

	// ErrBadSize indicates a non-positive or unaligned size.
	ErrBadSize = errors.New("osmem: bad size")
)

// Counters are the OS layer's activity counts.
type Counters struct {
	Allocs      uint64 // successful AllocPages calls
	Frees       uint64 // successful FreePages calls
	Mapped      int64  // bytes currently mapped through AllocPages
	HugePages   uint64 // huge pages reserved
	RegionBytes int64  // bytes reserved through ReserveRegion
}

// region is a reserved mapping kept for the lifetime of the System.
type region struct {
	mem  []byte
	next *region
}

// System is the OS layer of the running platform.
//
// Safe for concurrent use.
type System struct {
	pageSize  atomic.Int64
	features  atomic.Pointer[Features]
	seedCount atomic.Uint64

	allocs      atomic.Uint64
	frees       atomic.Uint64
	mapped      atomic.Int64
	hugePages   atomic.Uint64
	regionBytes atomic.Int64
	regions     atomic.Pointer[region]
}

// New returns the OS layer. Init must be called before PageSize reports the
// real page size.
func New() *System {
	sys := &System{}
	sys.pageSize.Store(standardPageSize)
	return sys
}

// Init probes static OS parameters.
func (sys *System) Init() {
	if sz := os.Getpagesize(); sz > 0 {
		sys.pageSize.Store(int64(sz))
	}
}

// PageSize returns the OS page size in bytes.
func (sys *System) PageSize() int {
	return int(sys.pageSize.Load())
}

// LargePageSize returns the transparent huge page size in bytes.
func (sys *System) LargePageSize() int {
	return largePageSize
}

// AllocPages maps size bytes of zeroed, private, read-write memory.
// size is rounded up to a whole number of pages.
func (sys *System) AllocPages(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	size = alignUp(size, sys.PageSize())
	mem, err := mapPages(size)
	if err != nil {
		return nil, err
	}
	sys.allocs.Add(1)
	sys.mapped.Add(int64(len(mem)))
	return mem, nil
}

// FreePages unmaps memory returned by AllocPages.
// Freeing an empty slice is a no-op.
func (sys *System) FreePages(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	n := len(mem)
	if err := unmapPages(mem); err != nil {
		return err
	}
	sys.frees.Add(1)
	sys.mapped.Add(-int64(n))
	return nil
}

// RandomBytes fills b with strong OS entropy, reporting false if none is available.
func (sys *System) RandomBytes(b []byte) bool {
	return randomBytes(b)
}

// WeakSeed returns a nonzero seed mixed from the clock, the process id, a
// code address and a per-System counter.
func (sys *System) WeakSeed() uint64 {
	x := uint64(uintptr(unsafe.Pointer(sys)))
	x ^= uint64(time.Now().UnixNano())
	x ^= uint64(os.Getpid()) << 32
	x ^= sys.seedCount.Add(1) * 0x9e3779b97f4a7c15
	// a few data-dependent rounds
	rounds := ((x ^ (x >> 17)) & 0x0f) + 1
	for range rounds {
		x = prng.Shuffle(x)
	}
	if x == 0 {
		x = 1
	}
	return x
}

// ThreadID returns the id of the calling OS thread, or 0 if the platform
// cannot report one. Callers that need a stable id must lock the goroutine to
// its OS thread first.
func (sys *System) ThreadID() uint64 {
	return threadID()
}

// ReserveHugePagesAt reserves pages 1GiB huge pages on NUMA node numaNode,
// stopping when timeout elapses. It returns the number reserved.
func (sys *System) ReserveHugePagesAt(pages, numaNode int, timeout time.Duration) (int, error) {
	if pages <= 0 {
		return 0, nil
	}
	deadline := time.Now().Add(timeout)
	reserved := 0
	for reserved < pages {
		if timeout > 0 && time.Now().After(deadline) {
			return reserved, ErrTimeout
		}
		mem, err := mapHuge(hugePageSize, numaNode)
		if err != nil {
			return reserved, err
		}
		sys.keep(mem)
		sys.hugePages.Add(1)
		reserved++
	}
	return reserved, nil
}

// ReserveHugePagesInterleave reserves pages huge pages spread over numaNodes
// nodes (0 means all nodes known to the OS layer, treated as one).
func (sys *System) ReserveHugePagesInterleave(pages, numaNodes int, timeout time.Duration) (int, error) {
	if pages <= 0 {
		return 0, nil
	}
	if numaNodes <= 0 {
		numaNodes = 1
	}
	deadline := time.Now().Add(timeout)
	total := 0
	for node := range numaNodes {
		share := pages / numaNodes
		if node < pages%numaNodes {
			share++
		}
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			return total, ErrTimeout
		}
		n, err := sys.ReserveHugePagesAt(share, node, remaining)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReserveRegion reserves size bytes of address space, committing it when
// commit is set and advising large pages when allowLarge is set.
func (sys *System) ReserveRegion(size int, commit, allowLarge bool) error {
	if size <= 0 {
		return ErrBadSize
	}
	size = alignUp(size, sys.PageSize())
	mem, err := reservePages(size, commit)
	if err != nil {
		return err
	}
	if allowLarge && commit {
		adviseLarge(mem)
	}
	sys.keep(mem)
	sys.regionBytes.Add(int64(size))
	return nil
}

// Counters returns a snapshot of the OS layer's activity.
func (sys *System) Counters() Counters {
	return Counters{
		Allocs:      sys.allocs.Load(),
		Frees:       sys.frees.Load(),
		Mapped:      sys.mapped.Load(),
		HugePages:   sys.hugePages.Load(),
		RegionBytes: sys.regionBytes.Load(),
	}
}

// Release unmaps every reserved region and huge page.
func (sys *System) Release() error {
	var errs []error
	for r := sys.regions.Swap(nil); r != nil; r = r.next {
		if err := unmapPages(r.mem); err != nil {
			errs = append(errs, err)
		}
	}
	sys.hugePages.Store(0)
	sys.regionBytes.Store(0)
	return errors.Join(errs...)
}

// keep pushes mem onto the reserved region stack.
func (sys *System) keep(mem []byte) {
	r := &region{mem: mem}
	for {
		head := sys.regions.Load()
		r.next = head
		if sys.regions.CompareAndSwap(head, r) {
			return
		}
	}
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
