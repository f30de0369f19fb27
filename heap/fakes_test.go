package heap

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/options"
)

var errFakeOOM = errors.New("fake: out of memory")

type reserveCall struct {
	pages, node int
	timeout     time.Duration
}

type regionCall struct {
	size               int
	commit, allowLarge bool
}

// fakeOS hands out Go-allocated pages and records every call.
type fakeOS struct {
	pageSize  int
	noEntropy bool
	onSeed    func() // runs inside main heap bootstrap when set

	tid        atomic.Uint64
	inits      atomic.Int32
	cpus       atomic.Int32
	allocs     atomic.Int32
	frees      atomic.Int32
	failAllocs atomic.Int32 // fail this many upcoming allocations

	mu         sync.Mutex
	hugeAt     []reserveCall
	interleave []reserveCall
	regions    []regionCall
	seed       byte
}

func newFakeOS() *fakeOS {
	f := &fakeOS{pageSize: MinPageSize}
	f.tid.Store(1)
	return f
}

func (f *fakeOS) Init() { f.inits.Add(1) }
func (f *fakeOS) DetectCPU() { f.cpus.Add(1) }
func (f *fakeOS) PageSize() int { return f.pageSize }
func (f *fakeOS) ThreadID() uint64 { return f.tid.Load() }
func (f *fakeOS) WeakSeed() uint64 {
	if f.onSeed != nil {
		f.onSeed()
	}
	return 42
}

func (f *fakeOS) AllocPages(size int) ([]byte, error) {
	for {
		n := f.failAllocs.Load()
		if n <= 0 {
			break
		}
		if f.failAllocs.CompareAndSwap(n, n-1) {
			return nil, errFakeOOM
		}
	}
	f.allocs.Add(1)
	return make([]byte, size), nil
}

func (f *fakeOS) FreePages([]byte) error {
	f.frees.Add(1)
	return nil
}

func (f *fakeOS) RandomBytes(b []byte) bool {
	if f.noEntropy {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range b {
		f.seed++
		b[i] = f.seed
	}
	return true
}

func (f *fakeOS) ReserveHugePagesAt(pages, node int, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hugeAt = append(f.hugeAt, reserveCall{pages, node, timeout})
	return pages, nil
}

func (f *fakeOS) ReserveHugePagesInterleave(pages, nodes int, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interleave = append(f.interleave, reserveCall{pages, nodes, timeout})
	return pages, nil
}

func (f *fakeOS) ReserveRegion(size int, commit, allowLarge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regions = append(f.regions, regionCall{size, commit, allowLarge})
	return nil
}

// fakeSegments records which heaps the lifecycle handed over.
type fakeSegments struct {
	mu        sync.Mutex
	deleted   []*Heap
	abandoned []*Heap
	destroyed []*Heap
	collected []collectCall
}

type collectCall struct {
	heap  *Heap
	force bool
}

func (s *fakeSegments) DeleteHeap(h *Heap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, h)
}

func (s *fakeSegments) Abandon(h *Heap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = append(s.abandoned, h)
}

func (s *fakeSegments) DestroyPages(h *Heap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, h)
}

func (s *fakeSegments) Collect(h *Heap, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collected = append(s.collected, collectCall{h, force})
}

func (s *fakeSegments) abandonedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.abandoned)
}

type testEnv struct {
	p    *Process
	os   *fakeOS
	segs *fakeSegments
	opts *options.Store
}

// newTestProcess builds a process over fakes. env supplies HEAPKIT_* values.
func newTestProcess(t testing.TB, env map[string]string, mutate ...func(*Config)) *testEnv {
	t.Helper()
	e := &testEnv{
		os:   newFakeOS(),
		segs: &fakeSegments{},
		opts: options.NewWithEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}),
	}
	cfg := Config{
		OS:       e.os,
		Options:  e.opts,
		Segments: e.segs,
		Logger:   logger.New(logger.Options{}),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := NewProcess(cfg)
	require.NoError(t, err)
	e.p = p
	return e
}
