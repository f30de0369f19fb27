package segment

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/bins"
	"github.com/joshuapare/heapkit/internal/options"
	"github.com/joshuapare/heapkit/internal/osmem"
)

func newTestProcess(t *testing.T) (*heap.Process, *Manager) {
	t.Helper()
	m := NewManager(nil)
	sys := osmem.New()
	t.Cleanup(func() { _ = sys.Release() })
	p, err := heap.NewProcess(heap.Config{
		OS:       sys,
		Options:  options.NewWithEnv(func(string) (string, bool) { return "", false }),
		Segments: m,
	})
	require.NoError(t, err)
	p.Init()
	return p, m
}

// base keeps test thread ids clear of real OS thread ids.
const base = 1 << 40

func activeThread(t *testing.T, p *heap.Process, id uint64) *heap.Thread {
	t.Helper()
	th := p.NewThread(id)
	require.NoError(t, p.ThreadInit(th))
	return th
}

// TestManager_AddPages tests page and segment accounting.
func TestManager_AddPages(t *testing.T) {
	p, m := newTestProcess(t)
	th := activeThread(t, p, base+1)
	h := th.Default()

	m.AddPages(h, 3, 4<<20)
	m.AddPages(h, 2, 0)

	assert.Equal(t, int64(5), h.PageCount())
	q := h.Queue(bins.PageBinFull)
	assert.Equal(t, uint32(5), q.Last-q.First+1)
	count, size := h.Data().Segments()
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(4<<20), size)
	assert.Equal(t, int64(5), h.Data().Stats().Pages.Load().Current)

	m.AddPages(h, 0, 0)
	m.AddPages(p.NewThread(base+2).Default(), 4, 0)
	assert.Equal(t, int64(5), h.PageCount(), "empty and placeholder adds are ignored")
}

// TestManager_DeleteHeapMovesPages tests that a deleted heap's pages go to the backing heap.
func TestManager_DeleteHeapMovesPages(t *testing.T) {
	p, m := newTestProcess(t)
	th := activeThread(t, p, base+1)
	backing := th.Default()

	extra, err := p.NewHeap(th)
	require.NoError(t, err)
	m.AddPages(extra, 7, 0)
	m.AddPages(backing, 1, 0)

	require.NoError(t, p.DeleteHeap(th, extra))
	assert.Equal(t, int64(8), backing.PageCount())
	assert.Zero(t, extra.PageCount())
	assert.Zero(t, extra.Queue(bins.PageBinFull).First)
	assert.Equal(t, int64(1), m.Counters().Deleted)
}

// TestManager_AbandonAndReclaim tests the abandoned pool across thread exit.
func TestManager_AbandonAndReclaim(t *testing.T) {
	p, m := newTestProcess(t)

	a := activeThread(t, p, base+1)
	m.AddPages(a.Default(), 6, 8<<20)
	extra, err := p.NewHeap(a)
	require.NoError(t, err)
	m.AddPages(extra, 4, 0)

	p.ThreadDone(a)

	c := m.Counters()
	assert.Equal(t, int64(1), c.Deleted)
	assert.Equal(t, int64(1), c.Abandoned)
	assert.Equal(t, int64(10), c.PagesAbandoned)
	assert.Equal(t, int64(10), c.PoolPages)
	assert.Equal(t, int64(1), m.Pool().Len())
	assert.Equal(t, int64(10), p.Stats().PagesAbandoned.Current, "merged into the process at exit")

	b := activeThread(t, p, base+2)
	require.Equal(t, int64(10), m.Reclaim(b.Default()))
	assert.Equal(t, int64(10), b.Default().PageCount())
	count, size := b.Default().Data().Segments()
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(8<<20), size)
	assert.Equal(t, int64(10), b.Default().Data().Stats().PagesReclaimed.Load().Total)
	assert.Zero(t, m.Pool().Pages())
	assert.Zero(t, m.Reclaim(b.Default()), "the pool is empty")
}

// TestManager_AbandonEmpty tests that a thread without pages leaves nothing behind.
func TestManager_AbandonEmpty(t *testing.T) {
	p, m := newTestProcess(t)

	a := activeThread(t, p, base+1)
	p.ThreadDone(a)

	assert.Zero(t, m.Counters().Abandoned)
	assert.Zero(t, m.Pool().Len())
}

// TestManager_Collect tests reclaim on collect and freeing on forced collect.
func TestManager_Collect(t *testing.T) {
	p, m := newTestProcess(t)

	for id := uint64(base + 1); id < base+4; id++ {
		th := activeThread(t, p, id)
		m.AddPages(th.Default(), 2, 0)
		p.ThreadDone(th)
	}
	require.Equal(t, int64(3), m.Pool().Len())

	b := activeThread(t, p, base+10)
	p.Collect(b, false)
	assert.Equal(t, int64(6), b.Default().PageCount())

	c := activeThread(t, p, base+11)
	m.AddPages(c.Default(), 5, 0)
	p.ThreadDone(c)

	p.Done()
	got := m.Counters()
	assert.Equal(t, int64(5), got.PagesFreed)
	assert.Equal(t, int64(2), got.Collects)
	assert.Zero(t, got.PoolPages)
}

// TestManager_DestroyPages tests unconditional page release.
func TestManager_DestroyPages(t *testing.T) {
	p, m := newTestProcess(t)
	th := activeThread(t, p, base+1)
	h := th.Default()

	m.AddPages(h, 4, 1<<20)
	m.DestroyPages(h)

	assert.Zero(t, h.PageCount())
	count, _ := h.Data().Segments()
	assert.Zero(t, count)
	st := h.Data().Stats()
	assert.Zero(t, st.Pages.Load().Current)
	assert.Zero(t, st.Reserved.Load().Current)
	assert.Equal(t, int64(4), m.Counters().PagesDestroyed)
}

// TestAbandonedPool_Concurrent tests concurrent pushes and drains.
func TestAbandonedPool_Concurrent(t *testing.T) {
	var pool AbandonedPool

	const pushers = 8
	const each = 500

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		popped int64
	)
	for range pushers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				pool.Push(&Abandoned{Pages: 1})
			}
		}()
	}
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				n := int64(len(pool.PopAll()))
				mu.Lock()
				popped += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	popped += int64(len(pool.PopAll()))

	assert.Equal(t, int64(pushers*each), popped)
	assert.Zero(t, pool.Len())
	assert.Zero(t, pool.Pages())
}
