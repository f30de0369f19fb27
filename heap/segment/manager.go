// Package segment is the default segment manager of a heapkit process.
//
// Segments and pages are accounted, not mapped: a heap's live page count, its
// full-page queue and its thread's segment totals are the only state. The
// manager decides where pages go when heaps are deleted and threads exit, and
// lets live threads reclaim what exited threads left behind.
package segment

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/bins"
)

// Counters is a snapshot of manager activity.
type Counters struct {
	Deleted        int64 // heaps deleted
	Abandoned      int64 // thread exits that left live pages
	PagesAbandoned int64
	PagesReclaimed int64
	PagesDestroyed int64
	PagesFreed     int64 // abandoned pages freed by a forced collect
	Collects       int64
	PoolPages      int64
}

// Manager implements heap.Segments. It is safe for concurrent use; each heap
// passed to it must be owned by the calling thread.
type Manager struct {
	pool AbandonedPool
	log  *slog.Logger

	pageID         atomic.Uint32
	deleted        atomic.Int64
	abandoned      atomic.Int64
	pagesAbandoned atomic.Int64
	pagesReclaimed atomic.Int64
	pagesDestroyed atomic.Int64
	pagesFreed     atomic.Int64
	collects       atomic.Int64
}

var _ heap.Segments = (*Manager)(nil)

// NewManager returns a manager logging to log, or discarding when nil.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{log: log}
}

// AddPages records n new live pages in h. When segSize > 0 the pages come
// from a new segment of segSize bytes.
func (m *Manager) AddPages(h *heap.Heap, n, segSize int64) {
	if n <= 0 || !h.IsInitialized() {
		return
	}
	st := h.Data().Stats()
	if segSize > 0 {
		h.Data().AddSegment(segSize)
		st.Segments.Increase(1)
		st.Reserved.Increase(segSize)
	}
	st.Pages.Increase(n)
	m.push(h, n)
}

// DeleteHeap moves the pages of h to its thread's backing heap.
func (m *Manager) DeleteHeap(h *heap.Heap) {
	if n := h.PageCount(); n > 0 {
		m.push(h.Data().Backing(), n)
	}
	m.drop(h)
	m.deleted.Add(1)
}

// Abandon moves the live pages and segments of h into the shared pool, where a
// live thread can reclaim them.
func (m *Manager) Abandon(h *heap.Heap) {
	n := h.PageCount()
	segs, size := h.Data().TakeSegments()
	m.drop(h)
	if n == 0 && segs == 0 {
		return
	}
	st := h.Data().Stats()
	st.PagesAbandoned.Increase(n)
	st.SegmentsAbandoned.Increase(segs)

	m.pool.Push(&Abandoned{
		ThreadID: h.ThreadID(),
		Cookie:   h.Cookie(),
		Pages:    n,
		Segments: segs,
		Bytes:    size,
	})
	m.abandoned.Add(1)
	m.pagesAbandoned.Add(n)
	m.log.Debug("segment: pages abandoned", "thread", h.ThreadID(), "pages", n, "segments", segs)
}

// Reclaim adopts every abandoned page set into h and returns the number of
// pages taken over.
func (m *Manager) Reclaim(h *heap.Heap) int64 {
	if !h.IsInitialized() {
		return 0
	}
	td := h.Data()
	st := td.Stats()
	var total int64
	for _, a := range m.pool.PopAll() {
		if a.Pages > 0 {
			m.push(h, a.Pages)
		}
		if a.Segments > 0 {
			per := a.Bytes / a.Segments
			for i := int64(1); i < a.Segments; i++ {
				td.AddSegment(per)
			}
			td.AddSegment(a.Bytes - per*(a.Segments-1))
		}
		st.PagesReclaimed.Add(a.Pages)
		total += a.Pages
	}
	if total > 0 {
		m.pagesReclaimed.Add(total)
		m.log.Debug("segment: pages reclaimed", "thread", h.ThreadID(), "pages", total)
	}
	return total
}

// DestroyPages frees every page and segment of h.
func (m *Manager) DestroyPages(h *heap.Heap) {
	n := h.PageCount()
	st := h.Data().Stats()
	st.Pages.Decrease(n)
	if segs, size := h.Data().TakeSegments(); segs > 0 {
		st.Segments.Decrease(segs)
		st.Reserved.Decrease(size)
	}
	m.drop(h)
	m.pagesDestroyed.Add(n)
}

// Collect reclaims abandoned pages into h. A forced collect instead frees the
// abandoned pages outright; it runs when the process is going away.
func (m *Manager) Collect(h *heap.Heap, force bool) {
	m.collects.Add(1)
	if !force {
		m.Reclaim(h)
		return
	}
	var freed int64
	for _, a := range m.pool.PopAll() {
		freed += a.Pages
	}
	if freed > 0 {
		m.pagesFreed.Add(freed)
		m.log.Debug("segment: abandoned pages freed", "pages", freed)
	}
}

// Pool returns the abandoned page pool.
func (m *Manager) Pool() *AbandonedPool {
	return &m.pool
}

// Counters returns a snapshot of the manager's activity.
func (m *Manager) Counters() Counters {
	return Counters{
		Deleted:        m.deleted.Load(),
		Abandoned:      m.abandoned.Load(),
		PagesAbandoned: m.pagesAbandoned.Load(),
		PagesReclaimed: m.pagesReclaimed.Load(),
		PagesDestroyed: m.pagesDestroyed.Load(),
		PagesFreed:     m.pagesFreed.Load(),
		Collects:       m.collects.Load(),
		PoolPages:      m.pool.Pages(),
	}
}

// push appends n fresh page handles to the full-page queue of h.
func (m *Manager) push(h *heap.Heap, n int64) {
	last := m.pageID.Add(uint32(n))
	q := h.Queue(bins.PageBinFull)
	if q.First == 0 {
		q.First = last - uint32(n) + 1
	}
	q.Last = last
	h.SetQueue(bins.PageBinFull, q)
	h.AdjustPages(n)
}

// drop empties every page queue of h.
func (m *Manager) drop(h *heap.Heap) {
	h.AdjustPages(-h.PageCount())
	for b := range bins.PageBins {
		h.SetQueue(b, heap.PageQueue{BlockSize: bins.PageBlockSize(b)})
	}
}
