package heap

import (
	"unsafe"

	"github.com/joshuapare/heapkit/heap/bins"
	"github.com/joshuapare/heapkit/internal/prng"
	"github.com/joshuapare/heapkit/internal/stats"
)

// MinPageSize is the smallest OS page a metadata block must fit in.
const MinPageSize = 4096

// The co-located heap and thread state must fit in one minimum OS page.
var _ [MinPageSize - unsafe.Sizeof(blockLayout{})]struct{}

// PageQueue is the queue of pages serving one block size.
// Page handles are owned by the segment layer; 0 means none.
type PageQueue struct {
	First     uint32
	Last      uint32
	BlockSize uint32
}

// SpanQueue is the queue of free spans with one slice count.
type SpanQueue struct {
	First      uint32
	Last       uint32
	SliceCount uint32
}

// heapState is the pointer-free state of a heap.
type heapState struct {
	threadID uint64
	cookie   uint64
	keys     [2]uint64
	pages    int64 // live pages, maintained by the segment layer
	random   prng.Context
	queues   [bins.PageBins]PageQueue
}

// segmentsState is the segment-management substate of a thread.
type segmentsState struct {
	spans [bins.SpanBins]SpanQueue
	count int64
	size  int64
	stats *stats.Stats // same block
	os    *osState     // same block
}

// osState is the OS substate of a thread.
type osState struct {
	regionIdx uint64
	stats     *stats.Stats // same block
}

// threadState is the state of a thread-data.
type threadState struct {
	segments segmentsState
	os       osState
	stats    stats.Stats
}

// blockLayout is the image of a metadata block inside its OS page.
// Its only pointers are back-references into the same layout.
type blockLayout struct {
	heap   heapState
	thread threadState
}

// Block is the unit of thread metadata recycling: one OS page holding a heap
// and its thread-data.
type Block struct {
	page []byte // nil for the main block
	mem  *blockLayout
	heap Heap
	data ThreadData
}

// Heap is an allocation context.
type Heap struct {
	st     *heapState
	data   *ThreadData
	active bool
}

// ThreadData is the per-thread aggregate owning a thread's heaps.
type ThreadData struct {
	st      *threadState
	block   *Block
	backing *Heap
	heaps   []*Heap
}

// bind installs mem as the layout of b and wires every reference.
func (b *Block) bind(mem *blockLayout) {
	b.mem = mem
	b.heap = Heap{st: &mem.heap, data: &b.data}

	clear(b.data.heaps)
	heaps := append(b.data.heaps[:0], &b.heap)
	b.data = ThreadData{st: &mem.thread, block: b, backing: &b.heap, heaps: heaps}

	mem.thread.segments.stats = &mem.thread.stats
	mem.thread.segments.os = &mem.thread.os
	mem.thread.os.stats = &mem.thread.stats

	resetPageQueues(&mem.heap)
	resetSpanQueues(&mem.thread.segments)
}

// reset returns b to the state of a freshly mapped block.
func (b *Block) reset() {
	*b.mem = blockLayout{}
	b.bind(b.mem)
}

// newBlock overlays a block on an OS page.
func newBlock(page []byte) *Block {
	b := &Block{page: page}
	b.bind((*blockLayout)(unsafe.Pointer(&page[0])))
	return b
}

// Heap returns the block's backing heap.
func (b *Block) Heap() *Heap {
	return &b.heap
}

func resetPageQueues(st *heapState) {
	for i := range st.queues {
		st.queues[i] = PageQueue{BlockSize: bins.PageBlockSize(i)}
	}
}

func resetSpanQueues(st *segmentsState) {
	for i := range st.spans {
		st.spans[i] = SpanQueue{SliceCount: bins.SpanSlices(i)}
	}
}

// ThreadID returns the id of the owning thread; 0 for the placeholder heap.
func (h *Heap) ThreadID() uint64 {
	return h.st.threadID
}

// Cookie returns the heap's identity cookie, nonzero once initialized.
func (h *Heap) Cookie() uint64 {
	return h.st.cookie
}

// Keys returns the heap's two guard keys.
func (h *Heap) Keys() [2]uint64 {
	return h.st.keys
}

// IsInitialized reports whether h is an active heap.
func (h *Heap) IsInitialized() bool {
	return h != nil && h.active
}

// IsBacking reports whether h is its thread-data's backing heap.
func (h *Heap) IsBacking() bool {
	return h.data != nil && h.data.backing == h
}

// Owns reports whether h is bound to thread id.
func (h *Heap) Owns(id uint64) bool {
	return h.IsInitialized() && h.st.threadID == id
}

// Data returns the thread-data owning h; nil for the placeholder heap.
func (h *Heap) Data() *ThreadData {
	return h.data
}

// Queue returns the page queue of bin b.
func (h *Heap) Queue(b int) PageQueue {
	return h.st.queues[b]
}

// SetQueue replaces the page queue of bin b. Used by the segment layer.
func (h *Heap) SetQueue(b int, q PageQueue) {
	h.st.queues[b] = q
}

// PageCount returns the number of live pages owned by h.
func (h *Heap) PageCount() int64 {
	return h.st.pages
}

// AdjustPages changes the live page count of h. Used by the segment layer.
func (h *Heap) AdjustPages(delta int64) {
	h.st.pages += delta
}

// Backing returns the thread's backing heap.
func (td *ThreadData) Backing() *Heap {
	return td.backing
}

// Heaps returns a copy of the thread's heap list.
func (td *ThreadData) Heaps() []*Heap {
	out := make([]*Heap, len(td.heaps))
	copy(out, td.heaps)
	return out
}

// Stats returns the thread's aggregate statistics.
func (td *ThreadData) Stats() *stats.Stats {
	return &td.st.stats
}

// SegmentStats returns the statistics referenced by the segment substate.
func (td *ThreadData) SegmentStats() *stats.Stats {
	return td.st.segments.stats
}

// OSStats returns the statistics referenced by the OS substate.
func (td *ThreadData) OSStats() *stats.Stats {
	return td.st.os.stats
}

// SpanQueue returns the span queue of bin b.
func (td *ThreadData) SpanQueue(b int) SpanQueue {
	return td.st.segments.spans[b]
}

// Segments returns the number and total size of the thread's segments.
func (td *ThreadData) Segments() (count, size int64) {
	return td.st.segments.count, td.st.segments.size
}

// AddSegment records a segment of size bytes. Used by the segment layer.
func (td *ThreadData) AddSegment(size int64) {
	td.st.segments.count++
	td.st.segments.size += size
}

// RemoveSegment forgets a segment of size bytes. Used by the segment layer.
func (td *ThreadData) RemoveSegment(size int64) {
	td.st.segments.count--
	td.st.segments.size -= size
}

func (td *ThreadData) remove(h *Heap) {
	for i, x := range td.heaps {
		if x == h {
			last := len(td.heaps) - 1
			copy(td.heaps[i:], td.heaps[i+1:])
			td.heaps[last] = nil
			td.heaps = td.heaps[:last]
			return
		}
	}
}

// TakeSegments forgets every segment of the thread, returning what it held.
func (td *ThreadData) TakeSegments() (count, size int64) {
	count, size = td.st.segments.count, td.st.segments.size
	td.st.segments.count, td.st.segments.size = 0, 0
	return count, size
}
