package heap

import (
	"fmt"

	"github.com/joshuapare/heapkit/internal/prng"
)

// NewHeap creates a non-backing heap on t's thread-data, initializing t first
// if needed. The new heap draws its random context from the backing heap.
func (p *Process) NewHeap(t *Thread) (*Heap, error) {
	if err := p.ThreadInit(t); err != nil {
		return nil, err
	}
	td := t.heap.data
	backing := td.backing

	h := &Heap{st: new(heapState), data: td}
	h.st.threadID = t.id
	prng.Split(&backing.st.random, &h.st.random)
	h.st.cookie = h.st.random.Next() | 1
	h.st.keys = [2]uint64{h.st.random.Next(), h.st.random.Next()}
	resetPageQueues(h.st)
	h.active = true
	td.heaps = append(td.heaps, h)
	return h, nil
}

// DeleteHeap deletes non-backing heap h of t. Its pages move to the backing
// heap. If h was t's default heap the backing heap becomes the default.
func (p *Process) DeleteHeap(t *Thread, h *Heap) error {
	if !h.IsInitialized() {
		return ErrNotInitialized
	}
	if h.ThreadID() != t.id {
		return fmt.Errorf("%w: heap of thread %d used from thread %d", ErrForeignHeap, h.ThreadID(), t.id)
	}
	if h.IsBacking() {
		return ErrBackingHeap
	}
	if t.heap == h {
		t.heap = h.data.backing
	}
	p.deleteHeap(h)
	return nil
}

// SetDefault makes h the default heap of t and returns the previous default.
func (p *Process) SetDefault(t *Thread, h *Heap) (*Heap, error) {
	if t.state != ThreadActive || !h.IsInitialized() {
		return nil, ErrNotInitialized
	}
	if h.ThreadID() != t.id {
		return nil, fmt.Errorf("%w: heap of thread %d used from thread %d", ErrForeignHeap, h.ThreadID(), t.id)
	}
	prev := t.heap
	t.heap = h
	return prev, nil
}

func (p *Process) deleteHeap(h *Heap) {
	p.segments.DeleteHeap(h)
	h.data.remove(h)
	h.active = false
}
